package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldforge/internal/domain"
)

func event(jobID string, percent int) domain.ProgressEvent {
	return domain.ProgressEvent{
		JobID:     jobID,
		Stage:     domain.JobStatusCreatingWorld,
		Percent:   percent,
		Timestamp: time.Now(),
	}
}

func TestPublishReachesCurrentSubscribers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(event("job-1", 40))

	select {
	case got := <-ch:
		assert.Equal(t, "job-1", got.JobID)
		assert.Equal(t, 40, got.Percent)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestPublishIsScopedToJob(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(event("job-2", 10))

	select {
	case got := <-ch:
		t.Fatalf("unexpected event for %s", got.JobID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("job-1")
	cancel()
	cancel() // idempotent

	assert.Equal(t, 0, hub.SubscriberCount("job-1"))
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	hub.Publish(event("job-1", 50))
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("job-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber buffer without ever reading.
		for i := 0; i < subscriberBuffer*4; i++ {
			hub.Publish(event("job-1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestLateSubscriberSeesNoReplay(t *testing.T) {
	hub := NewHub()
	hub.Publish(event("job-1", 15))

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	select {
	case <-ch:
		t.Fatal("no replay expected for late subscribers")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, hub.SubscriberCount("job-1"))
}
