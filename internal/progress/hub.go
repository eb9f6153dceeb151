// Package progress fans generation progress out to in-process subscribers.
// Delivery is best-effort: only observers subscribed at publish time receive
// an event, slow observers are skipped, and nothing is replayed.
package progress

import (
	"sync"

	"worldforge/internal/domain"
)

const subscriberBuffer = 16

// Hub is a pub/sub channel keyed by job id.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.ProgressEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.ProgressEvent]struct{})}
}

// Subscribe registers an observer for the job and returns its event channel
// together with a cancel function. Cancel is idempotent and closes the
// channel so ranging readers terminate.
func (h *Hub) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[chan domain.ProgressEvent]struct{})
		h.subs[jobID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[jobID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish broadcasts the event to current subscribers of its job. A
// subscriber whose buffer is full misses the event rather than blocking the
// orchestrator.
func (h *Hub) Publish(event domain.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports how many observers the job currently has.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
