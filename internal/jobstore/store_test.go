package jobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldforge/internal/domain"
)

func TestCreateAndGetSnapshot(t *testing.T) {
	store := New(Options{})
	id := store.Create(domain.Job{
		Owner:   domain.Owner{ID: "u1"},
		Concept: "ancient rome",
		Quality: domain.QualityStandard,
	})
	require.NotEmpty(t, id)

	job, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, "ancient rome", job.Concept)
	assert.False(t, job.CreatedAt.IsZero())

	// Mutating the snapshot must not leak back into the store.
	job.Concept = "mutated"
	job.Status = domain.JobStatusError
	again, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "ancient rome", again.Concept)
	assert.Equal(t, domain.JobStatusQueued, again.Status)
}

func TestGetUnknown(t *testing.T) {
	store := New(Options{})
	_, ok := store.Get("nope")
	assert.False(t, ok)
}

func TestMerge(t *testing.T) {
	store := New(Options{})
	id := store.Create(domain.Job{Concept: "reef"})

	err := store.Merge(id, func(j *domain.Job) {
		j.Status = domain.JobStatusCreatingWorld
	})
	require.NoError(t, err)

	job, _ := store.Get(id)
	assert.Equal(t, domain.JobStatusCreatingWorld, job.Status)

	assert.ErrorIs(t, store.Merge("nope", func(*domain.Job) {}), domain.ErrNotFound)
}

func TestTerminalStateLatches(t *testing.T) {
	store := New(Options{})
	id := store.Create(domain.Job{Concept: "reef"})

	require.NoError(t, store.Merge(id, func(j *domain.Job) {
		j.Status = domain.JobStatusComplete
		j.Result = &domain.JobResult{SceneURL: "https://cdn/scene.splat"}
	}))

	err := store.Merge(id, func(j *domain.Job) {
		j.Status = domain.JobStatusError
	})
	assert.ErrorIs(t, err, domain.ErrJobTerminal)

	job, _ := store.Get(id)
	assert.Equal(t, domain.JobStatusComplete, job.Status)
	assert.False(t, job.CompletedAt.IsZero())
}

func TestSweepEvictsOnlyExpiredTerminalJobs(t *testing.T) {
	store := New(Options{TTL: time.Hour, SweepInterval: time.Minute})

	doneID := store.Create(domain.Job{Concept: "old"})
	require.NoError(t, store.Merge(doneID, func(j *domain.Job) {
		j.Status = domain.JobStatusComplete
	}))
	runningID := store.Create(domain.Job{Concept: "running"})
	require.NoError(t, store.Merge(runningID, func(j *domain.Job) {
		j.Status = domain.JobStatusCreatingWorld
	}))

	// Move the clock two hours forward so the terminal job falls outside TTL.
	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	store.sweep()

	_, ok := store.Get(doneID)
	assert.False(t, ok)
	_, ok = store.Get(runningID)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}
