// Package jobstore holds the in-memory job table. Each job has exactly one
// writer (its own orchestrator goroutine); arbitrary readers poll status
// concurrently and always receive snapshot copies.
package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"worldforge/internal/domain"
)

// Options tunes the store. A zero TTL or SweepInterval disables eviction,
// which matches the default behavior: process restart is the only
// reclamation path.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Store is an in-memory table of job id to job state.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	opts Options
	now  func() time.Time
}

// New creates an empty store.
func New(opts Options) *Store {
	return &Store{
		jobs: make(map[string]*domain.Job),
		opts: opts,
		now:  time.Now,
	}
}

// Create registers the job and returns its id, generating a fresh one when
// the caller did not pre-assign it. The caller's struct is copied; later
// mutations go through Merge.
func (s *Store) Create(job domain.Job) string {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	job.ID = id
	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}

	s.mu.Lock()
	clone := job.Clone()
	s.jobs[id] = &clone
	s.mu.Unlock()
	return id
}

// Get returns a snapshot copy of the job, or false when the id is unknown.
func (s *Store) Get(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return job.Clone(), true
}

// Merge applies fn to the stored job under the write lock. Later writes win;
// there is no optimistic-concurrency check because each job has a single
// writer by construction. Once a job is terminal no further merge is
// applied, so complete/error/cancelled latch forever.
func (s *Store) Merge(id string, fn func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	fn(job)
	if job.Status.Terminal() && job.CompletedAt.IsZero() {
		job.CompletedAt = s.now()
	}
	return nil
}

// RunSweeper evicts terminal jobs older than the configured TTL until ctx is
// done. It is a no-op when eviction is disabled.
func (s *Store) RunSweeper(ctx context.Context) {
	if s.opts.TTL <= 0 || s.opts.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	cutoff := s.now().Add(-s.opts.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if job.Status.Terminal() && !job.CompletedAt.IsZero() && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// Len reports how many jobs the table currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
