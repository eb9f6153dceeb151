// Package ratelimit provides sliding-window admission control per client
// identity. The limiter protects generation cost, not security, so state is
// process-local and resets on restart.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission check. RetryAfter is set only on
// denial and reports when the oldest in-window request will fall out.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter records admitted request timestamps per key inside a trailing
// window.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	entries     map[string][]time.Time
	now         func() time.Time
}

// New creates a limiter admitting at most maxRequests per key within window.
func New(window time.Duration, maxRequests int) *Limiter {
	return &Limiter{
		window:      window,
		maxRequests: maxRequests,
		entries:     make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Admit checks whether the key may issue another request now. Admitted
// requests consume quota; denied ones do not. Privileged callers must be
// filtered out by the caller before reaching the limiter.
func (l *Limiter) Admit(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)

	stamps := l.entries[key]
	if len(stamps) < l.maxRequests {
		l.entries[key] = append(stamps, now)
		return Decision{Allowed: true}
	}

	retryAfter := stamps[0].Add(l.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

// purge drops timestamps older than the window across all keys. Amortized
// over every Admit call; empty keys are removed so the table does not grow
// without bound.
func (l *Limiter) purge(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, stamps := range l.entries {
		idx := 0
		for idx < len(stamps) && !stamps[idx].After(cutoff) {
			idx++
		}
		if idx == len(stamps) {
			delete(l.entries, key)
			continue
		}
		if idx > 0 {
			l.entries[key] = append(stamps[:0:0], stamps[idx:]...)
		}
	}
}
