package command

import (
	"sync"
	"time"
)

const (
	defaultRateLimitEvents = 30
	defaultRateLimitWindow = 10 * time.Second
)

// RateLimiter is a per-session sliding-window limiter gating command
// dispatch, kept at this granularity deliberately: the gateway's
// socket-level inbound limiter is a separate, coarser token-bucket
// (internal/ws, golang.org/x/time/rate).
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, applying safe defaults for
// non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimitEvents
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time now should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
