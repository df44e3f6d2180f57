package throttle

import (
	"sync"
	"time"
)

// RateLimiter caps firings per bucket key within a trailing window. Expired
// timestamps are purged lazily when a bucket is checked.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows map[string][]time.Time
}

// NewRateLimiter builds a limiter admitting at most limit firings per key in
// any trailing period. A non-positive limit admits everything.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, period: period, windows: make(map[string][]time.Time)}
}

// Allow admits a firing for key at now and records it, or rejects it when the
// bucket already holds limit firings within the window.
func (r *RateLimiter) Allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit <= 0 {
		return true
	}

	window := r.purge(key, now)
	if len(window) >= r.limit {
		return false
	}
	r.windows[key] = append(window, now)
	return true
}

// Count returns the number of firings for key still inside the window.
func (r *RateLimiter) Count(key string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.purge(key, now))
}

// Buckets returns the live firing count of every non-empty bucket.
func (r *RateLimiter) Buckets(now time.Time) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.windows))
	for key := range r.windows {
		if n := len(r.purge(key, now)); n > 0 {
			out[key] = n
		}
	}
	return out
}

// purge drops timestamps older than the window; the caller holds mu.
func (r *RateLimiter) purge(key string, now time.Time) []time.Time {
	window := r.windows[key]
	cutoff := now.Add(-r.period)
	idx := 0
	for idx < len(window) && !window[idx].After(cutoff) {
		idx++
	}
	if idx == len(window) {
		delete(r.windows, key)
		return nil
	}
	if idx > 0 {
		window = append(window[:0], window[idx:]...)
		r.windows[key] = window
	}
	return window
}
