package auth

import (
	"sync"
	"time"
)

// RateLimiter is the sliding-window counter keyed by credential id of orig
// spec §4.1: a concurrent-safe, in-process map, single-writer per key
// (orig spec §5 "Shared resources").
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	window   time.Duration
	defaultN int
}

type window struct {
	start time.Time
	count int
	limit int
}

// NewRateLimiter builds a limiter with the given window size and default
// per-minute limit (orig spec §4.1: default 100 req/min, admin keys 1000).
func NewRateLimiter(windowSize time.Duration, defaultLimit int) *RateLimiter {
	return &RateLimiter{
		windows:  make(map[string]*window),
		window:   windowSize,
		defaultN: defaultLimit,
	}
}

// Allow reports whether credentialID may proceed under limit (0 means use
// the limiter's default), and if not, the seconds until the window resets
// (rounded up, per orig spec §4.1 retry_after_seconds).
func (r *RateLimiter) Allow(credentialID string, limit int, now time.Time) (allowed bool, retryAfterSeconds int) {
	if limit <= 0 {
		limit = r.defaultN
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[credentialID]
	if !ok || now.Sub(w.start) >= r.window {
		r.windows[credentialID] = &window{start: now, count: 1, limit: limit}
		return true, 0
	}
	if w.count >= limit {
		remaining := r.window - now.Sub(w.start)
		secs := int(remaining / time.Second)
		if remaining%time.Second != 0 {
			secs++
		}
		if secs < 1 {
			secs = 1
		}
		return false, secs
	}
	w.count++
	return true, 0
}

// Sweep drops windows that have fully elapsed, bounding the map's memory
// growth (orig spec §5 "rate-limiter map ... swept periodically").
func (r *RateLimiter) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, w := range r.windows {
		if now.Sub(w.start) >= r.window {
			delete(r.windows, k)
			n++
		}
	}
	return n
}
