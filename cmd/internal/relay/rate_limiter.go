package relay

import (
	"sync"
	"time"
)

// RateLimiter admits at most limit events in any sliding window. It keeps the
// last limit timestamps in a ring.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	ring   []time.Time
	next   int
	full   bool
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{window: window, ring: make([]time.Time, limit)}
}

// Allow records an event at now if the window has room.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// ring[next] is the oldest admitted event once the ring is full.
	if r.full && now.Sub(r.ring[r.next]) < r.window {
		return false
	}
	r.ring[r.next] = now
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
	return true
}
