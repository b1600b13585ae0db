// Package ratelimit contains the per-connection message rate limiter for the
// signaling surface.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultMaxMessagesPerMinute is the per-connection inbound signaling budget.
const DefaultMaxMessagesPerMinute = 10

const windowLength = time.Minute

// SlidingWindow is a sliding 60-second window limiter over message arrival
// timestamps.
//
// The limit is enforced before a message is processed: Allow records the
// arrival and reports whether the message may proceed. Timestamps older than
// the window are pruned on every call, so memory per connection is bounded by
// the configured limit.
type SlidingWindow struct {
	mu sync.Mutex

	clock Clock
	limit int

	arrivals []time.Time
}

func NewSlidingWindow(clock Clock, limit int) *SlidingWindow {
	if clock == nil {
		clock = RealClock{}
	}
	if limit <= 0 {
		limit = DefaultMaxMessagesPerMinute
	}
	return &SlidingWindow{
		clock:    clock,
		limit:    limit,
		arrivals: make([]time.Time, 0, limit),
	}
}

// Allow reports whether one more message fits in the current window and, if
// so, records its arrival. A rejected message is not recorded: a client that
// keeps sending while throttled does not push its own recovery further out.
func (w *SlidingWindow) Allow() bool {
	now := w.clock.Now()
	cutoff := now.Add(-windowLength)

	w.mu.Lock()
	defer w.mu.Unlock()

	live := w.arrivals[:0]
	for _, t := range w.arrivals {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	w.arrivals = live

	if len(w.arrivals) >= w.limit {
		return false
	}

	w.arrivals = append(w.arrivals, now)
	return true
}

// Remaining returns how many messages the window currently has headroom for.
func (w *SlidingWindow) Remaining() int {
	now := w.clock.Now()
	cutoff := now.Add(-windowLength)

	w.mu.Lock()
	defer w.mu.Unlock()

	inWindow := 0
	for _, t := range w.arrivals {
		if t.After(cutoff) {
			inWindow++
		}
	}
	if inWindow >= w.limit {
		return 0
	}
	return w.limit - inWindow
}
