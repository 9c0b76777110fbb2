package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts events within a trailing duration, per key, without
// needing a dedicated calendar boundary. Used by the notification pipeline
// to cap how many alerts a channel receives per hour regardless of when the
// hour started.
type SlidingWindow struct {
	mu       sync.Mutex
	window   time.Duration
	events   map[string][]time.Time
	now      func() time.Time
}

// NewSlidingWindow creates a window of the given duration.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records an event for key and reports whether the count within the
// trailing window (including this event) is at or under limit.
func (w *SlidingWindow) Allow(key string, limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	events := w.events[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	kept = append(kept, now)
	w.events[key] = kept

	return len(kept) <= limit
}

// Count returns the number of events currently within the window for key.
func (w *SlidingWindow) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.window)
	n := 0
	for _, t := range w.events[key] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
