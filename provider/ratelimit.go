package provider

import (
	"sync"
	"time"
)

// RateWindow is a fixed-window request counter. A refused call is never
// counted against the window.
type RateWindow struct {
	mu    sync.Mutex
	limit int
	dur   time.Duration
	made  int
	start time.Time

	now func() time.Time
}

// NewRateWindow creates a window allowing limit requests per dur. A limit of
// zero means unlimited.
func NewRateWindow(limit int, dur time.Duration) *RateWindow {
	return &RateWindow{limit: limit, dur: dur, now: time.Now}
}

func (w *RateWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.start.IsZero() || now.Sub(w.start) >= w.dur {
		w.start = now
		w.made = 0
	}

	if w.limit > 0 && w.made >= w.limit {
		return false
	}
	w.made++
	return true
}

// Requests returns the count in the current window, used by the LEAST_LOADED
// selection strategy.
func (w *RateWindow) Requests() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.start.IsZero() && w.now().Sub(w.start) >= w.dur {
		return 0
	}
	return w.made
}

// RetryAfter returns how long until the current window resets.
func (w *RateWindow) RetryAfter() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.start.IsZero() {
		return 0
	}
	rem := w.dur - w.now().Sub(w.start)
	if rem < 0 {
		return 0
	}
	return rem
}
