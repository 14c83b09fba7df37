// Package ratelimit implements the fixed-window keyed limiter used by
// history requests, plus ulule/limiter guards for the HTTP surfaces.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a keyed fixed-window counter. Each key gets maxRequests per
// window; expired entries are swept by a background ticker so memory stays
// bounded without blocking callers.
type Window struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	entries map[string]*windowEntry

	done chan struct{}
	once sync.Once

	// now is swappable for tests
	now func() time.Time
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// NewWindow creates a limiter allowing maxRequests per window per key and
// starts its sweeper.
func NewWindow(maxRequests int, window time.Duration) *Window {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	w := &Window{
		maxRequests: maxRequests,
		window:      window,
		entries:     make(map[string]*windowEntry),
		done:        make(chan struct{}),
		now:         time.Now,
	}
	go w.sweepLoop()
	return w
}

// IsAllowed records a request for key and reports whether it is within the
// window's budget.
func (w *Window) IsAllowed(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	e, ok := w.entries[key]
	if !ok || !now.Before(e.resetAt) {
		w.entries[key] = &windowEntry{count: 1, resetAt: now.Add(w.window)}
		return true
	}
	if e.count >= w.maxRequests {
		return false
	}
	e.count++
	return true
}

// Remaining returns how many requests key has left in the current window.
func (w *Window) Remaining(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	e, ok := w.entries[key]
	if !ok || !now.Before(e.resetAt) {
		return w.maxRequests
	}
	if e.count >= w.maxRequests {
		return 0
	}
	return w.maxRequests - e.count
}

// Forget drops the state for a key, e.g. when its connection closes.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
}

// Close stops the sweeper. Safe to call more than once.
func (w *Window) Close() {
	w.once.Do(func() { close(w.done) })
}

func (w *Window) sweepLoop() {
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for key, e := range w.entries {
		if !now.Before(e.resetAt) {
			delete(w.entries, key)
		}
	}
}
