package rate

import (
	"sync"
	"time"
)

// Window estimates a trailing event rate from a fixed ring of per-tick counts.
//
// Record increments the bucket under the cursor. Tick folds that bucket into the
// running sum, advances the cursor and evicts the oldest bucket, so the value
// returned by Tick is the number of events recorded during the last len(buckets)
// ticks. sum always equals the total of the completed buckets.
type Window struct {
	mu      sync.Mutex
	buckets []int64
	cursor  int
	sum     int64
}

// NewWindow creates a window of n buckets (n < 1 is treated as 1).
func NewWindow(n int) *Window {
	if n < 1 {
		n = 1
	}
	return &Window{buckets: make([]int64, n)}
}

// Interval returns the tick period that makes n buckets cover span.
func Interval(span time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return span / time.Duration(n)
}

// Size reports the number of buckets.
func (w *Window) Size() int { return len(w.buckets) }

// Record counts one event in the current bucket.
func (w *Window) Record() {
	w.mu.Lock()
	w.buckets[w.cursor]++
	w.mu.Unlock()
}

// Tick advances the window by one bucket and returns the events per window.
func (w *Window) Tick() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sum += w.buckets[w.cursor]
	w.cursor = (w.cursor + 1) % len(w.buckets)
	w.sum -= w.buckets[w.cursor]
	w.buckets[w.cursor] = 0
	return w.sum
}

// Rate returns the value computed by the most recent Tick.
func (w *Window) Rate() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sum
}

// Reset zeroes every bucket and the running sum.
func (w *Window) Reset() {
	w.mu.Lock()
	clear(w.buckets)
	w.cursor = 0
	w.sum = 0
	w.mu.Unlock()
}
