package tools

import (
	"slices"
	"sync"
)

// defaultWindowSize is the capacity of each tool's rolling window.
const defaultWindowSize = 100

// rollingWindow tracks the last N call latencies of one tool. It is a ring
// buffer; the error flag is stored per slot so the error rate always reflects
// the samples currently in the window. All methods are safe for concurrent
// use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []int64
	failed  []bool
	pos     int
	count   int
}

// newRollingWindow creates a window with the given capacity. A size of 0 or
// less defaults to [defaultWindowSize].
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{
		samples: make([]int64, size),
		failed:  make([]bool, size),
	}
}

// Record adds a latency measurement in milliseconds, overwriting the oldest
// one once the buffer is full.
func (w *rollingWindow) Record(latencyMs int64, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = latencyMs
	w.failed[w.pos] = isError
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

func (w *rollingWindow) windowLen() int {
	return min(w.count, len(w.samples))
}

func (w *rollingWindow) sorted() []int64 {
	n := w.windowLen()
	if n == 0 {
		return nil
	}
	// Before the first wrap the valid samples are 0..n-1; afterwards the
	// whole buffer is valid. Either way the first n slots hold them.
	cp := slices.Clone(w.samples[:n])
	slices.Sort(cp)
	return cp
}

// P50 returns the median latency in ms, or 0 without measurements.
func (w *rollingWindow) P50() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.sorted()
	if len(s) == 0 {
		return 0
	}
	return s[len(s)/2]
}

// P99 returns the 99th-percentile latency in ms, or 0 without measurements.
func (w *rollingWindow) P99() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.sorted()
	if len(s) == 0 {
		return 0
	}
	return s[int(float64(len(s)-1)*0.99)]
}

// ErrorRate returns the fraction of failed calls in the window (0.0–1.0).
func (w *rollingWindow) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.windowLen()
	if n == 0 {
		return 0
	}
	var failed int
	for _, f := range w.failed[:n] {
		if f {
			failed++
		}
	}
	return float64(failed) / float64(n)
}

// Count returns the total number of recorded calls, which may exceed the
// window capacity.
func (w *rollingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
