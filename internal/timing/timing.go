package timing

import (
	"sync"
	"time"
)

// Tracker accumulates wall-clock durations per named stage. Safe for
// concurrent use; one tracker serves a whole run while documents record
// their stages from worker goroutines.
type Tracker struct {
	mu     sync.Mutex
	totals map[string]time.Duration
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{totals: make(map[string]time.Duration)}
}

// Track returns a stop function that records the elapsed time under the
// given stage name when called.
//
//	stop := tracker.Track("extracting")
//	defer stop()
func (t *Tracker) Track(stage string) func() {
	start := time.Now()
	return func() {
		t.Add(stage, time.Since(start))
	}
}

// Add records an already-measured duration under the given stage name.
func (t *Tracker) Add(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals[stage] += d
}

// Total returns the accumulated duration for one stage.
func (t *Tracker) Total(stage string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[stage]
}

// Milliseconds returns every stage total in milliseconds, keyed by stage
// name. The map is a copy.
func (t *Tracker) Milliseconds() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.totals))
	for stage, d := range t.totals {
		out[stage] = d.Milliseconds()
	}
	return out
}
