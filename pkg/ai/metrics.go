package ai

import (
	"math"
	"sync"
	"time"
)

// MetricsTracker accumulates per-request ModelMetrics into running
// totals. The zero value is ready to use and safe for concurrent
// recording. DurationMs sums individual request time; WallClockMs spans
// from the first request after a reset to the most recent one, so
// overlapping requests do not inflate it.
type MetricsTracker struct {
	mu     sync.Mutex
	totals ModelMetrics
	first  time.Time
	last   time.Time
}

// Record folds one request's metrics into the totals.
func (t *MetricsTracker) Record(m ModelMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.first.IsZero() {
		// Record runs after the request finished; back-date the window
		// start to when the request began.
		t.first = now.Add(-time.Duration(m.DurationMs) * time.Millisecond)
	}
	t.last = now

	t.totals.InputTokens += m.InputTokens
	t.totals.OutputTokens += m.OutputTokens
	t.totals.TotalTokens += m.TotalTokens
	t.totals.DurationMs += m.DurationMs

	if t.totals.DurationMs > 0 {
		perSecond := float64(t.totals.TotalTokens) * 1000.0 / float64(t.totals.DurationMs)
		t.totals.TokenPerSecond = float32(math.Round(perSecond*100) / 100)
	}
}

// Reset clears the totals and the wall-clock window.
func (t *MetricsTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals = ModelMetrics{}
	t.first = time.Time{}
	t.last = time.Time{}
}

// Snapshot returns the accumulated metrics.
func (t *MetricsTracker) Snapshot() ModelMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.totals
	if !t.first.IsZero() {
		out.WallClockMs = t.last.Sub(t.first).Milliseconds()
	}
	return out
}
