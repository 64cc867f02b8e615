package timing

import (
	"sync"
	"testing"
	"time"
)

func TestTracker_TrackAccumulates(t *testing.T) {
	tr := NewTracker()
	stop := tr.Track("extracting")
	time.Sleep(5 * time.Millisecond)
	stop()

	if tr.Total("extracting") <= 0 {
		t.Fatal("expected non-zero duration for tracked stage")
	}
	if tr.Total("writing") != 0 {
		t.Fatal("expected zero duration for untracked stage")
	}
}

func TestTracker_AddFromMultipleGoroutines(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add("resolving", 2*time.Millisecond)
		}()
	}
	wg.Wait()

	if got := tr.Total("resolving"); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms, got %v", got)
	}
}

func TestTracker_Milliseconds(t *testing.T) {
	tr := NewTracker()
	tr.Add("segmenting", 1500*time.Microsecond)
	ms := tr.Milliseconds()
	if ms["segmenting"] != 1 {
		t.Fatalf("expected 1ms, got %d", ms["segmenting"])
	}
	ms["segmenting"] = 99
	if tr.Milliseconds()["segmenting"] != 1 {
		t.Fatal("expected Milliseconds to return a copy")
	}
}
