package metrics

import (
	"testing"
	"time"
)

func TestLatencyTracker_Stats(t *testing.T) {
	lt := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i)*time.Millisecond, i%10 == 0)
	}

	s := lt.Stats()
	if s.Count != 100 || s.Errors != 10 {
		t.Errorf("Count/Errors = %d/%d, want 100/10", s.Count, s.Errors)
	}
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 50*time.Millisecond {
		t.Errorf("P50 = %v, want 50ms", s.P50)
	}
}

func TestLatencyTracker_SlidingWindow(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 0; i < 25; i++ {
		lt.Record(time.Millisecond, false)
	}
	s := lt.Stats()
	if s.Samples > 10 {
		t.Errorf("Samples = %d, want <= 10", s.Samples)
	}
	if s.Count != 25 {
		t.Errorf("Count = %d, want 25", s.Count)
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	r.Record("send", time.Second, false)
	if len(r.Snapshot()) != 0 {
		t.Error("nil registry snapshot should be empty")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(50)
	r.Record("label", 2*time.Millisecond, false)
	r.Record("send", 5*time.Millisecond, true)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("stages = %d, want 2", len(snap))
	}
	if snap["send"]["errors"] != int64(1) {
		t.Errorf("send errors = %v", snap["send"]["errors"])
	}
}
