// Package metrics tracks pipeline stage latencies with percentile summaries.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Latency Tracker with P50/P95/P99 Percentiles
// =============================================================================

// LatencyTracker keeps a sliding window of samples.
type LatencyTracker struct {
	mu         sync.Mutex
	samples    []int64 // microseconds
	maxSamples int
	count      int64
	errors     int64
}

// NewLatencyTracker creates a new latency tracker.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 500
	}
	return &LatencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

// Record records one observation.
func (lt *LatencyTracker) Record(d time.Duration, failed bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSamples {
		// Drop the oldest 10% at once to avoid shifting on every sample.
		drop := lt.maxSamples / 10
		if drop < 1 {
			drop = 1
		}
		lt.samples = lt.samples[drop:]
	}
	lt.samples = append(lt.samples, d.Microseconds())
	lt.count++
	if failed {
		lt.errors++
	}
}

// Stats returns a summary of the current window.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	n := len(lt.samples)
	if n == 0 {
		return LatencyStats{Count: lt.count, Errors: lt.errors}
	}

	sorted := make([]int64, n)
	copy(sorted, lt.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, s := range sorted {
		sum += s
	}

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Count:   lt.count,
		Errors:  lt.errors,
		Min:     us(sorted[0]),
		Max:     us(sorted[n-1]),
		Avg:     us(sum / int64(n)),
		P50:     us(percentile(sorted, 0.50)),
		P95:     us(percentile(sorted, 0.95)),
		P99:     us(percentile(sorted, 0.99)),
		Samples: n,
	}
}

func percentile(sorted []int64, p float64) int64 {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Errors  int64
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
	Samples int
}

// ToMap renders the stats in milliseconds for JSON output.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":       s.Count,
		"errors":      s.Errors,
		"min_ms":      ms(s.Min),
		"max_ms":      ms(s.Max),
		"avg_ms":      ms(s.Avg),
		"p50_ms":      ms(s.P50),
		"p95_ms":      ms(s.P95),
		"p99_ms":      ms(s.P99),
		"sample_size": s.Samples,
	}
}

// =============================================================================
// Stage Registry
// =============================================================================

// Registry holds one tracker per pipeline stage.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewRegistry creates a new registry.
func NewRegistry(windowSize int) *Registry {
	return &Registry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

// Record records a latency for stage. A nil registry ignores the call.
func (r *Registry) Record(stage string, d time.Duration, failed bool) {
	if r == nil {
		return
	}
	r.mu.RLock()
	tracker, ok := r.trackers[stage]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if tracker, ok = r.trackers[stage]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[stage] = tracker
		}
		r.mu.Unlock()
	}
	tracker.Record(d, failed)
}

// Snapshot returns every stage's stats rendered as maps.
func (r *Registry) Snapshot() map[string]map[string]any {
	if r == nil {
		return map[string]map[string]any{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]any, len(r.trackers))
	for name, t := range r.trackers {
		out[name] = t.Stats().ToMap()
	}
	return out
}

// Stats returns the stats of one stage.
func (r *Registry) Stats(stage string) LatencyStats {
	if r == nil {
		return LatencyStats{}
	}
	r.mu.RLock()
	tracker, ok := r.trackers[stage]
	r.mu.RUnlock()
	if !ok {
		return LatencyStats{}
	}
	return tracker.Stats()
}
