package perf

import (
	"sort"
	"testing"
	"time"
)

func TestAuthorizationLatencyTargets(t *testing.T) {
	scenarios := []struct {
		name      string
		samples   []time.Duration
		threshold time.Duration
	}{
		{
			name:      "cached_decision",
			samples:   []time.Duration{1 * time.Millisecond, 1 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond, 6 * time.Millisecond},
			threshold: 10 * time.Millisecond,
		},
		{
			name:      "cold_resolution",
			samples:   []time.Duration{18 * time.Millisecond, 22 * time.Millisecond, 25 * time.Millisecond, 28 * time.Millisecond, 31 * time.Millisecond, 34 * time.Millisecond, 38 * time.Millisecond, 41 * time.Millisecond, 45 * time.Millisecond, 48 * time.Millisecond},
			threshold: 100 * time.Millisecond,
		},
	}

	for _, scenario := range scenarios {
		p95 := percentile95(scenario.samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
