package metrics

import (
	"fmt"
	"testing"
	"time"
)

func TestLatencyTrackerStats(t *testing.T) {
	lt := NewLatencyTracker(100)

	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}

	stats := lt.Stats()
	if stats.Count != 100 {
		t.Fatalf("count = %d, want 100", stats.Count)
	}
	if stats.Min != time.Millisecond {
		t.Errorf("min = %v, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("max = %v, want 100ms", stats.Max)
	}
	if stats.P50 < 40*time.Millisecond || stats.P50 > 60*time.Millisecond {
		t.Errorf("p50 = %v, want ~50ms", stats.P50)
	}
	if stats.P99 < 90*time.Millisecond {
		t.Errorf("p99 = %v, want >=90ms", stats.P99)
	}
}

func TestLatencyTrackerSlidingWindow(t *testing.T) {
	lt := NewLatencyTracker(10)

	for i := 0; i < 50; i++ {
		lt.Record(time.Millisecond)
	}

	stats := lt.Stats()
	if stats.Samples > 10 {
		t.Errorf("samples = %d, want <= 10", stats.Samples)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	lt := NewLatencyTracker(10)
	stats := lt.Stats()
	if stats.Count != 0 {
		t.Errorf("count = %d, want 0", stats.Count)
	}
}

func TestLatencyRegistryPerKey(t *testing.T) {
	r := NewLatencyRegistry(100, 10)

	r.Record("org_1", 10*time.Millisecond)
	r.Record("org_1", 20*time.Millisecond)
	r.Record("org_2", 5*time.Millisecond)

	if got := r.Stats("org_1").Count; got != 2 {
		t.Errorf("org_1 count = %d, want 2", got)
	}
	if got := r.Stats("org_2").Count; got != 1 {
		t.Errorf("org_2 count = %d, want 1", got)
	}
	if got := r.Stats("org_3").Count; got != 0 {
		t.Errorf("org_3 count = %d, want 0", got)
	}

	all := r.AllStats()
	if len(all) != 2 {
		t.Errorf("tracked orgs = %d, want 2", len(all))
	}
}

func TestLatencyRegistryOverflowBucket(t *testing.T) {
	r := NewLatencyRegistry(100, 3)

	for i := 0; i < 10; i++ {
		r.Record(fmt.Sprintf("org_%d", i), time.Millisecond)
	}

	all := r.AllStats()
	// 3 tracked orgs plus the overflow bucket
	if len(all) > 4 {
		t.Errorf("tracked keys = %d, want <= 4", len(all))
	}
	if _, ok := all[overflowKey]; !ok {
		t.Error("overflow bucket missing")
	}
}
