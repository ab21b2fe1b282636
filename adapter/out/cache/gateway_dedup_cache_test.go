package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestDedup(t *testing.T, maxEntries int) *MemoryDedup {
	t.Helper()
	m := NewMemoryDedup(maxEntries, time.Hour)
	t.Cleanup(m.Stop)
	return m
}

func TestMemoryDedupFirstSeen(t *testing.T) {
	m := newTestDedup(t, 10)
	ctx := context.Background()

	fresh, err := m.SetIfAbsent(ctx, "evt_1", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent: %v", err)
	}
	if !fresh {
		t.Error("first sighting reported as duplicate")
	}

	fresh, err = m.SetIfAbsent(ctx, "evt_1", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent: %v", err)
	}
	if fresh {
		t.Error("second sighting reported as fresh")
	}
}

func TestMemoryDedupExpiry(t *testing.T) {
	m := newTestDedup(t, 10)
	ctx := context.Background()

	if fresh, _ := m.SetIfAbsent(ctx, "evt_1", 10*time.Millisecond); !fresh {
		t.Fatal("first sighting reported as duplicate")
	}
	time.Sleep(20 * time.Millisecond)
	if fresh, _ := m.SetIfAbsent(ctx, "evt_1", time.Minute); !fresh {
		t.Error("expired key still reported as duplicate")
	}
}

func TestMemoryDedupBounded(t *testing.T) {
	m := newTestDedup(t, 5)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		m.SetIfAbsent(ctx, fmt.Sprintf("evt_%d", i), time.Minute)
	}

	m.mu.Lock()
	size := len(m.entries)
	m.mu.Unlock()
	if size > 5 {
		t.Errorf("entries = %d, want <= 5", size)
	}
}

// erroringDedup always fails, standing in for an unreachable Redis.
type erroringDedup struct{}

func (erroringDedup) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestFallbackDedupDegrades(t *testing.T) {
	local := newTestDedup(t, 10)
	f := NewFallbackDedup(erroringDedup{}, local, nil)
	ctx := context.Background()

	fresh, err := f.SetIfAbsent(ctx, "evt_1", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent: %v", err)
	}
	if !fresh {
		t.Error("first sighting reported as duplicate")
	}
	if fresh, _ := f.SetIfAbsent(ctx, "evt_1", time.Minute); fresh {
		t.Error("duplicate missed by local fallback")
	}
}
