// Package cache provides the shared idempotency set for inbound ingestion.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gateway_server/core/port/out"
	"gateway_server/pkg/logger"
)

// =============================================================================
// Redis Dedup - shared across instances
// =============================================================================

const dedupKeyPrefix = "dedup:event:"

// RedisDedup is the shared dedup set backed by Redis SET NX.
type RedisDedup struct {
	client *redis.Client
}

// NewRedisDedup creates a Redis-backed dedup cache.
func NewRedisDedup(client *redis.Client) *RedisDedup {
	return &RedisDedup{client: client}
}

func (r *RedisDedup) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, dedupKeyPrefix+key, 1, ttl).Result()
}

// =============================================================================
// In-Memory Dedup - bounded TTL map
// =============================================================================

// MemoryDedup is a process-local dedup set with per-entry expiry and a
// periodic sweep. It admits occasional duplicate processing across
// instances; downstream consumers are idempotent.
type MemoryDedup struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	maxEntries int

	stop chan struct{}
	once sync.Once
}

// NewMemoryDedup creates an in-memory dedup set and starts its sweep.
func NewMemoryDedup(maxEntries int, sweepInterval time.Duration) *MemoryDedup {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	m := &MemoryDedup{
		entries:    make(map[string]time.Time),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go m.sweepLoop(sweepInterval)
	return m
}

// Stop terminates the sweep goroutine.
func (m *MemoryDedup) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *MemoryDedup) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expiry, ok := m.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	if len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

// evictOldest drops the entry closest to expiry. Assumes m.mu is held.
func (m *MemoryDedup) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, expiry := range m.entries {
		if oldestKey == "" || expiry.Before(oldestAt) {
			oldestKey = key
			oldestAt = expiry
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func (m *MemoryDedup) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *MemoryDedup) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, expiry := range m.entries {
		if now.After(expiry) {
			delete(m.entries, key)
		}
	}
}

// =============================================================================
// Fallback Dedup - Redis first, memory when Redis is unreachable
// =============================================================================

// FallbackDedup prefers the shared Redis set and degrades to the local set
// when Redis errors, accepting a higher duplicate chance during fallback.
type FallbackDedup struct {
	primary  out.DedupCache
	fallback out.DedupCache
	log      *logger.Logger
}

// NewFallbackDedup creates a layered dedup cache.
func NewFallbackDedup(primary, fallback out.DedupCache, log *logger.Logger) *FallbackDedup {
	if log == nil {
		log = logger.Default()
	}
	return &FallbackDedup{primary: primary, fallback: fallback, log: log}
}

func (f *FallbackDedup) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.primary != nil {
		fresh, err := f.primary.SetIfAbsent(ctx, key, ttl)
		if err == nil {
			return fresh, nil
		}
		f.log.WithError(err).Warn("shared dedup cache unavailable, using local fallback")
	}
	return f.fallback.SetIfAbsent(ctx, key, ttl)
}

// Ensure interface compliance
var (
	_ out.DedupCache = (*RedisDedup)(nil)
	_ out.DedupCache = (*MemoryDedup)(nil)
	_ out.DedupCache = (*FallbackDedup)(nil)
)
