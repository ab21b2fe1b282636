package out

import (
	"context"
	"time"
)

// DedupCache is the shared idempotency set used by inbound ingestion.
// SetIfAbsent returns true when the key was newly stored, false when it
// already existed (a replayed provider event).
type DedupCache interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
