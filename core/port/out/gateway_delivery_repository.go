package out

import (
	"context"
	"time"

	"gateway_server/core/domain"
)

// AttemptUpdate carries the status change recorded together with an
// attempt. Exactly the fields that change are set.
type AttemptUpdate struct {
	Status      domain.WebhookDeliveryStatus
	NextRetryAt *time.Time
	DeliveredAt *time.Time
	DeadAt      *time.Time
}

// DeliveryRepository defines the outbound port for webhook delivery
// persistence. ClaimRetryBatch is the concurrency-critical operation: two
// concurrent callers, in the same process or different instances sharing
// the store, must never both claim the same delivery.
type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.WebhookDelivery) error
	GetByID(ctx context.Context, deliveryID string) (*domain.WebhookDelivery, error)

	// RecordAttempt appends to the attempt history and applies the status
	// update in one atomic write.
	RecordAttempt(ctx context.Context, deliveryID string, attempt domain.WebhookDeliveryAttempt, update AttemptUpdate) error

	// ClaimRetryBatch atomically claims up to n retry-eligible deliveries
	// by flipping each from retrying to pending, returning each claimed
	// delivery's pre-claim snapshot.
	ClaimRetryBatch(ctx context.Context, n int) ([]*domain.WebhookDelivery, error)

	// Requeue moves a dead or retrying delivery back to retrying with
	// immediate eligibility. Returns false when no such delivery exists.
	Requeue(ctx context.Context, deliveryID string) (bool, error)

	// ReapStalePending re-queues pending deliveries untouched since the
	// cutoff; these are claims orphaned by a crash mid-attempt.
	ReapStalePending(ctx context.Context, olderThan time.Time) (int64, error)

	ListDead(ctx context.Context, limit, offset int) ([]*domain.WebhookDelivery, error)
	GetEndpointHealth(ctx context.Context, orgID string) (*domain.EndpointHealth, error)
}
