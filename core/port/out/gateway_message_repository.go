// Package out defines outbound ports (driven ports) for the gateway.
// These interfaces represent dependencies that the core needs.
package out

import (
	"context"

	"gateway_server/core/domain"
)

// MessageRepository defines the outbound port for unified message
// persistence. It owns the delivery-status state machine: status updates
// are single conditional operations at the store, never read-then-write.
type MessageRepository interface {
	// Upsert persists a message keyed by (channel, message_id).
	Upsert(ctx context.Context, msg *domain.UnifiedMessage) error
	GetByMessageID(ctx context.Context, channel, messageID string) (*domain.UnifiedMessage, error)

	// UpdateDeliveryStatus applies a priority-gated status transition.
	// The update is a no-op (returns false) when the stored status already
	// outranks the incoming one.
	UpdateDeliveryStatus(ctx context.Context, channel, messageID string, status domain.DeliveryStatus) (bool, error)

	// UpdateMetadata patches metadata fields without touching delivery status.
	UpdateMetadata(ctx context.Context, channel, messageID string, patch map[string]any) error

	// Thread resolution lookups.
	FindThreadRootByMessageIDs(ctx context.Context, candidates []string) (*domain.UnifiedMessage, error)
	FindByRoutingToken(ctx context.Context, token string) (*domain.UnifiedMessage, error)

	// Thread listing.
	ListThread(ctx context.Context, threadID string, limit, offset int) ([]*domain.UnifiedMessage, error)
}
