package out

import (
	"context"

	"gateway_server/core/domain"
)

// EventRepository is the append-only store of provider callbacks.
type EventRepository interface {
	Append(ctx context.Context, ev *domain.DeliveryEvent) error
	ListByInbox(ctx context.Context, inboxID string, limit, offset int) ([]*domain.DeliveryEvent, error)
	ListOrphans(ctx context.Context, limit, offset int) ([]*domain.DeliveryEvent, error)
}

// BlockedEmailRepository stores rejected inbound emails in a ledger
// separate from messages, so rejected content never reaches the inbox API.
type BlockedEmailRepository interface {
	Insert(ctx context.Context, blocked *domain.BlockedEmail) error
	ListByInbox(ctx context.Context, inboxID string, limit, offset int) ([]*domain.BlockedEmail, error)
}

// SuppressionRepository stores suppression entries keyed by normalized
// email. AddSuppression is a monotonic upsert: a stored entry is only
// replaced by a strictly higher-ranked type.
type SuppressionRepository interface {
	AddSuppression(ctx context.Context, s *domain.Suppression) (bool, error)
	GetByEmail(ctx context.Context, email string) (*domain.Suppression, error)
	Remove(ctx context.Context, email string) error
}
