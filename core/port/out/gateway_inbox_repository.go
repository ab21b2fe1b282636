package out

import (
	"context"

	"gateway_server/core/domain"
)

// InboxRepository resolves tenant domains and inboxes.
type InboxRepository interface {
	GetDomainByName(ctx context.Context, name string) (*domain.DomainEntry, error)
	GetDomainByID(ctx context.Context, domainID string) (*domain.DomainEntry, error)
	GetInbox(ctx context.Context, domainID, localPart string) (*domain.InboxEntry, error)
	ListInboxes(ctx context.Context, domainID string) ([]*domain.InboxEntry, error)
}

// KeyLockRepository persists the encryption key fingerprint written on
// first run, plus a canary sample for the startup decryption check.
type KeyLockRepository interface {
	GetFingerprint(ctx context.Context) (string, error)
	SetFingerprint(ctx context.Context, fingerprint string) error
	// CanarySample returns one known-encrypted stored value, or empty when
	// nothing has been encrypted yet.
	CanarySample(ctx context.Context) (string, error)
}
