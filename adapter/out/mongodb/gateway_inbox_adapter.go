package mongodb

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/pkg/crypto"
)

const (
	collectionDomains = "domains"
	collectionInboxes = "inboxes"
)

// InboxAdapter implements out.InboxRepository using MongoDB.
type InboxAdapter struct {
	domains *mongo.Collection
	inboxes *mongo.Collection
	vault   *crypto.Vault
}

// NewInboxAdapter creates a new MongoDB inbox adapter.
func NewInboxAdapter(db *mongo.Database, vault *crypto.Vault) *InboxAdapter {
	return &InboxAdapter{
		domains: db.Collection(collectionDomains),
		inboxes: db.Collection(collectionInboxes),
		vault:   vault,
	}
}

// EnsureIndexes creates necessary indexes for both collections.
func (a *InboxAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.domains.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "domain", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "domain_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return err
	}

	_, err = a.inboxes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "domain_id", Value: 1}, {Key: "local_part", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}

// GetDomainByName resolves a domain by its DNS name.
func (a *InboxAdapter) GetDomainByName(ctx context.Context, name string) (*domain.DomainEntry, error) {
	var entry domain.DomainEntry
	err := a.domains.FindOne(ctx, bson.M{"domain": strings.ToLower(name)}).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}
	entry.WebhookSecret = a.vault.Decrypt(entry.WebhookSecret)
	return &entry, nil
}

// GetDomainByID resolves a domain by its ID.
func (a *InboxAdapter) GetDomainByID(ctx context.Context, domainID string) (*domain.DomainEntry, error) {
	var entry domain.DomainEntry
	err := a.domains.FindOne(ctx, bson.M{"domain_id": domainID}).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}
	entry.WebhookSecret = a.vault.Decrypt(entry.WebhookSecret)
	return &entry, nil
}

// GetInbox resolves an inbox on a domain by local part.
func (a *InboxAdapter) GetInbox(ctx context.Context, domainID, localPart string) (*domain.InboxEntry, error) {
	var entry domain.InboxEntry
	filter := bson.M{"domain_id": domainID, "local_part": strings.ToLower(localPart)}
	err := a.inboxes.FindOne(ctx, filter).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get inbox: %w", err)
	}
	entry.WebhookSecret = a.vault.Decrypt(entry.WebhookSecret)
	return &entry, nil
}

// ListInboxes returns all inboxes on a domain.
func (a *InboxAdapter) ListInboxes(ctx context.Context, domainID string) ([]*domain.InboxEntry, error) {
	cursor, err := a.inboxes.Find(ctx, bson.M{"domain_id": domainID})
	if err != nil {
		return nil, fmt.Errorf("failed to list inboxes: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.InboxEntry
	for cursor.Next(ctx) {
		var entry domain.InboxEntry
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode inbox: %w", err)
		}
		entry.WebhookSecret = a.vault.Decrypt(entry.WebhookSecret)
		entries = append(entries, &entry)
	}
	return entries, cursor.Err()
}

// Ensure interface compliance
var _ out.InboxRepository = (*InboxAdapter)(nil)
