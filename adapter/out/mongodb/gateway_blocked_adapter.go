package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
)

const collectionBlockedEmails = "blocked_spam_emails"

var blockedTTLSeconds = int32(domain.BlockedRetention.Seconds())

// BlockedEmailAdapter implements out.BlockedEmailRepository using MongoDB.
// Rejected emails live in their own collection so they never surface
// through the message store.
type BlockedEmailAdapter struct {
	collection *mongo.Collection
}

// NewBlockedEmailAdapter creates a new MongoDB blocked-email adapter.
func NewBlockedEmailAdapter(db *mongo.Database) *BlockedEmailAdapter {
	return &BlockedEmailAdapter{
		collection: db.Collection(collectionBlockedEmails),
	}
}

// EnsureIndexes creates necessary indexes, including the 90-day TTL.
func (a *BlockedEmailAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "inbox_id", Value: 1}, {Key: "blocked_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "blocked_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(blockedTTLSeconds),
		},
	})
	return err
}

func (a *BlockedEmailAdapter) Insert(ctx context.Context, blocked *domain.BlockedEmail) error {
	_, err := a.collection.InsertOne(ctx, blocked)
	if err != nil {
		return fmt.Errorf("failed to insert blocked email: %w", err)
	}
	return nil
}

func (a *BlockedEmailAdapter) ListByInbox(ctx context.Context, inboxID string, limit, offset int) ([]*domain.BlockedEmail, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "blocked_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := a.collection.Find(ctx, bson.M{"inbox_id": inboxID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked emails: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.BlockedEmail
	for cursor.Next(ctx) {
		var entry domain.BlockedEmail
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode blocked email: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, cursor.Err()
}

// Ensure interface compliance
var _ out.BlockedEmailRepository = (*BlockedEmailAdapter)(nil)
