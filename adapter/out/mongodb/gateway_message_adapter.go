package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/pkg/crypto"
)

const collectionMessages = "messages"

// MessageAdapter implements out.MessageRepository using MongoDB. It owns
// the delivery-status state machine: every status write is a single
// conditional UpdateOne whose filter encodes the priority gate, so racing
// provider callbacks linearize at the database rather than in application
// memory.
type MessageAdapter struct {
	collection *mongo.Collection
	vault      *crypto.Vault
}

// NewMessageAdapter creates a new MongoDB message adapter.
func NewMessageAdapter(db *mongo.Database, vault *crypto.Vault) *MessageAdapter {
	return &MessageAdapter{
		collection: db.Collection(collectionMessages),
		vault:      vault,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *MessageAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "metadata.routing_token", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "metadata.message_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "metadata.custom_message_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "metadata.provider_id", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Encryption Helpers
// =============================================================================

// toDocument returns a copy with content fields encrypted. The original
// message is never mutated.
func (a *MessageAdapter) toDocument(msg *domain.UnifiedMessage) *domain.UnifiedMessage {
	doc := *msg
	doc.Content = a.vault.Encrypt(msg.Content)
	doc.ContentHTML = a.vault.Encrypt(msg.ContentHTML)
	return &doc
}

// toEntity decrypts content fields in place. Decryption fails open, so a
// record written under a lost key still surfaces with its raw ciphertext.
func (a *MessageAdapter) toEntity(msg *domain.UnifiedMessage) *domain.UnifiedMessage {
	msg.Content = a.vault.Decrypt(msg.Content)
	msg.ContentHTML = a.vault.Decrypt(msg.ContentHTML)
	return msg
}

// =============================================================================
// CRUD
// =============================================================================

// Upsert persists a message keyed by (channel, message_id).
func (a *MessageAdapter) Upsert(ctx context.Context, msg *domain.UnifiedMessage) error {
	if msg.CreatedAt == "" {
		msg.CreatedAt = domain.Now()
	}
	msg.UpdatedAt = domain.Now()

	filter := bson.M{"channel": msg.Channel, "message_id": msg.MessageID}
	opts := options.Replace().SetUpsert(true)

	if _, err := a.collection.ReplaceOne(ctx, filter, a.toDocument(msg), opts); err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetByMessageID retrieves one message by its (channel, message_id) key.
func (a *MessageAdapter) GetByMessageID(ctx context.Context, channel, messageID string) (*domain.UnifiedMessage, error) {
	var msg domain.UnifiedMessage
	filter := bson.M{"channel": channel, "message_id": messageID}

	err := a.collection.FindOne(ctx, filter).Decode(&msg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return a.toEntity(&msg), nil
}

// =============================================================================
// Delivery-Status State Machine
// =============================================================================

// UpdateDeliveryStatus applies a priority-gated status transition. The
// filter only matches when the stored status is overwritable by the
// incoming one (or not set at all), so a late low-priority callback can
// never overwrite a more authoritative outcome already recorded. Negative
// terminal writes always land, including over other terminals. Returns
// false when the update was a no-op.
func (a *MessageAdapter) UpdateDeliveryStatus(ctx context.Context, channel, messageID string, status domain.DeliveryStatus) (bool, error) {
	if status.Rank() == 0 {
		return false, fmt.Errorf("unknown delivery status %q", status)
	}

	allowed := domain.StatusesBelow(status)
	filter := bson.M{
		"channel":    channel,
		"message_id": messageID,
		"$or": []bson.M{
			{"metadata.delivery_status": bson.M{"$exists": false}},
			{"metadata.delivery_status": ""},
			{"metadata.delivery_status": bson.M{"$in": allowed}},
		},
	}
	update := bson.M{"$set": bson.M{
		"metadata.delivery_status": status,
		"updated_at":               domain.Now(),
	}}

	result, err := a.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update delivery status: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// UpdateMetadata patches metadata fields without touching delivery status.
func (a *MessageAdapter) UpdateMetadata(ctx context.Context, channel, messageID string, patch map[string]any) error {
	set := bson.M{"updated_at": domain.Now()}
	for k, v := range patch {
		if k == "delivery_status" {
			// Status changes go through the gated transition only.
			continue
		}
		set["metadata."+k] = v
	}

	filter := bson.M{"channel": channel, "message_id": messageID}
	if _, err := a.collection.UpdateOne(ctx, filter, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}

// =============================================================================
// Thread Resolution Lookups
// =============================================================================

// FindThreadRootByMessageIDs finds the earliest stored message whose
// Message-ID (in any of its variants) matches one of the candidates.
// Sorting on created_at works because timestamps are ISO-8601 strings.
func (a *MessageAdapter) FindThreadRootByMessageIDs(ctx context.Context, candidates []string) (*domain.UnifiedMessage, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	filter := bson.M{"$or": []bson.M{
		{"message_id": bson.M{"$in": candidates}},
		{"metadata.message_id": bson.M{"$in": candidates}},
		{"metadata.custom_message_id": bson.M{"$in": candidates}},
		{"metadata.provider_id": bson.M{"$in": candidates}},
	}}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})

	var msg domain.UnifiedMessage
	err := a.collection.FindOne(ctx, filter, opts).Decode(&msg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find thread root: %w", err)
	}
	return a.toEntity(&msg), nil
}

// FindByRoutingToken finds the message carrying the given routing token.
func (a *MessageAdapter) FindByRoutingToken(ctx context.Context, token string) (*domain.UnifiedMessage, error) {
	var msg domain.UnifiedMessage
	filter := bson.M{"metadata.routing_token": token}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})

	err := a.collection.FindOne(ctx, filter, opts).Decode(&msg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find by routing token: %w", err)
	}
	return a.toEntity(&msg), nil
}

// ListThread returns the messages of a thread in chronological order.
func (a *MessageAdapter) ListThread(ctx context.Context, threadID string, limit, offset int) ([]*domain.UnifiedMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	filter := bson.M{"thread_id": threadID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*domain.UnifiedMessage
	for cursor.Next(ctx) {
		var msg domain.UnifiedMessage
		if err := cursor.Decode(&msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, a.toEntity(&msg))
	}
	return messages, cursor.Err()
}

// Ensure interface compliance
var _ out.MessageRepository = (*MessageAdapter)(nil)
