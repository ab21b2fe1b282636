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

const collectionKeyLock = "encryption_key_lock"

const keyLockID = "key_lock"

// KeyLockAdapter implements out.KeyLockRepository using MongoDB. It holds a
// single document recording the fingerprint of the key that first encrypted
// data in this database.
type KeyLockAdapter struct {
	collection *mongo.Collection
	messages   *mongo.Collection
}

// NewKeyLockAdapter creates a new MongoDB key-lock adapter.
func NewKeyLockAdapter(db *mongo.Database) *KeyLockAdapter {
	return &KeyLockAdapter{
		collection: db.Collection(collectionKeyLock),
		messages:   db.Collection(collectionMessages),
	}
}

func (a *KeyLockAdapter) GetFingerprint(ctx context.Context) (string, error) {
	var doc struct {
		Fingerprint string `bson:"fingerprint"`
	}
	err := a.collection.FindOne(ctx, bson.M{"_id": keyLockID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", fmt.Errorf("failed to read key lock: %w", err)
	}
	return doc.Fingerprint, nil
}

func (a *KeyLockAdapter) SetFingerprint(ctx context.Context, fingerprint string) error {
	update := bson.M{
		"$set": bson.M{
			"fingerprint": fingerprint,
			"updated_at":  domain.Now(),
		},
		"$setOnInsert": bson.M{
			"created_at": domain.Now(),
		},
	}
	_, err := a.collection.UpdateOne(ctx, bson.M{"_id": keyLockID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write key lock: %w", err)
	}
	return nil
}

// CanarySample returns one stored encrypted content value so startup can
// verify the configured key still decrypts existing data.
func (a *KeyLockAdapter) CanarySample(ctx context.Context) (string, error) {
	var doc struct {
		Content string `bson:"content"`
	}
	filter := bson.M{"content": bson.M{"$regex": "^enc:"}}
	opts := options.FindOne().SetProjection(bson.M{"content": 1})
	err := a.messages.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", fmt.Errorf("failed to fetch canary sample: %w", err)
	}
	return doc.Content, nil
}

// Ensure interface compliance
var _ out.KeyLockRepository = (*KeyLockAdapter)(nil)
