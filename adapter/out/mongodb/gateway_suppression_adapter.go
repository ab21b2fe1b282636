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
)

const collectionSuppressions = "suppressions"

// SuppressionAdapter implements out.SuppressionRepository using MongoDB.
// The monotonic upsert is expressed entirely in the update filter: a
// stored entry only matches when its type is strictly weaker than the
// incoming one, so a hard bounce can never be downgraded by a later soft
// write, regardless of interleaving.
type SuppressionAdapter struct {
	collection *mongo.Collection
}

// NewSuppressionAdapter creates a new MongoDB suppression adapter.
func NewSuppressionAdapter(db *mongo.Database) *SuppressionAdapter {
	return &SuppressionAdapter{collection: db.Collection(collectionSuppressions)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *SuppressionAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// NormalizeEmail lowercases and trims an address for use as the key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AddSuppression upserts a suppression entry. Returns false when a
// stored entry of equal or higher rank already exists (the write was a
// no-op). The race between the conditional update and the upsert insert
// is resolved by the unique index: a concurrent stronger write makes the
// insert fail with a duplicate key, which is the no-op outcome.
func (a *SuppressionAdapter) AddSuppression(ctx context.Context, s *domain.Suppression) (bool, error) {
	if s.Type.Rank() == 0 {
		return false, fmt.Errorf("unknown suppression type %q", s.Type)
	}

	email := NormalizeEmail(s.Email)
	now := domain.Now()

	filter := bson.M{
		"email": email,
		"type":  bson.M{"$in": domain.TypesBelow(s.Type)},
	}
	update := bson.M{
		"$set": bson.M{
			"type":       s.Type,
			"reason":     s.Reason,
			"source":     s.Source,
			"org_id":     s.OrgID,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"email":      email,
			"created_at": now,
		},
	}

	result, err := a.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// An equal-or-stronger entry already holds the key.
			return false, nil
		}
		return false, fmt.Errorf("failed to add suppression: %w", err)
	}
	return result.ModifiedCount > 0 || result.UpsertedCount > 0, nil
}

// GetByEmail returns the suppression entry for a normalized address.
func (a *SuppressionAdapter) GetByEmail(ctx context.Context, email string) (*domain.Suppression, error) {
	var s domain.Suppression
	err := a.collection.FindOne(ctx, bson.M{"email": NormalizeEmail(email)}).Decode(&s)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get suppression: %w", err)
	}
	return &s, nil
}

// Remove deletes a suppression entry (operator action).
func (a *SuppressionAdapter) Remove(ctx context.Context, email string) error {
	if _, err := a.collection.DeleteOne(ctx, bson.M{"email": NormalizeEmail(email)}); err != nil {
		return fmt.Errorf("failed to remove suppression: %w", err)
	}
	return nil
}

// Ensure interface compliance
var _ out.SuppressionRepository = (*SuppressionAdapter)(nil)
