package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/pkg/crypto"
)

const collectionDeliveries = "webhook_deliveries"

// deadLetterTTLSeconds expires dead deliveries after the retention
// window. The TTL index is on dead_at, which only terminal-dead records
// carry, so live deliveries never expire.
const deadLetterTTLSeconds = int32(domain.DeadLetterRetention / time.Second)

// DeliveryAdapter implements out.DeliveryRepository using MongoDB.
// ClaimRetryBatch relies on FindOneAndUpdate so that two workers sharing
// the collection can never claim the same delivery.
type DeliveryAdapter struct {
	collection *mongo.Collection
	vault      *crypto.Vault
}

// NewDeliveryAdapter creates a new MongoDB delivery adapter.
func NewDeliveryAdapter(db *mongo.Database, vault *crypto.Vault) *DeliveryAdapter {
	return &DeliveryAdapter{
		collection: db.Collection(collectionDeliveries),
		vault:      vault,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *DeliveryAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "delivery_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "dead_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(deadLetterTTLSeconds),
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Encryption Helpers
// =============================================================================

func (a *DeliveryAdapter) toDocument(d *domain.WebhookDelivery) *domain.WebhookDelivery {
	doc := *d
	doc.Payload = a.vault.Encrypt(d.Payload)
	doc.WebhookSecret = a.vault.Encrypt(d.WebhookSecret)
	return &doc
}

func (a *DeliveryAdapter) toEntity(d *domain.WebhookDelivery) *domain.WebhookDelivery {
	d.Payload = a.vault.Decrypt(d.Payload)
	d.WebhookSecret = a.vault.Decrypt(d.WebhookSecret)
	return d
}

// =============================================================================
// CRUD
// =============================================================================

// Create persists a new delivery obligation.
func (a *DeliveryAdapter) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	if d.CreatedAt == "" {
		d.CreatedAt = domain.Now()
	}
	d.UpdatedAt = domain.Now()

	if _, err := a.collection.InsertOne(ctx, a.toDocument(d)); err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

// GetByID retrieves a delivery by its ID.
func (a *DeliveryAdapter) GetByID(ctx context.Context, deliveryID string) (*domain.WebhookDelivery, error) {
	var d domain.WebhookDelivery
	err := a.collection.FindOne(ctx, bson.M{"delivery_id": deliveryID}).Decode(&d)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return a.toEntity(&d), nil
}

// =============================================================================
// Attempt Recording
// =============================================================================

// RecordAttempt appends to the attempt history and applies the status
// update atomically in one write.
func (a *DeliveryAdapter) RecordAttempt(ctx context.Context, deliveryID string, attempt domain.WebhookDeliveryAttempt, update out.AttemptUpdate) error {
	set := bson.M{
		"status":     update.Status,
		"updated_at": domain.Now(),
	}
	unset := bson.M{}

	if update.NextRetryAt != nil {
		set["next_retry_at"] = *update.NextRetryAt
	} else {
		unset["next_retry_at"] = ""
	}
	if update.DeliveredAt != nil {
		set["delivered_at"] = *update.DeliveredAt
	}
	if update.DeadAt != nil {
		set["dead_at"] = *update.DeadAt
	}

	mods := bson.M{
		"$set":  set,
		"$push": bson.M{"attempts": attempt},
		"$inc":  bson.M{"attempt_count": 1},
	}
	if len(unset) > 0 {
		mods["$unset"] = unset
	}

	result, err := a.collection.UpdateOne(ctx, bson.M{"delivery_id": deliveryID}, mods)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("delivery %s not found", deliveryID)
	}
	return nil
}

// =============================================================================
// Retry Claiming
// =============================================================================

// ClaimRetryBatch atomically claims up to n retry-eligible deliveries,
// returning each one's pre-claim snapshot. Each claim is one
// FindOneAndUpdate flipping retrying -> pending; a delivery claimed by a
// concurrent caller no longer matches the filter, so the union of claims
// across callers is duplicate-free. The loop stops early when no
// candidate remains.
func (a *DeliveryAdapter) ClaimRetryBatch(ctx context.Context, n int) ([]*domain.WebhookDelivery, error) {
	if n <= 0 {
		return nil, nil
	}

	now := time.Now()
	filter := bson.M{
		"status":        domain.DeliveryRetrying,
		"next_retry_at": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{
		"status":     domain.DeliveryPending,
		"updated_at": domain.Now(),
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "next_retry_at", Value: 1}}).
		SetReturnDocument(options.Before)

	claimed := make([]*domain.WebhookDelivery, 0, n)
	for i := 0; i < n; i++ {
		var d domain.WebhookDelivery
		err := a.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				break
			}
			return claimed, fmt.Errorf("failed to claim delivery: %w", err)
		}
		claimed = append(claimed, a.toEntity(&d))
	}
	return claimed, nil
}

// Requeue moves a dead or retrying delivery back to retrying with
// immediate eligibility, for operator-triggered replay.
func (a *DeliveryAdapter) Requeue(ctx context.Context, deliveryID string) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"delivery_id": deliveryID,
		"status":      bson.M{"$in": []domain.WebhookDeliveryStatus{domain.DeliveryDead, domain.DeliveryRetrying}},
	}
	update := bson.M{
		"$set": bson.M{
			"status":        domain.DeliveryRetrying,
			"next_retry_at": now,
			"updated_at":    domain.Now(),
		},
		"$unset": bson.M{"dead_at": ""},
	}

	result, err := a.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to requeue delivery: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// ReapStalePending re-queues pending deliveries untouched since the
// cutoff. A pending record older than the attempt timeout is a claim
// orphaned by a crash mid-attempt; re-queuing it preserves at-least-once
// delivery at the cost of a possible duplicate attempt.
func (a *DeliveryAdapter) ReapStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	filter := bson.M{
		"status":     domain.DeliveryPending,
		"updated_at": bson.M{"$lt": domain.Timestamp(olderThan)},
	}
	update := bson.M{"$set": bson.M{
		"status":        domain.DeliveryRetrying,
		"next_retry_at": time.Now(),
		"updated_at":    domain.Now(),
	}}

	result, err := a.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale pending: %w", err)
	}
	return result.ModifiedCount, nil
}

// =============================================================================
// Queries
// =============================================================================

// ListDead returns dead-letter deliveries, newest first.
func (a *DeliveryAdapter) ListDead(ctx context.Context, limit, offset int) ([]*domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}

	filter := bson.M{"status": domain.DeliveryDead}
	opts := options.Find().
		SetSort(bson.D{{Key: "dead_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead deliveries: %w", err)
	}
	defer cursor.Close(ctx)

	var deliveries []*domain.WebhookDelivery
	for cursor.Next(ctx) {
		var d domain.WebhookDelivery
		if err := cursor.Decode(&d); err != nil {
			return nil, fmt.Errorf("failed to decode delivery: %w", err)
		}
		deliveries = append(deliveries, a.toEntity(&d))
	}
	return deliveries, cursor.Err()
}

// GetEndpointHealth aggregates delivery outcomes for one org.
func (a *DeliveryAdapter) GetEndpointHealth(ctx context.Context, orgID string) (*domain.EndpointHealth, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"org_id": orgID}},
		{
			"$group": bson.M{
				"_id":   "$org_id",
				"total": bson.M{"$sum": 1},
				"delivered": bson.M{"$sum": bson.M{
					"$cond": []any{bson.M{"$eq": []any{"$status", domain.DeliveryDelivered}}, 1, 0},
				}},
				"dead": bson.M{"$sum": bson.M{
					"$cond": []any{bson.M{"$eq": []any{"$status", domain.DeliveryDead}}, 1, 0},
				}},
				"retrying": bson.M{"$sum": bson.M{
					"$cond": []any{bson.M{"$eq": []any{"$status", domain.DeliveryRetrying}}, 1, 0},
				}},
				"avg_latency_ms": bson.M{"$avg": bson.M{"$last": "$attempts.latency_ms"}},
			},
		},
	}

	cursor, err := a.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate endpoint health: %w", err)
	}
	defer cursor.Close(ctx)

	health := &domain.EndpointHealth{OrgID: orgID}
	if cursor.Next(ctx) {
		if err := cursor.Decode(health); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint health: %w", err)
		}
	}
	return health, nil
}

// Ensure interface compliance
var _ out.DeliveryRepository = (*DeliveryAdapter)(nil)
