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

const collectionEvents = "delivery_events"

// EventAdapter implements out.EventRepository using MongoDB. Events are
// append-only; there is no update path.
type EventAdapter struct {
	collection *mongo.Collection
}

// NewEventAdapter creates a new MongoDB event adapter.
func NewEventAdapter(db *mongo.Database) *EventAdapter {
	return &EventAdapter{collection: db.Collection(collectionEvents)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *EventAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "inbox_id", Value: 1}, {Key: "processed_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "orphan", Value: 1}, {Key: "processed_at", Value: -1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Append records one provider callback.
func (a *EventAdapter) Append(ctx context.Context, ev *domain.DeliveryEvent) error {
	if ev.ProcessedAt == "" {
		ev.ProcessedAt = domain.Now()
	}
	if _, err := a.collection.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("failed to append delivery event: %w", err)
	}
	return nil
}

// ListByInbox returns events for one inbox, newest first.
func (a *EventAdapter) ListByInbox(ctx context.Context, inboxID string, limit, offset int) ([]*domain.DeliveryEvent, error) {
	return a.list(ctx, bson.M{"inbox_id": inboxID}, limit, offset)
}

// ListOrphans returns orphan events, newest first.
func (a *EventAdapter) ListOrphans(ctx context.Context, limit, offset int) ([]*domain.DeliveryEvent, error) {
	return a.list(ctx, bson.M{"orphan": true}, limit, offset)
}

func (a *EventAdapter) list(ctx context.Context, filter bson.M, limit, offset int) ([]*domain.DeliveryEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "processed_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*domain.DeliveryEvent
	for cursor.Next(ctx) {
		var ev domain.DeliveryEvent
		if err := cursor.Decode(&ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, cursor.Err()
}

// Ensure interface compliance
var _ out.EventRepository = (*EventAdapter)(nil)
