// Package search hands accepted messages to the downstream indexing
// pipeline, consumed as a black box.
package search

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
)

const indexStream = "gateway:index:messages"

// maxStreamLen bounds the stream when the indexing consumer falls behind.
const maxStreamLen = 100000

// StreamIndexer publishes accepted messages onto a Redis stream for the
// search indexing consumer. Content is published as stored; the consumer
// holds its own decryption access.
type StreamIndexer struct {
	client *redis.Client
}

// NewStreamIndexer creates a Redis stream indexer.
func NewStreamIndexer(client *redis.Client) *StreamIndexer {
	return &StreamIndexer{client: client}
}

func (s *StreamIndexer) Index(ctx context.Context, msg *domain.UnifiedMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message for indexing: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: indexStream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"channel":    msg.Channel,
			"message_id": msg.MessageID,
			"thread_id":  msg.ThreadID,
			"body":       string(body),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish index job: %w", err)
	}
	return nil
}

// Ensure interface compliance
var _ out.MessageIndexer = (*StreamIndexer)(nil)
