package domain

import "time"

// WebhookDeliveryStatus is the lifecycle state of one outbound delivery.
type WebhookDeliveryStatus string

const (
	DeliveryPending   WebhookDeliveryStatus = "pending"
	DeliveryRetrying  WebhookDeliveryStatus = "retrying"
	DeliveryDelivered WebhookDeliveryStatus = "delivered"
	DeliveryDead      WebhookDeliveryStatus = "dead"
)

// DeadLetterRetention is how long dead deliveries are kept before the TTL
// index expires them.
const DeadLetterRetention = 30 * 24 * time.Hour

// WebhookDeliveryAttempt is one entry in a delivery's attempt history.
type WebhookDeliveryAttempt struct {
	Attempt    int    `json:"attempt" bson:"attempt"`
	StatusCode int    `json:"status_code,omitempty" bson:"status_code,omitempty"`
	Error      string `json:"error,omitempty" bson:"error,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty" bson:"latency_ms,omitempty"`
	Timestamp  string `json:"timestamp" bson:"timestamp"`
}

// WebhookDelivery is one outbound delivery obligation. Payload and
// webhook secret are encrypted at rest. The record becomes immutable once
// delivered or dead; dead records expire after DeadLetterRetention.
type WebhookDelivery struct {
	DeliveryID    string                   `json:"delivery_id" bson:"delivery_id"`
	InboxID       string                   `json:"inbox_id" bson:"inbox_id"`
	OrgID         string                   `json:"org_id" bson:"org_id"`
	MessageID     string                   `json:"message_id" bson:"message_id"`
	Endpoint      string                   `json:"endpoint" bson:"endpoint"`
	Payload       string                   `json:"-" bson:"payload"`
	PayloadHash   string                   `json:"payload_hash" bson:"payload_hash"`
	Status        WebhookDeliveryStatus    `json:"status" bson:"status"`
	Attempts      []WebhookDeliveryAttempt `json:"attempts" bson:"attempts"`
	AttemptCount  int                      `json:"attempt_count" bson:"attempt_count"`
	MaxAttempts   int                      `json:"max_attempts" bson:"max_attempts"`
	NextRetryAt   *time.Time               `json:"next_retry_at,omitempty" bson:"next_retry_at,omitempty"`
	DeliveredAt   *time.Time               `json:"delivered_at,omitempty" bson:"delivered_at,omitempty"`
	DeadAt        *time.Time               `json:"dead_at,omitempty" bson:"dead_at,omitempty"`
	WebhookSecret string                   `json:"-" bson:"webhook_secret"`
	CreatedAt     string                   `json:"created_at" bson:"created_at"`
	UpdatedAt     string                   `json:"updated_at" bson:"updated_at"`
}

// Exhausted reports whether the delivery has used up its attempt budget.
func (d *WebhookDelivery) Exhausted() bool {
	return d.AttemptCount >= d.MaxAttempts
}

// EndpointHealth summarizes recent delivery outcomes for one org's
// endpoints, for dashboard/ops consumption.
type EndpointHealth struct {
	OrgID        string  `json:"org_id" bson:"_id"`
	Total        int64   `json:"total" bson:"total"`
	Delivered    int64   `json:"delivered" bson:"delivered"`
	Dead         int64   `json:"dead" bson:"dead"`
	Retrying     int64   `json:"retrying" bson:"retrying"`
	AvgLatencyMS float64 `json:"avg_latency_ms" bson:"avg_latency_ms"`
}
