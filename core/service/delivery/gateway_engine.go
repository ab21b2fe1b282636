// Package delivery implements outbound webhook delivery with retries and a
// dead-letter queue.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/pkg/httputil"
	"gateway_server/pkg/logger"
	"gateway_server/pkg/metrics"
)

// =============================================================================
// Webhook Delivery Engine
// =============================================================================

// SignatureHeader carries the HMAC-SHA256 of the payload, keyed by the
// receiving endpoint's webhook secret.
const SignatureHeader = "X-Webhook-Signature"

// EngineConfig configures the delivery engine.
type EngineConfig struct {
	MaxAttempts    int           // Attempt budget per delivery (default 5)
	AttemptTimeout time.Duration // Per-attempt HTTP timeout (default 30s)
}

// DefaultEngineConfig returns sensible defaults for the delivery engine.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxAttempts:    5,
		AttemptTimeout: 30 * time.Second,
	}
}

// Engine delivers webhook payloads to tenant endpoints. Each delivery gets
// one immediate synchronous attempt; failures enter the retry schedule and
// eventually the dead-letter queue.
type Engine struct {
	deliveries out.DeliveryRepository
	health     out.SendingHealth
	client     *http.Client
	config     EngineConfig
	latency    *metrics.LatencyRegistry
	log        *logger.Logger
}

// NewEngine creates a new delivery engine.
func NewEngine(deliveries out.DeliveryRepository, health out.SendingHealth, cfg EngineConfig, log *logger.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultEngineConfig().MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultEngineConfig().AttemptTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		deliveries: deliveries,
		health:     health,
		client:     httputil.NewClient(httputil.WebhookClientConfig(cfg.AttemptTimeout)),
		config:     cfg,
		latency:    metrics.NewLatencyRegistry(1000, 1000),
		log:        log,
	}
}

// Latency exposes per-org delivery latency percentiles for the
// management surface.
func (e *Engine) Latency() *metrics.LatencyRegistry {
	return e.latency
}

// DeliverRequest describes one webhook delivery obligation.
type DeliverRequest struct {
	InboxID       string
	OrgID         string
	MessageID     string
	Endpoint      string
	Payload       string
	WebhookSecret string
}

// DeliverResult reports the outcome of the immediate attempt.
type DeliverResult struct {
	DeliveryID string `json:"delivery_id"`
	Delivered  bool   `json:"delivered"`
}

// Deliver records the delivery and makes one immediate attempt. When the
// tenant's sending health gate is open, the attempt is skipped and the
// delivery goes straight onto the retry schedule.
func (e *Engine) Deliver(ctx context.Context, req DeliverRequest) (*DeliverResult, error) {
	now := time.Now().UTC()
	d := &domain.WebhookDelivery{
		DeliveryID:    uuid.NewString(),
		InboxID:       req.InboxID,
		OrgID:         req.OrgID,
		MessageID:     req.MessageID,
		Endpoint:      req.Endpoint,
		Payload:       req.Payload,
		PayloadHash:   payloadHash(req.Payload),
		Status:        domain.DeliveryPending,
		MaxAttempts:   e.config.MaxAttempts,
		WebhookSecret: req.WebhookSecret,
		CreatedAt:     domain.Now(),
		UpdatedAt:     domain.Now(),
	}

	if e.health != nil && !e.health.AllowSend(ctx, req.OrgID) {
		retryAt := now.Add(BackoffDelay(1))
		d.Status = domain.DeliveryRetrying
		d.NextRetryAt = &retryAt
		if err := e.deliveries.Create(ctx, d); err != nil {
			return nil, err
		}
		e.log.WithFields(map[string]any{
			"delivery_id": d.DeliveryID,
			"org_id":      req.OrgID,
		}).Warn("sending health gate open, delivery deferred")
		return &DeliverResult{DeliveryID: d.DeliveryID, Delivered: false}, nil
	}

	if err := e.deliveries.Create(ctx, d); err != nil {
		return nil, err
	}

	delivered, err := e.Attempt(ctx, d)
	if err != nil {
		return nil, err
	}
	return &DeliverResult{DeliveryID: d.DeliveryID, Delivered: delivered}, nil
}

// Attempt executes one HTTP attempt against the delivery's endpoint and
// records the outcome atomically. The caller owns the claim on d.
func (e *Engine) Attempt(ctx context.Context, d *domain.WebhookDelivery) (bool, error) {
	attemptNum := d.AttemptCount + 1
	start := time.Now()

	statusCode, attemptErr := e.post(ctx, d)
	elapsed := time.Since(start)
	latency := elapsed.Milliseconds()
	e.latency.Record(d.OrgID, elapsed)

	attempt := domain.WebhookDeliveryAttempt{
		Attempt:    attemptNum,
		StatusCode: statusCode,
		LatencyMS:  latency,
		Timestamp:  domain.Now(),
	}

	success := attemptErr == nil && statusCode >= 200 && statusCode < 300
	if !success && attemptErr != nil {
		attempt.Error = attemptErr.Error()
	} else if !success {
		attempt.Error = fmt.Sprintf("endpoint returned %d", statusCode)
	}

	update := e.nextState(success, attemptNum, d.MaxAttempts)
	if err := e.deliveries.RecordAttempt(ctx, d.DeliveryID, attempt, update); err != nil {
		return false, err
	}
	if e.health != nil {
		e.health.Record(ctx, d.OrgID, success)
	}

	log := e.log.WithFields(map[string]any{
		"delivery_id": d.DeliveryID,
		"inbox_id":    d.InboxID,
		"attempt":     attemptNum,
		"status":      string(update.Status),
		"latency_ms":  latency,
	})
	switch {
	case success:
		log.Info("webhook delivered")
	case update.Status == domain.DeliveryDead:
		log.Error("webhook delivery exhausted, entering dead letter queue")
	default:
		log.Warn("webhook attempt failed, retry scheduled")
	}
	return success, nil
}

func (e *Engine) nextState(success bool, attemptNum, maxAttempts int) out.AttemptUpdate {
	now := time.Now().UTC()
	if success {
		return out.AttemptUpdate{Status: domain.DeliveryDelivered, DeliveredAt: &now}
	}
	if attemptNum >= maxAttempts {
		return out.AttemptUpdate{Status: domain.DeliveryDead, DeadAt: &now}
	}
	retryAt := now.Add(BackoffDelay(attemptNum))
	return out.AttemptUpdate{Status: domain.DeliveryRetrying, NextRetryAt: &retryAt}
}

func (e *Engine) post(ctx context.Context, d *domain.WebhookDelivery) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader([]byte(d.Payload)))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignPayload(d.WebhookSecret, d.Payload))

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// SignPayload returns the signature header value for a payload.
func SignPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func payloadHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
