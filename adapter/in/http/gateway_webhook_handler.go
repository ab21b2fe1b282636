// Package http exposes the gateway's HTTP surface over Fiber.
package http

import (
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	"gateway_server/core/service/ingest"
	"gateway_server/pkg/logger"
	"gateway_server/pkg/response"
)

// IngestMetrics counts inbound webhook outcomes for the metrics endpoint.
type IngestMetrics struct {
	Processed  int64
	Duplicates int64
	Orphans    int64
	Blocked    int64
	Errors     int64
}

// WebhookHandler receives provider callbacks and hands them to the ingest
// pipeline.
type WebhookHandler struct {
	service *ingest.Service
	metrics IngestMetrics
	log     *logger.Logger
}

// NewWebhookHandler creates the inbound webhook handler.
func NewWebhookHandler(service *ingest.Service, log *logger.Logger) *WebhookHandler {
	if log == nil {
		log = logger.Default()
	}
	return &WebhookHandler{service: service, log: log}
}

// Register mounts the inbound webhook routes. Providers are configured
// against different path shapes in the wild, so the common aliases all
// land on the same handler.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhook/email", h.InboundWebhook)
	app.Post("/webhooks/email", h.InboundWebhook)
	app.Post("/api/v1/webhook/email", h.InboundWebhook)
	app.Post("/api/v1/webhooks/email", h.InboundWebhook)
}

// GetMetrics returns a snapshot of the handler counters.
func (h *WebhookHandler) GetMetrics() IngestMetrics {
	return IngestMetrics{
		Processed:  atomic.LoadInt64(&h.metrics.Processed),
		Duplicates: atomic.LoadInt64(&h.metrics.Duplicates),
		Orphans:    atomic.LoadInt64(&h.metrics.Orphans),
		Blocked:    atomic.LoadInt64(&h.metrics.Blocked),
		Errors:     atomic.LoadInt64(&h.metrics.Errors),
	}
}

// InboundWebhook handles one provider callback. Duplicates and rejections
// acknowledge with 200 so the provider stops retrying; only signature and
// payload failures return 400.
func (h *WebhookHandler) InboundWebhook(c *fiber.Ctx) error {
	in := ingest.Input{
		Body:      c.Body(),
		EventID:   c.Get("webhook-id"),
		Timestamp: c.Get("webhook-timestamp"),
		Signature: c.Get("webhook-signature"),
		DomainID:  c.Query("domain_id"),
	}

	result, err := h.service.Ingest(c.Context(), in)
	if err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		h.log.WithError(err).WithField("event_id", in.EventID).Warn("inbound webhook rejected")
		return response.FromAppError(c, err)
	}

	atomic.AddInt64(&h.metrics.Processed, 1)
	switch result.Status {
	case ingest.StatusDuplicate:
		atomic.AddInt64(&h.metrics.Duplicates, 1)
	case ingest.StatusOrphaned:
		atomic.AddInt64(&h.metrics.Orphans, 1)
	case ingest.StatusBlocked:
		atomic.AddInt64(&h.metrics.Blocked, 1)
	}
	return response.OK(c, result)
}
