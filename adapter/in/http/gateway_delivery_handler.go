package http

import (
	"github.com/gofiber/fiber/v2"

	"gateway_server/core/port/out"
	"gateway_server/pkg/apperr"
	"gateway_server/pkg/logger"
	"gateway_server/pkg/metrics"
	"gateway_server/pkg/response"
)

// DeliveryHandler exposes the operator surface of the delivery queue:
// dead-letter inspection, manual requeue, and per-org endpoint health.
type DeliveryHandler struct {
	deliveries out.DeliveryRepository
	latency    *metrics.LatencyRegistry
	log        *logger.Logger
}

// NewDeliveryHandler creates the delivery operations handler.
func NewDeliveryHandler(deliveries out.DeliveryRepository, log *logger.Logger) *DeliveryHandler {
	if log == nil {
		log = logger.Default()
	}
	return &DeliveryHandler{deliveries: deliveries, log: log}
}

// NewDeliveryHandlerWithMetrics additionally exposes delivery latency
// percentiles collected by the engine.
func NewDeliveryHandlerWithMetrics(deliveries out.DeliveryRepository, latency *metrics.LatencyRegistry, log *logger.Logger) *DeliveryHandler {
	h := NewDeliveryHandler(deliveries, log)
	h.latency = latency
	return h
}

// Register mounts the delivery routes on the management router.
func (h *DeliveryHandler) Register(router fiber.Router) {
	deliveries := router.Group("/deliveries")
	deliveries.Get("/dead", h.ListDead)
	if h.latency != nil {
		deliveries.Get("/metrics", h.LatencyMetrics)
	}
	deliveries.Get("/health/:org_id", h.EndpointHealth)
	deliveries.Get("/:id", h.GetDelivery)
	deliveries.Post("/:id/requeue", h.Requeue)
}

// LatencyMetrics reports attempt latency percentiles per org.
func (h *DeliveryHandler) LatencyMetrics(c *fiber.Ctx) error {
	stats := h.latency.AllStats()
	result := make(map[string]map[string]any, len(stats))
	for org, s := range stats {
		result[org] = s.ToMap()
	}
	return response.OK(c, result)
}

// ListDead pages through the dead-letter queue.
func (h *DeliveryHandler) ListDead(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	dead, err := h.deliveries.ListDead(c.Context(), limit, offset)
	if err != nil {
		h.log.WithError(err).Error("failed to list dead deliveries")
		return response.FromAppError(c, apperr.DatabaseError("list dead deliveries", err))
	}
	return response.OKWithMeta(c, dead, &response.Meta{
		Limit:   limit,
		Offset:  offset,
		HasMore: len(dead) == limit,
	})
}

// GetDelivery returns one delivery with its attempt history.
func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	d, err := h.deliveries.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return response.FromAppError(c, apperr.DatabaseError("get delivery", err))
	}
	if d == nil {
		return response.FromAppError(c, apperr.NotFound("delivery"))
	}
	return response.OK(c, d)
}

// Requeue replays a dead or retrying delivery immediately.
func (h *DeliveryHandler) Requeue(c *fiber.Ctx) error {
	deliveryID := c.Params("id")
	ok, err := h.deliveries.Requeue(c.Context(), deliveryID)
	if err != nil {
		return response.FromAppError(c, apperr.DatabaseError("requeue delivery", err))
	}
	if !ok {
		return response.FromAppError(c, apperr.RequeueRejected(deliveryID))
	}

	h.log.WithField("delivery_id", deliveryID).Info("delivery requeued by operator")
	return response.OK(c, fiber.Map{"delivery_id": deliveryID, "requeued": true})
}

// EndpointHealth summarizes delivery outcomes for one org.
func (h *DeliveryHandler) EndpointHealth(c *fiber.Ctx) error {
	health, err := h.deliveries.GetEndpointHealth(c.Context(), c.Params("org_id"))
	if err != nil {
		return response.FromAppError(c, apperr.DatabaseError("endpoint health", err))
	}
	return response.OK(c, health)
}
