package http

import (
	"github.com/gofiber/fiber/v2"

	"gateway_server/core/port/out"
	"gateway_server/pkg/apperr"
	"gateway_server/pkg/response"
)

// MessageHandler exposes thread listing and the event/blocked ledgers.
type MessageHandler struct {
	messages out.MessageRepository
	events   out.EventRepository
	blocked  out.BlockedEmailRepository
}

// NewMessageHandler creates the message inspection handler.
func NewMessageHandler(messages out.MessageRepository, events out.EventRepository, blocked out.BlockedEmailRepository) *MessageHandler {
	return &MessageHandler{messages: messages, events: events, blocked: blocked}
}

// Register mounts the message routes on the management router.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Get("/threads/:thread_id/messages", h.ListThread)
	router.Get("/inboxes/:inbox_id/events", h.ListEvents)
	router.Get("/inboxes/:inbox_id/blocked", h.ListBlocked)
	router.Get("/events/orphans", h.ListOrphans)
}

// ListThread returns a thread's messages ordered by created_at.
func (h *MessageHandler) ListThread(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	msgs, err := h.messages.ListThread(c.Context(), c.Params("thread_id"), limit, offset)
	if err != nil {
		return response.FromAppError(c, apperr.DatabaseError("list thread", err))
	}
	return response.OKWithMeta(c, msgs, &response.Meta{
		Limit:   limit,
		Offset:  offset,
		HasMore: len(msgs) == limit,
	})
}

// ListEvents returns the append-only event log of one inbox.
func (h *MessageHandler) ListEvents(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	events, err := h.events.ListByInbox(c.Context(), c.Params("inbox_id"), limit, offset)
	if err != nil {
		return response.FromAppError(c, apperr.DatabaseError("list events", err))
	}
	return response.OKWithMeta(c, events, &response.Meta{
		Limit:   limit,
		Offset:  offset,
		HasMore: len(events) == limit,
	})
}

// ListBlocked returns rejected emails for one inbox.
func (h *MessageHandler) ListBlocked(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	entries, err := h.blocked.ListByInbox(c.Context(), c.Params("inbox_id"), limit, offset)
	if err != nil {
		return response.FromAppError(c, apperr.DatabaseError("list blocked emails", err))
	}
	return response.OKWithMeta(c, entries, &response.Meta{
		Limit:   limit,
		Offset:  offset,
		HasMore: len(entries) == limit,
	})
}

// ListOrphans returns events that resolved to no tenant.
func (h *MessageHandler) ListOrphans(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	events, err := h.events.ListOrphans(c.Context(), limit, offset)
	if err != nil {
		return response.FromAppError(c, apperr.DatabaseError("list orphan events", err))
	}
	return response.OKWithMeta(c, events, &response.Meta{
		Limit:   limit,
		Offset:  offset,
		HasMore: len(events) == limit,
	})
}

func pagination(c *fiber.Ctx) (limit, offset int) {
	limit = c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
