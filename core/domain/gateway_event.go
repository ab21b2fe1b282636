package domain

// EventType is the normalized kind of a provider callback.
type EventType string

const (
	EventEmailReceived   EventType = "email.received"
	EventEmailSent       EventType = "email.sent"
	EventEmailDelivered  EventType = "email.delivered"
	EventEmailBounced    EventType = "email.bounced"
	EventEmailComplained EventType = "email.complained"
	EventEmailFailed     EventType = "email.failed"
	// EventUnknown is the catch-all for event types this version does not
	// recognize; the raw type string is preserved in EventData.
	EventUnknown EventType = "unknown"
)

// ParseEventType maps a raw provider event type onto a known kind.
func ParseEventType(raw string) EventType {
	switch EventType(raw) {
	case EventEmailReceived, EventEmailSent, EventEmailDelivered,
		EventEmailBounced, EventEmailComplained, EventEmailFailed:
		return EventType(raw)
	default:
		return EventUnknown
	}
}

// DeliveryStatusFor returns the message delivery status implied by the
// event, or empty when the event carries no status signal.
func (e EventType) DeliveryStatusFor() DeliveryStatus {
	switch e {
	case EventEmailSent:
		return StatusSent
	case EventEmailDelivered:
		return StatusDelivered
	case EventEmailBounced:
		return StatusBounced
	case EventEmailComplained:
		return StatusComplained
	case EventEmailFailed:
		return StatusFailed
	default:
		return ""
	}
}

// DeliveryEvent is the immutable record of one provider callback. Events
// are append-only; orphan events (no matching message) are kept with a
// reason for forensics rather than dropped.
type DeliveryEvent struct {
	EventID      string         `json:"event_id" bson:"event_id"`
	EventType    EventType      `json:"event_type" bson:"event_type"`
	RawType      string         `json:"raw_type,omitempty" bson:"raw_type,omitempty"`
	EventData    map[string]any `json:"event_data,omitempty" bson:"event_data,omitempty"`
	InboxID      string         `json:"inbox_id,omitempty" bson:"inbox_id,omitempty"`
	DomainID     string         `json:"domain_id,omitempty" bson:"domain_id,omitempty"`
	Orphan       bool           `json:"orphan,omitempty" bson:"orphan,omitempty"`
	OrphanReason string         `json:"orphan_reason,omitempty" bson:"orphan_reason,omitempty"`
	ProcessedAt  string         `json:"processed_at" bson:"processed_at"`
}
