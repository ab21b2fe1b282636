package domain

// DeliveryStatus is the terminal delivery outcome of a message.
type DeliveryStatus string

const (
	StatusSent       DeliveryStatus = "sent"
	StatusDelivered  DeliveryStatus = "delivered"
	StatusBounced    DeliveryStatus = "bounced"
	StatusComplained DeliveryStatus = "complained"
	StatusFailed     DeliveryStatus = "failed"
	StatusSuppressed DeliveryStatus = "suppressed"
)

// statusRank orders delivery statuses by authority. A write only takes
// effect when the incoming status outranks the stored one, except between
// negative terminals, which replace each other freely; near-simultaneous
// provider callbacks therefore converge on a most-authoritative outcome
// regardless of arrival order.
var statusRank = map[DeliveryStatus]int{
	StatusSent:       1,
	StatusDelivered:  2,
	StatusBounced:    3,
	StatusComplained: 3,
	StatusFailed:     3,
	StatusSuppressed: 3,
}

// Rank returns the authority rank of the status. Unknown statuses rank 0.
func (s DeliveryStatus) Rank() int {
	return statusRank[s]
}

// IsTerminal reports whether the status is a negative terminal outcome.
func (s DeliveryStatus) IsTerminal() bool {
	return statusRank[s] == 3
}

// OverwritableBy reports whether a stored status may be replaced by next.
// The empty stored status (no delivery outcome yet) accepts anything.
// A negative terminal write always lands, even over another terminal: a
// complaint arriving after a bounce still records the latest failure
// mode. Rewriting the identical status stays a no-op.
func (s DeliveryStatus) OverwritableBy(next DeliveryStatus) bool {
	if next.Rank() == 0 {
		return false
	}
	if next.IsTerminal() {
		return s != next
	}
	if s == "" {
		return true
	}
	return next.Rank() > s.Rank()
}

// StatusesBelow returns every stored status a write of s may overwrite,
// which is the allow-list a conditional status update matches against.
// For a negative terminal that includes the other terminals.
func StatusesBelow(s DeliveryStatus) []DeliveryStatus {
	out := make([]DeliveryStatus, 0, len(statusRank))
	for st, r := range statusRank {
		if r < s.Rank() || (s.IsTerminal() && st.IsTerminal() && st != s) {
			out = append(out, st)
		}
	}
	return out
}

// SecurityScan holds the verdicts attached by the external scanners.
type SecurityScan struct {
	Spam            *SpamVerdict      `json:"spam,omitempty" bson:"spam,omitempty"`
	PromptInjection *InjectionVerdict `json:"prompt_injection,omitempty" bson:"prompt_injection,omitempty"`
}

// MessageMeta is the metadata bag of a unified message. Known fields are
// typed; Extra keeps unrecognized provider fields for forward compatibility.
type MessageMeta struct {
	DeliveryStatus  DeliveryStatus `json:"delivery_status,omitempty" bson:"delivery_status,omitempty"`
	MessageID       string         `json:"message_id,omitempty" bson:"message_id,omitempty"`
	CustomMessageID string         `json:"custom_message_id,omitempty" bson:"custom_message_id,omitempty"`
	ProviderID      string         `json:"provider_id,omitempty" bson:"provider_id,omitempty"`
	References      []string       `json:"references,omitempty" bson:"references,omitempty"`
	InReplyTo       string         `json:"in_reply_to,omitempty" bson:"in_reply_to,omitempty"`
	RoutingToken    string         `json:"routing_token,omitempty" bson:"routing_token,omitempty"`
	InboxID         string         `json:"inbox_id,omitempty" bson:"inbox_id,omitempty"`
	DomainID        string         `json:"domain_id,omitempty" bson:"domain_id,omitempty"`
	Security        *SecurityScan  `json:"security,omitempty" bson:"security,omitempty"`
	Extra           map[string]any `json:"extra,omitempty" bson:"extra,omitempty"`
}

// UnifiedMessage is one inbound or outbound email, keyed by (channel,
// message_id). Content fields are encrypted at rest.
type UnifiedMessage struct {
	Channel      string        `json:"channel" bson:"channel"`
	MessageID    string        `json:"message_id" bson:"message_id"`
	ThreadID     string        `json:"thread_id" bson:"thread_id"`
	Direction    Direction     `json:"direction" bson:"direction"`
	Subject      string        `json:"subject,omitempty" bson:"subject,omitempty"`
	Participants []Participant `json:"participants" bson:"participants"`
	Content      string        `json:"content,omitempty" bson:"content,omitempty"`
	ContentHTML  string        `json:"content_html,omitempty" bson:"content_html,omitempty"`
	Attachments  []Attachment  `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Metadata     MessageMeta   `json:"metadata" bson:"metadata"`
	CreatedAt    string        `json:"created_at" bson:"created_at"`
	UpdatedAt    string        `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}

// Attachment is attachment metadata carried on a message; blob storage is
// an external concern.
type Attachment struct {
	AttachmentID string `json:"attachment_id" bson:"attachment_id"`
	Filename     string `json:"filename" bson:"filename"`
	MimeType     string `json:"mime_type" bson:"mime_type"`
	Size         int64  `json:"size" bson:"size"`
}

// Sender returns the identity of the first from-participant, if any.
func (m *UnifiedMessage) Sender() string {
	for _, p := range m.Participants {
		if p.Role == RoleFrom {
			return p.Identity
		}
	}
	return ""
}

// Recipient returns the identity of the first to-participant, if any.
func (m *UnifiedMessage) Recipient() string {
	for _, p := range m.Participants {
		if p.Role == RoleTo {
			return p.Identity
		}
	}
	return ""
}
