package ingest

import (
	"fmt"

	"github.com/goccy/go-json"

	"gateway_server/core/domain"
)

// =============================================================================
// Provider Payload
// =============================================================================

// StringList absorbs header fields providers encode as either a single
// string or an array of strings.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if single != "" {
			*s = StringList{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = StringList(list)
	return nil
}

// ProviderAttachment is attachment metadata as the provider reports it.
type ProviderAttachment struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
}

// ProviderEmail is the email content of a provider event.
type ProviderEmail struct {
	EmailID         string               `json:"email_id"`
	From            string               `json:"from"`
	To              StringList           `json:"to"`
	Cc              StringList           `json:"cc"`
	ReplyTo         StringList           `json:"reply_to"`
	Subject         string               `json:"subject"`
	Text            string               `json:"text"`
	HTML            string               `json:"html"`
	MessageID       string               `json:"message_id"`
	CustomMessageID string               `json:"custom_message_id"`
	InReplyTo       string               `json:"in_reply_to"`
	References      StringList           `json:"references"`
	BounceType      string               `json:"bounce_type"`
	Attachments     []ProviderAttachment `json:"attachments"`
}

// ProviderEvent is one provider callback body.
type ProviderEvent struct {
	Type      string        `json:"type"`
	CreatedAt string        `json:"created_at"`
	Data      ProviderEmail `json:"data"`
}

// ParsePayload decodes the raw body into the typed event plus a generic
// copy of the data section for the append-only event record.
func ParsePayload(body []byte) (*ProviderEvent, map[string]any, error) {
	var ev ProviderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if ev.Type == "" {
		return nil, nil, fmt.Errorf("event type missing")
	}

	var generic struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, nil, fmt.Errorf("failed to parse event data: %w", err)
	}
	return &ev, generic.Data, nil
}

// Recipient returns the first to-address of the event.
func (e *ProviderEvent) Recipient() string {
	if len(e.Data.To) > 0 {
		return e.Data.To[0]
	}
	return ""
}

// participants assembles the ordered participant list of a message.
func (e *ProviderEvent) participants() []domain.Participant {
	var out []domain.Participant
	if e.Data.From != "" {
		out = append(out, domain.Participant{Role: domain.RoleFrom, Identity: e.Data.From})
	}
	for _, to := range e.Data.To {
		out = append(out, domain.Participant{Role: domain.RoleTo, Identity: to})
	}
	for _, cc := range e.Data.Cc {
		out = append(out, domain.Participant{Role: domain.RoleCc, Identity: cc})
	}
	for _, rt := range e.Data.ReplyTo {
		out = append(out, domain.Participant{Role: domain.RoleReplyTo, Identity: rt})
	}
	return out
}

// attachments converts provider attachment metadata.
func (e *ProviderEvent) attachments() []domain.Attachment {
	if len(e.Data.Attachments) == 0 {
		return nil
	}
	out := make([]domain.Attachment, 0, len(e.Data.Attachments))
	for _, a := range e.Data.Attachments {
		out = append(out, domain.Attachment{
			AttachmentID: a.AttachmentID,
			Filename:     a.Filename,
			MimeType:     a.MimeType,
			Size:         a.Size,
		})
	}
	return out
}

// =============================================================================
// Outbound Webhook Payload
// =============================================================================

// webhookPayload is the JSON body pushed to a tenant endpoint.
type webhookPayload struct {
	DomainID     string                 `json:"domainId"`
	InboxID      string                 `json:"inboxId"`
	InboxAddress string                 `json:"inboxAddress"`
	Event        string                 `json:"event"`
	Email        *ProviderEmail         `json:"email,omitempty"`
	Message      *domain.UnifiedMessage `json:"message,omitempty"`
	Attachments  []domain.Attachment    `json:"attachments"`
	Security     *domain.SecurityScan   `json:"security,omitempty"`
}

func buildWebhookPayload(dom *domain.DomainEntry, inbox *domain.InboxEntry, ev *ProviderEvent, msg *domain.UnifiedMessage) (string, error) {
	p := webhookPayload{
		DomainID:     dom.DomainID,
		InboxID:      inbox.InboxID,
		InboxAddress: inbox.Address(dom.Domain),
		Event:        ev.Type,
		Email:        &ev.Data,
		Message:      msg,
		Attachments:  msg.Attachments,
		Security:     msg.Metadata.Security,
	}
	if p.Attachments == nil {
		p.Attachments = []domain.Attachment{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	return string(raw), nil
}
