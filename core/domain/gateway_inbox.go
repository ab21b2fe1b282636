package domain

// DomainEntry is a tenant-owned email domain routed through the gateway.
// A shared/default domain has no OrgID; isolation then falls to the inbox.
type DomainEntry struct {
	DomainID      string `json:"domain_id" bson:"domain_id"`
	Domain        string `json:"domain" bson:"domain"`
	OrgID         string `json:"org_id,omitempty" bson:"org_id,omitempty"`
	WebhookSecret string `json:"-" bson:"webhook_secret"`
	Verified      bool   `json:"verified" bson:"verified"`
	CreatedAt     string `json:"created_at" bson:"created_at"`
}

// InboxEntry is one addressable inbox on a domain.
type InboxEntry struct {
	InboxID         string `json:"inbox_id" bson:"inbox_id"`
	DomainID        string `json:"domain_id" bson:"domain_id"`
	OrgID           string `json:"org_id,omitempty" bson:"org_id,omitempty"`
	LocalPart       string `json:"local_part" bson:"local_part"`
	WebhookEndpoint string `json:"webhook_endpoint,omitempty" bson:"webhook_endpoint,omitempty"`
	WebhookSecret   string `json:"-" bson:"webhook_secret,omitempty"`
	Active          bool   `json:"active" bson:"active"`
	CreatedAt       string `json:"created_at" bson:"created_at"`
}

// Address returns the full inbox address on the given domain.
func (i *InboxEntry) Address(domain string) string {
	return i.LocalPart + "@" + domain
}

// HasWebhook reports whether the inbox has an outbound webhook configured.
func (i *InboxEntry) HasWebhook() bool {
	return i.WebhookEndpoint != ""
}
