package out

import (
	"context"

	"gateway_server/core/domain"
)

// ScanInput is the content handed to the external scanners.
type ScanInput struct {
	From    string
	Subject string
	Content string
	InboxID string
}

// SpamScanner is the external spam scoring service. The gateway consumes
// an opaque score plus action; scoring itself is out of scope.
type SpamScanner interface {
	ScanSpam(ctx context.Context, in *ScanInput) (*domain.SpamVerdict, error)
}

// InjectionScanner is the external prompt-injection detection service.
type InjectionScanner interface {
	ScanInjection(ctx context.Context, in *ScanInput) (*domain.InjectionVerdict, error)
}

// SendingHealth is the external circuit-breaker signal consulted before
// outbound webhook delivery for a tenant.
type SendingHealth interface {
	// AllowSend reports whether deliveries for the org should proceed.
	AllowSend(ctx context.Context, orgID string) bool
	// Record reports a delivery outcome back into the health signal.
	Record(ctx context.Context, orgID string, success bool)
}

// MessageIndexer receives accepted messages for downstream search
// indexing; consumed as a black box.
type MessageIndexer interface {
	Index(ctx context.Context, msg *domain.UnifiedMessage) error
}
