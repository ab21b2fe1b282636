package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/core/service/delivery"
	"gateway_server/core/service/thread"
	"gateway_server/pkg/apperr"
	"gateway_server/pkg/logger"
)

// Channel is the message channel every email event maps onto.
const Channel = "email"

// IngestStatus summarizes what happened to one inbound event.
type IngestStatus string

const (
	StatusAccepted      IngestStatus = "accepted"
	StatusDuplicate     IngestStatus = "duplicate"
	StatusBlocked       IngestStatus = "blocked"
	StatusOrphaned      IngestStatus = "orphaned"
	StatusStatusUpdated IngestStatus = "status_updated"
)

// Input is one raw provider callback plus its transport attributes.
type Input struct {
	Body      []byte
	EventID   string // webhook-id header
	Timestamp string // webhook-timestamp header
	Signature string // webhook-signature header
	DomainID  string // optional query-string tenant hint
}

// Result is the outcome reported back to the provider-facing handler.
type Result struct {
	Status     IngestStatus `json:"status"`
	EventType  string       `json:"event_type,omitempty"`
	MessageID  string       `json:"message_id,omitempty"`
	ThreadID   string       `json:"thread_id,omitempty"`
	Dispatched bool         `json:"dispatched"`
}

// ServiceConfig configures the ingest orchestrator.
type ServiceConfig struct {
	DedupTTL time.Duration // Replay window for provider event ids
}

// Service is the inbound orchestrator: signature verification, idempotency,
// domain/thread resolution, security fan-out, persistence, and webhook
// dispatch. Duplicates and rejections acknowledge with success because
// providers retry on anything else.
type Service struct {
	verifier     *SignatureVerifier
	dedup        out.DedupCache
	domains      *thread.DomainResolver
	threads      *thread.Resolver
	codec        *thread.TokenCodec
	messages     out.MessageRepository
	events       out.EventRepository
	blocked      out.BlockedEmailRepository
	suppressions out.SuppressionRepository
	spam         out.SpamScanner
	injection    out.InjectionScanner
	indexer      out.MessageIndexer
	dispatcher   *Dispatcher
	config       ServiceConfig
	log          *logger.Logger
}

// Dependencies carries the collaborators of the ingest service.
type Dependencies struct {
	Verifier     *SignatureVerifier
	Dedup        out.DedupCache
	Domains      *thread.DomainResolver
	Threads      *thread.Resolver
	Codec        *thread.TokenCodec
	Messages     out.MessageRepository
	Events       out.EventRepository
	Blocked      out.BlockedEmailRepository
	Suppressions out.SuppressionRepository
	Spam         out.SpamScanner
	Injection    out.InjectionScanner
	Indexer      out.MessageIndexer
	Dispatcher   *Dispatcher
}

// NewService creates the ingest orchestrator.
func NewService(deps Dependencies, cfg ServiceConfig, log *logger.Logger) *Service {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 30 * time.Minute
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		verifier:     deps.Verifier,
		dedup:        deps.Dedup,
		domains:      deps.Domains,
		threads:      deps.Threads,
		codec:        deps.Codec,
		messages:     deps.Messages,
		events:       deps.Events,
		blocked:      deps.Blocked,
		suppressions: deps.Suppressions,
		spam:         deps.Spam,
		injection:    deps.Injection,
		indexer:      deps.Indexer,
		dispatcher:   deps.Dispatcher,
		config:       cfg,
		log:          log,
	}
}

// Ingest processes one provider callback end to end.
func (s *Service) Ingest(ctx context.Context, in Input) (*Result, error) {
	ev, rawData, err := ParsePayload(in.Body)
	if err != nil {
		return nil, apperr.MalformedPayload(err)
	}

	// The tenant domain locates the signing secret; nothing in the payload
	// is acted on until the signature passes. Inbound mail carries the
	// tenant domain in the recipient; status events for outbound mail
	// carry it in the sender.
	dom, err := s.domains.ResolveDomain(ctx, ev.Recipient(), in.DomainID)
	if err != nil {
		return nil, apperr.DatabaseError("resolve domain", err)
	}
	if dom == nil && ev.Data.From != "" {
		dom, err = s.domains.ResolveDomain(ctx, ev.Data.From, "")
		if err != nil {
			return nil, apperr.DatabaseError("resolve domain", err)
		}
	}
	if dom == nil {
		return s.recordOrphan(ctx, in.EventID, ev, rawData, "", "", "unknown domain")
	}

	if err := s.verifier.Verify(dom.WebhookSecret, in.EventID, in.Timestamp, in.Signature, in.Body); err != nil {
		return nil, err
	}

	fresh, err := s.dedup.SetIfAbsent(ctx, in.EventID, s.config.DedupTTL)
	if err != nil {
		return nil, apperr.DatabaseError("dedup check", err)
	}
	if !fresh {
		s.log.WithField("event_id", in.EventID).Info("duplicate event acknowledged")
		return &Result{Status: StatusDuplicate, EventType: ev.Type}, nil
	}

	eventType := domain.ParseEventType(ev.Type)
	if status := eventType.DeliveryStatusFor(); status != "" {
		return s.ingestStatusEvent(ctx, in.EventID, ev, rawData, dom, eventType, status)
	}
	return s.ingestReceived(ctx, in.EventID, ev, rawData, dom)
}

// ingestStatusEvent applies a delivery-status callback to the stored
// message: bounce/complaint suppression, the priority-gated status write,
// and the append-only event record.
func (s *Service) ingestStatusEvent(ctx context.Context, eventID string, ev *ProviderEvent, rawData map[string]any, dom *domain.DomainEntry, eventType domain.EventType, status domain.DeliveryStatus) (*Result, error) {
	messageID := ev.Data.MessageID
	if messageID == "" {
		messageID = ev.Data.EmailID
	}

	applied := false
	matched := false
	if messageID != "" {
		var err error
		applied, err = s.messages.UpdateDeliveryStatus(ctx, Channel, messageID, status)
		if err != nil {
			return nil, apperr.DatabaseError("update delivery status", err)
		}
		matched = applied
		if !applied {
			// An outranked write and a callback for a message that was
			// never stored both report false; only the latter is an orphan.
			existing, err := s.messages.GetByMessageID(ctx, Channel, messageID)
			if err != nil {
				return nil, apperr.DatabaseError("lookup message", err)
			}
			matched = existing != nil
		}
	}

	s.recordSuppression(ctx, ev, eventType)

	record := &domain.DeliveryEvent{
		EventID:     eventID,
		EventType:   eventType,
		RawType:     ev.Type,
		EventData:   rawData,
		DomainID:    dom.DomainID,
		ProcessedAt: domain.Now(),
	}
	switch {
	case messageID == "":
		record.Orphan = true
		record.OrphanReason = "status event without message id"
	case !matched:
		record.Orphan = true
		record.OrphanReason = "no matching message"
	}
	if err := s.events.Append(ctx, record); err != nil {
		s.log.WithError(err).WithField("event_id", eventID).Error("failed to append delivery event")
	}

	s.log.WithFields(map[string]any{
		"event_id":   eventID,
		"message_id": messageID,
		"status":     string(status),
		"applied":    applied,
		"orphan":     record.Orphan,
	}).Info("delivery status event processed")

	result := &Result{Status: StatusStatusUpdated, EventType: ev.Type, MessageID: messageID}
	if record.Orphan {
		result.Status = StatusOrphaned
	}
	return result, nil
}

// recordSuppression writes the suppression entry implied by a bounce or
// complaint. The store keeps the highest-ranked type per address.
func (s *Service) recordSuppression(ctx context.Context, ev *ProviderEvent, eventType domain.EventType) {
	var sType domain.SuppressionType
	var reason string
	switch eventType {
	case domain.EventEmailBounced:
		reason = "bounce"
		if strings.EqualFold(ev.Data.BounceType, "transient") || strings.EqualFold(ev.Data.BounceType, "soft") {
			sType = domain.SuppressionSoft
		} else {
			sType = domain.SuppressionHard
		}
	case domain.EventEmailComplained:
		sType = domain.SuppressionSpam
		reason = "complaint"
	default:
		return
	}

	email := ev.Recipient()
	if email == "" {
		return
	}
	added, err := s.suppressions.AddSuppression(ctx, &domain.Suppression{
		Email:     email,
		Type:      sType,
		Reason:    reason,
		CreatedAt: domain.Now(),
	})
	if err != nil {
		s.log.WithError(err).WithField("email", email).Error("failed to write suppression")
		return
	}
	if added {
		s.log.WithFields(map[string]any{
			"email": email,
			"type":  string(sType),
		}).Info("address suppressed")
	}
}

// ingestReceived handles an inbound email: inbox resolution, thread
// resolution, security fan-out, persistence, and webhook dispatch.
func (s *Service) ingestReceived(ctx context.Context, eventID string, ev *ProviderEvent, rawData map[string]any, dom *domain.DomainEntry) (*Result, error) {
	recipient := ev.Recipient()
	localPart := localPartOf(recipient)

	inbox, err := s.domains.ResolveInbox(ctx, dom, localPart, "")
	if err != nil {
		return nil, apperr.DatabaseError("resolve inbox", err)
	}
	if inbox == nil {
		return s.recordOrphan(ctx, eventID, ev, rawData, dom.DomainID, "", "unknown inbox")
	}

	threadID := s.threads.Resolve(ctx, thread.ResolveInput{
		LocalPart:  localPart,
		References: []string(ev.Data.References),
		InReplyTo:  ev.Data.InReplyTo,
		MessageID:  ev.Data.MessageID,
	})

	scan := s.scanSecurity(ctx, ev, inbox.InboxID)
	if scan.Verdict() == domain.ActionReject {
		return s.recordBlocked(ctx, eventID, ev, rawData, dom, inbox, scan)
	}

	msg := s.buildMessage(ev, dom, inbox, threadID, scan)
	if err := s.messages.Upsert(ctx, msg); err != nil {
		return nil, apperr.DatabaseError("persist message", err)
	}

	if scan.Verdict() == domain.ActionAccept && s.indexer != nil {
		if err := s.indexer.Index(ctx, msg); err != nil {
			s.log.WithError(err).WithField("message_id", msg.MessageID).Warn("message indexing failed")
		}
	}

	if err := s.events.Append(ctx, &domain.DeliveryEvent{
		EventID:     eventID,
		EventType:   domain.EventEmailReceived,
		RawType:     ev.Type,
		EventData:   rawData,
		InboxID:     inbox.InboxID,
		DomainID:    dom.DomainID,
		ProcessedAt: domain.Now(),
	}); err != nil {
		s.log.WithError(err).WithField("event_id", eventID).Error("failed to append delivery event")
	}

	dispatched := s.dispatchWebhook(dom, inbox, ev, msg)

	s.log.WithFields(map[string]any{
		"event_id":   eventID,
		"inbox_id":   inbox.InboxID,
		"message_id": msg.MessageID,
		"thread_id":  threadID,
		"dispatched": dispatched,
	}).Info("inbound email ingested")

	return &Result{
		Status:     StatusAccepted,
		EventType:  ev.Type,
		MessageID:  msg.MessageID,
		ThreadID:   threadID,
		Dispatched: dispatched,
	}, nil
}

func (s *Service) buildMessage(ev *ProviderEvent, dom *domain.DomainEntry, inbox *domain.InboxEntry, threadID string, scan *domain.SecurityScan) *domain.UnifiedMessage {
	messageID := ev.Data.MessageID
	if messageID == "" {
		messageID = ev.Data.EmailID
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	now := domain.Now()
	msg := &domain.UnifiedMessage{
		Channel:      Channel,
		MessageID:    messageID,
		ThreadID:     threadID,
		Direction:    domain.DirectionInbound,
		Subject:      ev.Data.Subject,
		Participants: ev.participants(),
		Content:      ev.Data.Text,
		ContentHTML:  ev.Data.HTML,
		Attachments:  ev.attachments(),
		Metadata: domain.MessageMeta{
			MessageID:       ev.Data.MessageID,
			CustomMessageID: ev.Data.CustomMessageID,
			ProviderID:      ev.Data.EmailID,
			References:      []string(ev.Data.References),
			InReplyTo:       ev.Data.InReplyTo,
			InboxID:         inbox.InboxID,
			DomainID:        dom.DomainID,
			Security:        scan,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The routing token survives restarts through message metadata; the
	// resolver's database fallback looks it up there.
	if token, err := s.codec.Encode(threadID); err == nil {
		msg.Metadata.RoutingToken = token
	} else {
		s.log.WithError(err).Warn("routing token generation failed")
	}
	return msg
}

// scanSecurity fans out to the external scanners. A scanner failure leaves
// its verdict unchecked rather than blocking ingestion.
func (s *Service) scanSecurity(ctx context.Context, ev *ProviderEvent, inboxID string) *domain.SecurityScan {
	scan := &domain.SecurityScan{}
	input := &out.ScanInput{
		From:    ev.Data.From,
		Subject: ev.Data.Subject,
		Content: ev.Data.Text,
		InboxID: inboxID,
	}

	if s.spam != nil {
		verdict, err := s.spam.ScanSpam(ctx, input)
		if err != nil {
			s.log.WithError(err).Warn("spam scan failed")
		} else {
			scan.Spam = verdict
		}
	}
	if s.injection != nil {
		verdict, err := s.injection.ScanInjection(ctx, input)
		if err != nil {
			s.log.WithError(err).Warn("injection scan failed")
		} else {
			scan.PromptInjection = verdict
		}
	}
	return scan
}

// recordBlocked stores a rejected email in the blocked ledger and
// acknowledges the provider so it will not retry. The content never
// becomes a message.
func (s *Service) recordBlocked(ctx context.Context, eventID string, ev *ProviderEvent, rawData map[string]any, dom *domain.DomainEntry, inbox *domain.InboxEntry, scan *domain.SecurityScan) (*Result, error) {
	if err := s.blocked.Insert(ctx, &domain.BlockedEmail{
		EventID:   eventID,
		InboxID:   inbox.InboxID,
		DomainID:  dom.DomainID,
		From:      ev.Data.From,
		Subject:   ev.Data.Subject,
		Reason:    "security reject",
		Scan:      *scan,
		BlockedAt: time.Now().UTC(),
		CreatedAt: domain.Now(),
	}); err != nil {
		s.log.WithError(err).WithField("event_id", eventID).Error("failed to store blocked email")
	}

	if err := s.events.Append(ctx, &domain.DeliveryEvent{
		EventID:     eventID,
		EventType:   domain.EventEmailReceived,
		RawType:     ev.Type,
		EventData:   rawData,
		InboxID:     inbox.InboxID,
		DomainID:    dom.DomainID,
		ProcessedAt: domain.Now(),
	}); err != nil {
		s.log.WithError(err).WithField("event_id", eventID).Error("failed to append delivery event")
	}

	s.log.WithFields(map[string]any{
		"event_id": eventID,
		"inbox_id": inbox.InboxID,
		"from":     ev.Data.From,
	}).Warn("inbound email rejected by security scan")

	return &Result{Status: StatusBlocked, EventType: ev.Type}, nil
}

// recordOrphan stores an event that could not be resolved to a tenant,
// preserving it for forensics, and acknowledges the provider.
func (s *Service) recordOrphan(ctx context.Context, eventID string, ev *ProviderEvent, rawData map[string]any, domainID, inboxID, reason string) (*Result, error) {
	if err := s.events.Append(ctx, &domain.DeliveryEvent{
		EventID:      eventID,
		EventType:    domain.ParseEventType(ev.Type),
		RawType:      ev.Type,
		EventData:    rawData,
		InboxID:      inboxID,
		DomainID:     domainID,
		Orphan:       true,
		OrphanReason: reason,
		ProcessedAt:  domain.Now(),
	}); err != nil {
		s.log.WithError(err).WithField("event_id", eventID).Error("failed to append orphan event")
	}

	s.log.WithFields(map[string]any{
		"event_id": eventID,
		"reason":   reason,
	}).Warn("orphan event recorded")

	return &Result{Status: StatusOrphaned, EventType: ev.Type}, nil
}

// dispatchWebhook enqueues the outbound delivery when the inbox has a
// webhook. The handoff never blocks the provider response.
func (s *Service) dispatchWebhook(dom *domain.DomainEntry, inbox *domain.InboxEntry, ev *ProviderEvent, msg *domain.UnifiedMessage) bool {
	if !inbox.HasWebhook() || s.dispatcher == nil {
		return false
	}

	payload, err := buildWebhookPayload(dom, inbox, ev, msg)
	if err != nil {
		s.log.WithError(err).WithField("inbox_id", inbox.InboxID).Error("failed to build webhook payload")
		return false
	}

	secret := inbox.WebhookSecret
	if secret == "" {
		secret = dom.WebhookSecret
	}
	return s.dispatcher.Enqueue(deliveryRequest(dom, inbox, msg, payload, secret))
}

func deliveryRequest(dom *domain.DomainEntry, inbox *domain.InboxEntry, msg *domain.UnifiedMessage, payload, secret string) delivery.DeliverRequest {
	orgID := inbox.OrgID
	if orgID == "" {
		orgID = dom.OrgID
	}
	return delivery.DeliverRequest{
		InboxID:       inbox.InboxID,
		OrgID:         orgID,
		MessageID:     msg.MessageID,
		Endpoint:      inbox.WebhookEndpoint,
		Payload:       payload,
		WebhookSecret: secret,
	}
}

func localPartOf(address string) string {
	if i := strings.Index(address, "@"); i >= 0 {
		return address[:i]
	}
	return address
}
