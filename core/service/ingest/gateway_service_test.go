package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/core/service/delivery"
	"gateway_server/core/service/thread"
	"gateway_server/pkg/apperr"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeInboxRepo struct {
	domains map[string]*domain.DomainEntry
	inboxes map[string]*domain.InboxEntry
}

func (f *fakeInboxRepo) GetDomainByName(ctx context.Context, name string) (*domain.DomainEntry, error) {
	return f.domains[name], nil
}
func (f *fakeInboxRepo) GetDomainByID(ctx context.Context, id string) (*domain.DomainEntry, error) {
	for _, d := range f.domains {
		if d.DomainID == id {
			return d, nil
		}
	}
	return nil, nil
}
func (f *fakeInboxRepo) GetInbox(ctx context.Context, domainID, localPart string) (*domain.InboxEntry, error) {
	return f.inboxes[domainID+"/"+localPart], nil
}
func (f *fakeInboxRepo) ListInboxes(ctx context.Context, domainID string) ([]*domain.InboxEntry, error) {
	return nil, nil
}

type fakeMessageRepo struct {
	messages map[string]*domain.UnifiedMessage
}

func (f *fakeMessageRepo) Upsert(ctx context.Context, msg *domain.UnifiedMessage) error {
	cp := *msg
	f.messages[msg.Channel+"/"+msg.MessageID] = &cp
	return nil
}
func (f *fakeMessageRepo) GetByMessageID(ctx context.Context, channel, messageID string) (*domain.UnifiedMessage, error) {
	return f.messages[channel+"/"+messageID], nil
}
func (f *fakeMessageRepo) UpdateDeliveryStatus(ctx context.Context, channel, messageID string, status domain.DeliveryStatus) (bool, error) {
	msg, ok := f.messages[channel+"/"+messageID]
	if !ok || !msg.Metadata.DeliveryStatus.OverwritableBy(status) {
		return false, nil
	}
	msg.Metadata.DeliveryStatus = status
	return true, nil
}
func (f *fakeMessageRepo) UpdateMetadata(ctx context.Context, channel, messageID string, patch map[string]any) error {
	return nil
}
func (f *fakeMessageRepo) FindThreadRootByMessageIDs(ctx context.Context, candidates []string) (*domain.UnifiedMessage, error) {
	return nil, nil
}
func (f *fakeMessageRepo) FindByRoutingToken(ctx context.Context, token string) (*domain.UnifiedMessage, error) {
	for _, m := range f.messages {
		if m.Metadata.RoutingToken == token {
			return m, nil
		}
	}
	return nil, nil
}
func (f *fakeMessageRepo) ListThread(ctx context.Context, threadID string, limit, offset int) ([]*domain.UnifiedMessage, error) {
	return nil, nil
}

type fakeEventRepo struct {
	events []*domain.DeliveryEvent
}

func (f *fakeEventRepo) Append(ctx context.Context, ev *domain.DeliveryEvent) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeEventRepo) ListByInbox(ctx context.Context, inboxID string, limit, offset int) ([]*domain.DeliveryEvent, error) {
	return nil, nil
}
func (f *fakeEventRepo) ListOrphans(ctx context.Context, limit, offset int) ([]*domain.DeliveryEvent, error) {
	return nil, nil
}

type fakeBlockedRepo struct {
	entries []*domain.BlockedEmail
}

func (f *fakeBlockedRepo) Insert(ctx context.Context, b *domain.BlockedEmail) error {
	f.entries = append(f.entries, b)
	return nil
}
func (f *fakeBlockedRepo) ListByInbox(ctx context.Context, inboxID string, limit, offset int) ([]*domain.BlockedEmail, error) {
	return nil, nil
}

type fakeSuppressionRepo struct {
	entries map[string]*domain.Suppression
}

func (f *fakeSuppressionRepo) AddSuppression(ctx context.Context, s *domain.Suppression) (bool, error) {
	if existing, ok := f.entries[s.Email]; ok && existing.Type.Rank() >= s.Type.Rank() {
		return false, nil
	}
	f.entries[s.Email] = s
	return true, nil
}
func (f *fakeSuppressionRepo) GetByEmail(ctx context.Context, email string) (*domain.Suppression, error) {
	return f.entries[email], nil
}
func (f *fakeSuppressionRepo) Remove(ctx context.Context, email string) error {
	delete(f.entries, email)
	return nil
}

type fakeDedup struct {
	seen map[string]bool
}

func (f *fakeDedup) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeScanner struct {
	spamAction      domain.SecurityAction
	injectionAction domain.SecurityAction
}

func (f *fakeScanner) ScanSpam(ctx context.Context, in *out.ScanInput) (*domain.SpamVerdict, error) {
	return &domain.SpamVerdict{Checked: true, Action: f.spamAction, Flagged: f.spamAction != domain.ActionAccept}, nil
}
func (f *fakeScanner) ScanInjection(ctx context.Context, in *out.ScanInput) (*domain.InjectionVerdict, error) {
	return &domain.InjectionVerdict{Checked: true, Action: f.injectionAction}, nil
}

type fakeIndexer struct {
	indexed atomic.Int32
}

func (f *fakeIndexer) Index(ctx context.Context, msg *domain.UnifiedMessage) error {
	f.indexed.Add(1)
	return nil
}

// engineRepo is the minimal delivery store behind the dispatch engine.
type engineRepo struct{}

func (engineRepo) Create(ctx context.Context, d *domain.WebhookDelivery) error { return nil }
func (engineRepo) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	return nil, nil
}
func (engineRepo) RecordAttempt(ctx context.Context, id string, a domain.WebhookDeliveryAttempt, u out.AttemptUpdate) error {
	return nil
}
func (engineRepo) ClaimRetryBatch(ctx context.Context, n int) ([]*domain.WebhookDelivery, error) {
	return nil, nil
}
func (engineRepo) Requeue(ctx context.Context, id string) (bool, error) { return false, nil }
func (engineRepo) ReapStalePending(ctx context.Context, t time.Time) (int64, error) {
	return 0, nil
}
func (engineRepo) ListDead(ctx context.Context, limit, offset int) ([]*domain.WebhookDelivery, error) {
	return nil, nil
}
func (engineRepo) GetEndpointHealth(ctx context.Context, orgID string) (*domain.EndpointHealth, error) {
	return nil, nil
}

// =============================================================================
// Test Harness
// =============================================================================

type harness struct {
	service    *Service
	messages   *fakeMessageRepo
	events     *fakeEventRepo
	blocked    *fakeBlockedRepo
	supp       *fakeSuppressionRepo
	indexer    *fakeIndexer
	dispatcher *Dispatcher
	endpoint   *httptest.Server
	hits       *atomic.Int32
}

func newHarness(t *testing.T, scanner *fakeScanner) *harness {
	t.Helper()

	var hits atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(endpoint.Close)

	inboxes := &fakeInboxRepo{
		domains: map[string]*domain.DomainEntry{
			"acme.example.com": {
				DomainID:      "dom_1",
				Domain:        "acme.example.com",
				OrgID:         "org_1",
				WebhookSecret: testSecret,
			},
		},
		inboxes: map[string]*domain.InboxEntry{
			"dom_1/sales": {
				InboxID:         "inb_1",
				DomainID:        "dom_1",
				OrgID:           "org_1",
				LocalPart:       "sales",
				WebhookEndpoint: endpoint.URL,
				WebhookSecret:   "whsec_inbox",
				Active:          true,
			},
		},
	}

	codec := thread.NewTokenCodec(thread.DefaultCodecConfig(), "test-secret")
	t.Cleanup(codec.Stop)

	messages := &fakeMessageRepo{messages: make(map[string]*domain.UnifiedMessage)}
	events := &fakeEventRepo{}
	blocked := &fakeBlockedRepo{}
	supp := &fakeSuppressionRepo{entries: make(map[string]*domain.Suppression)}
	indexer := &fakeIndexer{}

	engine := delivery.NewEngine(engineRepo{}, nil, delivery.EngineConfig{MaxAttempts: 1, AttemptTimeout: 5 * time.Second}, nil)
	dispatcher := NewDispatcher(engine, 16, nil)

	service := NewService(Dependencies{
		Verifier:     NewSignatureVerifier(5 * time.Minute),
		Dedup:        &fakeDedup{seen: make(map[string]bool)},
		Domains:      thread.NewDomainResolver(inboxes, nil),
		Threads:      thread.NewResolver(codec, messages, nil),
		Codec:        codec,
		Messages:     messages,
		Events:       events,
		Blocked:      blocked,
		Suppressions: supp,
		Spam:         scanner,
		Injection:    scanner,
		Indexer:      indexer,
		Dispatcher:   dispatcher,
	}, ServiceConfig{DedupTTL: time.Minute}, nil)

	return &harness{
		service:    service,
		messages:   messages,
		events:     events,
		blocked:    blocked,
		supp:       supp,
		indexer:    indexer,
		dispatcher: dispatcher,
		endpoint:   endpoint,
		hits:       &hits,
	}
}

func signedInput(t *testing.T, eventID string, event map[string]any) Input {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to build payload: %v", err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return Input{
		Body:      body,
		EventID:   eventID,
		Timestamp: ts,
		Signature: signFor(t, testSecret, eventID, ts, body),
	}
}

func receivedEvent(to string) map[string]any {
	return map[string]any{
		"type": "email.received",
		"data": map[string]any{
			"email_id":   "em_1",
			"from":       "customer@sender.example",
			"to":         []string{to},
			"subject":    "hello",
			"text":       "question about pricing",
			"message_id": "<m1@sender.example>",
		},
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestIngestAcceptedAndDispatched(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_a1", receivedEvent("sales@acme.example.com")))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", res.Status)
	}

	msg, _ := h.messages.GetByMessageID(context.Background(), Channel, res.MessageID)
	if msg == nil {
		t.Fatal("message not persisted")
	}
	if msg.ThreadID == "" {
		t.Error("message has no thread id")
	}
	if !thread.IsShortToken(msg.Metadata.RoutingToken) {
		t.Errorf("routing token %q not issued", msg.Metadata.RoutingToken)
	}
	if msg.Metadata.InboxID != "inb_1" || msg.Metadata.DomainID != "dom_1" {
		t.Errorf("tenant metadata = %s/%s, want inb_1/dom_1", msg.Metadata.InboxID, msg.Metadata.DomainID)
	}
	if msg.Metadata.Security == nil || msg.Metadata.Security.Spam == nil {
		t.Error("security scan not attached")
	}
	if len(h.events.events) != 1 || h.events.events[0].Orphan {
		t.Errorf("events = %+v, want one non-orphan record", h.events.events)
	}
	if h.indexer.indexed.Load() != 1 {
		t.Errorf("indexed %d messages, want 1", h.indexer.indexed.Load())
	}

	h.dispatcher.Stop()
	if h.hits.Load() != 1 {
		t.Errorf("tenant endpoint received %d deliveries, want 1", h.hits.Load())
	}
}

func TestIngestIdempotent(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})
	in := signedInput(t, "evt_dup", receivedEvent("sales@acme.example.com"))

	first, err := h.service.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	second, err := h.service.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	if first.Status != StatusAccepted {
		t.Errorf("first status = %s, want accepted", first.Status)
	}
	if second.Status != StatusDuplicate {
		t.Errorf("second status = %s, want duplicate", second.Status)
	}
	if len(h.messages.messages) != 1 {
		t.Errorf("persisted %d messages, want 1", len(h.messages.messages))
	}

	h.dispatcher.Stop()
	if h.hits.Load() != 1 {
		t.Errorf("tenant endpoint received %d deliveries, want 1", h.hits.Load())
	}
}

func TestIngestUnknownDomainOrphan(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_o1", receivedEvent("sales@stranger.example.com")))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusOrphaned {
		t.Errorf("status = %s, want orphaned", res.Status)
	}
	if len(h.events.events) != 1 || !h.events.events[0].Orphan {
		t.Fatalf("events = %+v, want one orphan record", h.events.events)
	}
	if h.events.events[0].OrphanReason != "unknown domain" {
		t.Errorf("orphan reason = %q", h.events.events[0].OrphanReason)
	}
	if len(h.messages.messages) != 0 {
		t.Error("orphan event persisted a message")
	}
}

func TestIngestUnknownInboxOrphan(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_o2", receivedEvent("nobody@acme.example.com")))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusOrphaned {
		t.Errorf("status = %s, want orphaned", res.Status)
	}
	if len(h.events.events) != 1 || h.events.events[0].OrphanReason != "unknown inbox" {
		t.Errorf("events = %+v, want one unknown-inbox orphan", h.events.events)
	}
}

func TestIngestInvalidSignatureRejectedWithoutSideEffects(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	in := signedInput(t, "evt_bad", receivedEvent("sales@acme.example.com"))
	in.Signature = "v1,Zm9yZ2VkLXNpZ25hdHVyZQ=="

	_, err := h.service.Ingest(context.Background(), in)
	if err == nil {
		t.Fatal("Ingest accepted a forged signature")
	}
	if apperr.GetHTTPStatus(err) != 400 {
		t.Errorf("error status = %d, want 400", apperr.GetHTTPStatus(err))
	}
	if len(h.messages.messages) != 0 || len(h.events.events) != 0 {
		t.Error("rejected request left side effects")
	}
}

func TestIngestRejectVerdictBlocked(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionReject, injectionAction: domain.ActionAccept})

	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_spam", receivedEvent("sales@acme.example.com")))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusBlocked {
		t.Errorf("status = %s, want blocked", res.Status)
	}
	if len(h.blocked.entries) != 1 {
		t.Fatalf("blocked ledger has %d entries, want 1", len(h.blocked.entries))
	}
	if h.blocked.entries[0].From != "customer@sender.example" {
		t.Errorf("blocked from = %q", h.blocked.entries[0].From)
	}
	if len(h.messages.messages) != 0 {
		t.Error("rejected email persisted as a message")
	}
	if h.indexer.indexed.Load() != 0 {
		t.Error("rejected email was indexed")
	}

	h.dispatcher.Stop()
	if h.hits.Load() != 0 {
		t.Errorf("tenant endpoint received %d deliveries for a blocked email", h.hits.Load())
	}
}

func TestIngestFlagVerdictPersistsWithoutIndexing(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionFlag, injectionAction: domain.ActionAccept})

	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_flag", receivedEvent("sales@acme.example.com")))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", res.Status)
	}

	msg, _ := h.messages.GetByMessageID(context.Background(), Channel, res.MessageID)
	if msg == nil {
		t.Fatal("flagged message not persisted")
	}
	if msg.Metadata.Security.Verdict() != domain.ActionFlag {
		t.Errorf("verdict = %s, want flag", msg.Metadata.Security.Verdict())
	}
	if h.indexer.indexed.Load() != 0 {
		t.Error("flagged message was indexed")
	}
}

func TestIngestBounceUpdatesStatusAndSuppresses(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	// Seed the outbound message the bounce refers to.
	h.messages.messages[Channel+"/<out1@acme.example.com>"] = &domain.UnifiedMessage{
		Channel:   Channel,
		MessageID: "<out1@acme.example.com>",
		Metadata:  domain.MessageMeta{DeliveryStatus: domain.StatusSent},
	}

	bounce := map[string]any{
		"type": "email.bounced",
		"data": map[string]any{
			"from":        "sales@acme.example.com",
			"message_id":  "<out1@acme.example.com>",
			"to":          []string{"gone@recipient.example"},
			"bounce_type": "permanent",
		},
	}
	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_b1", bounce))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusStatusUpdated {
		t.Errorf("status = %s, want status_updated", res.Status)
	}

	msg := h.messages.messages[Channel+"/<out1@acme.example.com>"]
	if msg.Metadata.DeliveryStatus != domain.StatusBounced {
		t.Errorf("delivery status = %s, want bounced", msg.Metadata.DeliveryStatus)
	}

	supp := h.supp.entries["gone@recipient.example"]
	if supp == nil || supp.Type != domain.SuppressionHard {
		t.Errorf("suppression = %+v, want hard", supp)
	}

	// A later soft bounce never downgrades the stored suppression.
	soft := map[string]any{
		"type": "email.bounced",
		"data": map[string]any{
			"from":        "sales@acme.example.com",
			"message_id":  "<out1@acme.example.com>",
			"to":          []string{"gone@recipient.example"},
			"bounce_type": "transient",
		},
	}
	if _, err := h.service.Ingest(context.Background(), signedInput(t, "evt_b2", soft)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if h.supp.entries["gone@recipient.example"].Type != domain.SuppressionHard {
		t.Error("hard suppression downgraded by soft bounce")
	}
}

func TestIngestStatusEventForUnknownMessageOrphaned(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	bounce := map[string]any{
		"type": "email.bounced",
		"data": map[string]any{
			"from":        "sales@acme.example.com",
			"message_id":  "<never-stored@acme.example.com>",
			"to":          []string{"gone@recipient.example"},
			"bounce_type": "permanent",
		},
	}
	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_b3", bounce))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusOrphaned {
		t.Errorf("status = %s, want orphaned", res.Status)
	}
	if len(h.events.events) != 1 {
		t.Fatalf("appended %d events, want 1", len(h.events.events))
	}
	if !h.events.events[0].Orphan {
		t.Error("status event for unmatched message not tagged orphan")
	}
	if h.events.events[0].OrphanReason != "no matching message" {
		t.Errorf("orphan reason = %q, want %q", h.events.events[0].OrphanReason, "no matching message")
	}

	// The address still bounced; suppression is recorded regardless.
	if supp := h.supp.entries["gone@recipient.example"]; supp == nil || supp.Type != domain.SuppressionHard {
		t.Errorf("suppression = %+v, want hard", supp)
	}
}

func TestIngestOutrankedStatusEventNotOrphaned(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	// Already bounced; a late delivery confirmation is outranked but it
	// does match a stored message, so it is not an orphan.
	h.messages.messages[Channel+"/<out2@acme.example.com>"] = &domain.UnifiedMessage{
		Channel:   Channel,
		MessageID: "<out2@acme.example.com>",
		Metadata:  domain.MessageMeta{DeliveryStatus: domain.StatusBounced},
	}

	delivered := map[string]any{
		"type": "email.delivered",
		"data": map[string]any{
			"from":       "sales@acme.example.com",
			"message_id": "<out2@acme.example.com>",
			"to":         []string{"gone@recipient.example"},
		},
	}
	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_d1", delivered))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusStatusUpdated {
		t.Errorf("status = %s, want status_updated", res.Status)
	}
	if len(h.events.events) != 1 || h.events.events[0].Orphan {
		t.Errorf("events = %+v, want one non-orphan record", h.events.events)
	}
	if got := h.messages.messages[Channel+"/<out2@acme.example.com>"].Metadata.DeliveryStatus; got != domain.StatusBounced {
		t.Errorf("delivery status = %s, want bounced preserved", got)
	}
}

func TestIngestComplaintReplacesBounce(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	h.messages.messages[Channel+"/<out3@acme.example.com>"] = &domain.UnifiedMessage{
		Channel:   Channel,
		MessageID: "<out3@acme.example.com>",
		Metadata:  domain.MessageMeta{DeliveryStatus: domain.StatusBounced},
	}

	complaint := map[string]any{
		"type": "email.complained",
		"data": map[string]any{
			"from":       "sales@acme.example.com",
			"message_id": "<out3@acme.example.com>",
			"to":         []string{"angry@recipient.example"},
		},
	}
	res, err := h.service.Ingest(context.Background(), signedInput(t, "evt_c1", complaint))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Status != StatusStatusUpdated {
		t.Errorf("status = %s, want status_updated", res.Status)
	}
	if got := h.messages.messages[Channel+"/<out3@acme.example.com>"].Metadata.DeliveryStatus; got != domain.StatusComplained {
		t.Errorf("delivery status = %s, want complained", got)
	}
}

func TestIngestMalformedPayload(t *testing.T) {
	h := newHarness(t, &fakeScanner{spamAction: domain.ActionAccept, injectionAction: domain.ActionAccept})

	_, err := h.service.Ingest(context.Background(), Input{
		Body:      []byte("not json"),
		EventID:   "evt_m1",
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		Signature: "v1,whatever",
	})
	if err == nil {
		t.Fatal("Ingest accepted a malformed body")
	}
	if apperr.GetHTTPStatus(err) != 400 {
		t.Errorf("error status = %d, want 400", apperr.GetHTTPStatus(err))
	}
}
