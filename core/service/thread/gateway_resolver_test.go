package thread

import (
	"context"
	"testing"

	"gateway_server/core/domain"
)

// fakeMessageRepo implements out.MessageRepository for resolver tests.
type fakeMessageRepo struct {
	byToken      map[string]*domain.UnifiedMessage
	byAnyID      map[string]*domain.UnifiedMessage
	tokenLookups int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		byToken: make(map[string]*domain.UnifiedMessage),
		byAnyID: make(map[string]*domain.UnifiedMessage),
	}
}

func (f *fakeMessageRepo) Upsert(ctx context.Context, msg *domain.UnifiedMessage) error { return nil }

func (f *fakeMessageRepo) GetByMessageID(ctx context.Context, channel, messageID string) (*domain.UnifiedMessage, error) {
	return nil, nil
}

func (f *fakeMessageRepo) UpdateDeliveryStatus(ctx context.Context, channel, messageID string, status domain.DeliveryStatus) (bool, error) {
	return false, nil
}

func (f *fakeMessageRepo) UpdateMetadata(ctx context.Context, channel, messageID string, patch map[string]any) error {
	return nil
}

func (f *fakeMessageRepo) FindThreadRootByMessageIDs(ctx context.Context, candidates []string) (*domain.UnifiedMessage, error) {
	var best *domain.UnifiedMessage
	for _, c := range candidates {
		if msg, ok := f.byAnyID[c]; ok {
			if best == nil || msg.CreatedAt < best.CreatedAt {
				best = msg
			}
		}
	}
	return best, nil
}

func (f *fakeMessageRepo) FindByRoutingToken(ctx context.Context, token string) (*domain.UnifiedMessage, error) {
	f.tokenLookups++
	return f.byToken[token], nil
}

func (f *fakeMessageRepo) ListThread(ctx context.Context, threadID string, limit, offset int) ([]*domain.UnifiedMessage, error) {
	return nil, nil
}

func TestResolveCachedTokenWinsOverHeaders(t *testing.T) {
	codec := newTestCodec(t)
	repo := newFakeMessageRepo()
	resolver := NewResolver(codec, repo, nil)

	token, err := codec.Encode("thread_sales")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// References point at a different stored thread; the token still wins.
	repo.byAnyID["unrelated@mail.example.com"] = &domain.UnifiedMessage{
		ThreadID:  "thread_unrelated",
		CreatedAt: "2026-01-01T00:00:00.000Z",
	}

	got := resolver.Resolve(context.Background(), ResolveInput{
		LocalPart:  "sales+" + token,
		References: []string{"<unrelated@mail.example.com>"},
		MessageID:  "<reply-1@sender.example>",
	})
	if got != "thread_sales" {
		t.Errorf("Resolve = %q, want thread_sales", got)
	}
	if repo.tokenLookups != 0 {
		t.Errorf("cache hit still reached the database %d times", repo.tokenLookups)
	}
}

func TestResolveTokenDatabaseFallbackRepopulatesCache(t *testing.T) {
	codec := newTestCodec(t)
	repo := newFakeMessageRepo()
	resolver := NewResolver(codec, repo, nil)

	// Token issued before a restart: not cached, but persisted in metadata.
	repo.byToken["t1a2b3c4d5e6f"] = &domain.UnifiedMessage{ThreadID: "thread_survivor"}

	in := ResolveInput{LocalPart: "support+t1a2b3c4d5e6f", MessageID: "<m1@x>"}
	if got := resolver.Resolve(context.Background(), in); got != "thread_survivor" {
		t.Fatalf("Resolve = %q, want thread_survivor", got)
	}
	if repo.tokenLookups != 1 {
		t.Fatalf("database lookups = %d, want 1", repo.tokenLookups)
	}

	// Second resolve hits the repopulated cache.
	if got := resolver.Resolve(context.Background(), in); got != "thread_survivor" {
		t.Fatalf("second Resolve = %q, want thread_survivor", got)
	}
	if repo.tokenLookups != 1 {
		t.Errorf("database lookups after repopulate = %d, want 1", repo.tokenLookups)
	}
}

func TestResolveSignedFallbackToken(t *testing.T) {
	codec := newTestCodec(t)
	resolver := NewResolver(codec, newFakeMessageRepo(), nil)

	tag := codec.FallbackToken("thread_signed")
	got := resolver.Resolve(context.Background(), ResolveInput{
		LocalPart: "sales+" + tag,
		MessageID: "<m2@x>",
	})
	if got != "thread_signed" {
		t.Errorf("Resolve = %q, want thread_signed", got)
	}
}

func TestResolveLegacyTokenViaDatabase(t *testing.T) {
	codec := newTestCodec(t)
	repo := newFakeMessageRepo()
	repo.byToken["r-old-style"] = &domain.UnifiedMessage{ThreadID: "thread_legacy"}
	resolver := NewResolver(codec, repo, nil)

	got := resolver.Resolve(context.Background(), ResolveInput{
		LocalPart: "sales+r-old-style",
		MessageID: "<m3@x>",
	})
	if got != "thread_legacy" {
		t.Errorf("Resolve = %q, want thread_legacy", got)
	}
}

func TestResolvePassthroughTags(t *testing.T) {
	resolver := NewResolver(newTestCodec(t), newFakeMessageRepo(), nil)

	for _, tag := range []string{"thread_direct", "conv_direct"} {
		got := resolver.Resolve(context.Background(), ResolveInput{
			LocalPart: "inbox+" + tag,
			MessageID: "<m4@x>",
		})
		if got != tag {
			t.Errorf("Resolve(%s) = %q, want tag passed through", tag, got)
		}
	}
}

func TestResolveHeaderMatchPicksEarliestRoot(t *testing.T) {
	repo := newFakeMessageRepo()
	repo.byAnyID["root@mail.example.com"] = &domain.UnifiedMessage{
		ThreadID:  "thread_root",
		CreatedAt: "2026-01-01T00:00:00.000Z",
	}
	repo.byAnyID["mid@mail.example.com"] = &domain.UnifiedMessage{
		ThreadID:  "thread_mid",
		CreatedAt: "2026-02-01T00:00:00.000Z",
	}
	resolver := NewResolver(newTestCodec(t), repo, nil)

	got := resolver.Resolve(context.Background(), ResolveInput{
		LocalPart:  "sales",
		References: []string{"<mid@mail.example.com>", "<root@mail.example.com>"},
		MessageID:  "<m5@x>",
	})
	if got != "thread_root" {
		t.Errorf("Resolve = %q, want earliest stored root thread_root", got)
	}
}

func TestResolveHeaderCandidateExpansion(t *testing.T) {
	repo := newFakeMessageRepo()
	// Stored without angle brackets; header arrives wrapped.
	repo.byAnyID["abc123@provider.example"] = &domain.UnifiedMessage{
		ThreadID:  "thread_norm",
		CreatedAt: "2026-01-01T00:00:00.000Z",
	}
	resolver := NewResolver(newTestCodec(t), repo, nil)

	got := resolver.Resolve(context.Background(), ResolveInput{
		LocalPart: "sales",
		InReplyTo: "<abc123@provider.example>",
		MessageID: "<m6@x>",
	})
	if got != "thread_norm" {
		t.Errorf("Resolve = %q, want thread_norm", got)
	}
}

func TestResolveFallbackChain(t *testing.T) {
	resolver := NewResolver(newTestCodec(t), newFakeMessageRepo(), nil)

	tests := []struct {
		name string
		in   ResolveInput
		want string
	}{
		{
			name: "first references entry",
			in: ResolveInput{
				LocalPart:  "sales",
				References: []string{"<ref1@x>", "<ref2@x>"},
				InReplyTo:  "<irt@x>",
				MessageID:  "<own@x>",
			},
			want: "ref1@x",
		},
		{
			name: "in-reply-to when no references",
			in: ResolveInput{
				LocalPart: "sales",
				InReplyTo: "<irt@x>",
				MessageID: "<own@x>",
			},
			want: "irt@x",
		},
		{
			name: "own message id starts a new thread",
			in: ResolveInput{
				LocalPart: "sales",
				MessageID: "<own@x>",
			},
			want: "own@x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolver.Resolve(context.Background(), tt.in); got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandCandidates(t *testing.T) {
	got := expandCandidates([]string{"<abc@provider.example>", "", "abc@provider.example"})

	want := map[string]bool{
		"abc@provider.example":   false,
		"<abc@provider.example>": false,
		"abc":                    false,
	}
	for _, c := range got {
		if _, ok := want[c]; !ok {
			t.Errorf("unexpected candidate %q", c)
			continue
		}
		want[c] = true
	}
	for c, seen := range want {
		if !seen {
			t.Errorf("missing candidate %q", c)
		}
	}
	if len(got) != len(want) {
		t.Errorf("expansion produced %d candidates, want %d deduplicated", len(got), len(want))
	}
}
