package thread

import (
	"context"
	"testing"

	"gateway_server/core/domain"
)

// fakeInboxRepo implements out.InboxRepository for resolver tests.
type fakeInboxRepo struct {
	domainsByName map[string]*domain.DomainEntry
	domainsByID   map[string]*domain.DomainEntry
	inboxes       map[string]*domain.InboxEntry // domainID + "/" + localPart
}

func newFakeInboxRepo() *fakeInboxRepo {
	return &fakeInboxRepo{
		domainsByName: make(map[string]*domain.DomainEntry),
		domainsByID:   make(map[string]*domain.DomainEntry),
		inboxes:       make(map[string]*domain.InboxEntry),
	}
}

func (f *fakeInboxRepo) addDomain(d *domain.DomainEntry) {
	f.domainsByName[d.Domain] = d
	f.domainsByID[d.DomainID] = d
}

func (f *fakeInboxRepo) addInbox(i *domain.InboxEntry) {
	f.inboxes[i.DomainID+"/"+i.LocalPart] = i
}

func (f *fakeInboxRepo) GetDomainByName(ctx context.Context, name string) (*domain.DomainEntry, error) {
	return f.domainsByName[name], nil
}

func (f *fakeInboxRepo) GetDomainByID(ctx context.Context, domainID string) (*domain.DomainEntry, error) {
	return f.domainsByID[domainID], nil
}

func (f *fakeInboxRepo) GetInbox(ctx context.Context, domainID, localPart string) (*domain.InboxEntry, error) {
	return f.inboxes[domainID+"/"+localPart], nil
}

func (f *fakeInboxRepo) ListInboxes(ctx context.Context, domainID string) ([]*domain.InboxEntry, error) {
	return nil, nil
}

func TestResolveDomainRecipientWinsOverHint(t *testing.T) {
	repo := newFakeInboxRepo()
	repo.addDomain(&domain.DomainEntry{DomainID: "dom_1", Domain: "acme.example.com"})
	repo.addDomain(&domain.DomainEntry{DomainID: "dom_2", Domain: "other.example.com"})
	r := NewDomainResolver(repo, nil)

	got, err := r.ResolveDomain(context.Background(), "sales@acme.example.com", "dom_2")
	if err != nil {
		t.Fatalf("ResolveDomain failed: %v", err)
	}
	if got == nil || got.DomainID != "dom_1" {
		t.Errorf("ResolveDomain picked %+v, want dom_1 from the recipient address", got)
	}
}

func TestResolveDomainHintFallback(t *testing.T) {
	repo := newFakeInboxRepo()
	repo.addDomain(&domain.DomainEntry{DomainID: "dom_2", Domain: "other.example.com"})
	r := NewDomainResolver(repo, nil)

	got, err := r.ResolveDomain(context.Background(), "sales@unregistered.example.com", "dom_2")
	if err != nil {
		t.Fatalf("ResolveDomain failed: %v", err)
	}
	if got == nil || got.DomainID != "dom_2" {
		t.Errorf("ResolveDomain = %+v, want hint domain dom_2", got)
	}
}

func TestResolveInboxStripsPlusTag(t *testing.T) {
	repo := newFakeInboxRepo()
	dom := &domain.DomainEntry{DomainID: "dom_1", Domain: "acme.example.com"}
	repo.addDomain(dom)
	repo.addInbox(&domain.InboxEntry{InboxID: "inb_1", DomainID: "dom_1", LocalPart: "sales", Active: true})
	r := NewDomainResolver(repo, nil)

	got, err := r.ResolveInbox(context.Background(), dom, "sales+t1a2b3c4d5e6f", "")
	if err != nil {
		t.Fatalf("ResolveInbox failed: %v", err)
	}
	if got == nil || got.InboxID != "inb_1" {
		t.Errorf("ResolveInbox = %+v, want inb_1", got)
	}
}

func TestResolveInboxInactiveNotFound(t *testing.T) {
	repo := newFakeInboxRepo()
	dom := &domain.DomainEntry{DomainID: "dom_1", Domain: "acme.example.com"}
	repo.addDomain(dom)
	repo.addInbox(&domain.InboxEntry{InboxID: "inb_1", DomainID: "dom_1", LocalPart: "sales", Active: false})
	r := NewDomainResolver(repo, nil)

	got, err := r.ResolveInbox(context.Background(), dom, "sales", "")
	if err != nil {
		t.Fatalf("ResolveInbox failed: %v", err)
	}
	if got != nil {
		t.Errorf("inactive inbox resolved: %+v", got)
	}
}

func TestResolveInboxTenantIsolation(t *testing.T) {
	repo := newFakeInboxRepo()
	owned := &domain.DomainEntry{DomainID: "dom_owned", Domain: "acme.example.com", OrgID: "org_a"}
	shared := &domain.DomainEntry{DomainID: "dom_shared", Domain: "shared.example.com"}
	repo.addDomain(owned)
	repo.addDomain(shared)
	repo.addInbox(&domain.InboxEntry{InboxID: "inb_owned", DomainID: "dom_owned", LocalPart: "sales", OrgID: "org_a", Active: true})
	repo.addInbox(&domain.InboxEntry{InboxID: "inb_shared", DomainID: "dom_shared", LocalPart: "sales", OrgID: "org_b", Active: true})
	r := NewDomainResolver(repo, nil)

	tests := []struct {
		name  string
		dom   *domain.DomainEntry
		orgID string
		want  string // empty means not-found
	}{
		{"matching org on owned domain", owned, "org_a", "inb_owned"},
		{"wrong org on owned domain", owned, "org_intruder", ""},
		{"no org supplied", owned, "", "inb_owned"},
		{"matching inbox org on shared domain", shared, "org_b", "inb_shared"},
		{"wrong inbox org on shared domain", shared, "org_a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveInbox(context.Background(), tt.dom, "sales", tt.orgID)
			if err != nil {
				t.Fatalf("ResolveInbox failed: %v", err)
			}
			if tt.want == "" {
				if got != nil {
					t.Errorf("ResolveInbox = %+v, want not-found", got)
				}
				return
			}
			if got == nil || got.InboxID != tt.want {
				t.Errorf("ResolveInbox = %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestSplitPlusTag(t *testing.T) {
	tests := []struct {
		in   string
		base string
		tag  string
	}{
		{"sales+t1a2b3c4d5e6f", "sales", "t1a2b3c4d5e6f"},
		{"sales", "sales", ""},
		{"sales+a+b", "sales", "a+b"},
		{"+tag", "", "tag"},
	}
	for _, tt := range tests {
		base, tag := SplitPlusTag(tt.in)
		if base != tt.base || tag != tt.tag {
			t.Errorf("SplitPlusTag(%q) = (%q, %q), want (%q, %q)", tt.in, base, tag, tt.base, tt.tag)
		}
	}
}
