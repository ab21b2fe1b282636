package thread

import (
	"context"
	"strings"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/pkg/logger"
)

// =============================================================================
// Domain Resolver - recipient address -> tenant domain + inbox
// =============================================================================

// DomainResolver maps inbound recipient addresses to tenant domains and
// inboxes, enforcing tenant isolation on every lookup.
type DomainResolver struct {
	inboxes out.InboxRepository
	log     *logger.Logger
}

// NewDomainResolver creates a new domain resolver.
func NewDomainResolver(inboxes out.InboxRepository, log *logger.Logger) *DomainResolver {
	if log == nil {
		log = logger.Default()
	}
	return &DomainResolver{inboxes: inboxes, log: log}
}

// ResolveDomain resolves the tenant domain for a recipient address. The
// recipient's domain part wins over an out-of-band domain id hint, because
// multiple providers may route different domains to the same endpoint.
func (r *DomainResolver) ResolveDomain(ctx context.Context, recipient, domainIDHint string) (*domain.DomainEntry, error) {
	if name := domainPart(recipient); name != "" {
		entry, err := r.inboxes.GetDomainByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
		r.log.WithField("domain", name).Debug("recipient domain not registered, trying hint")
	}

	if domainIDHint != "" {
		return r.inboxes.GetDomainByID(ctx, domainIDHint)
	}
	return nil, nil
}

// ResolveInbox resolves the inbox for a local part on a domain. Plus-tags
// are routing signals, not address material, and are stripped before the
// match. A caller-supplied orgID that matches neither the domain nor the
// inbox resolves to not-found so cross-tenant existence never leaks.
func (r *DomainResolver) ResolveInbox(ctx context.Context, dom *domain.DomainEntry, localPart, orgID string) (*domain.InboxEntry, error) {
	if dom == nil {
		return nil, nil
	}
	if orgID != "" && dom.OrgID != "" && dom.OrgID != orgID {
		return nil, nil
	}

	base, _ := SplitPlusTag(localPart)
	inbox, err := r.inboxes.GetInbox(ctx, dom.DomainID, base)
	if err != nil {
		return nil, err
	}
	if inbox == nil || !inbox.Active {
		return nil, nil
	}

	// Shared domains carry no org id; isolation falls to the inbox.
	if orgID != "" && dom.OrgID == "" && inbox.OrgID != orgID {
		return nil, nil
	}
	return inbox, nil
}

// SplitPlusTag splits a local part into its base address and plus-tag.
func SplitPlusTag(localPart string) (base, tag string) {
	if i := strings.Index(localPart, "+"); i >= 0 {
		return localPart[:i], localPart[i+1:]
	}
	return localPart, ""
}

func domainPart(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return strings.ToLower(strings.TrimSpace(address[i+1:]))
	}
	return ""
}
