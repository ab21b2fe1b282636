package thread

import (
	"context"
	"strings"

	"gateway_server/core/port/out"
	"gateway_server/pkg/logger"
)

// =============================================================================
// Thread Resolver - layered conversation lookup
// =============================================================================

// ResolveInput carries the routing signals of one inbound message.
type ResolveInput struct {
	LocalPart  string   // Recipient local part, plus-tag included
	References []string // References header, oldest first
	InReplyTo  string
	MessageID  string // This message's own Message-ID
}

// Resolver assigns inbound messages to conversation threads. The routing
// token is the authoritative signal because this system issued it; SMTP
// headers are an interoperability fallback since any provider in the path
// may rewrite them.
type Resolver struct {
	codec    *TokenCodec
	messages out.MessageRepository
	log      *logger.Logger
}

// NewResolver creates a new thread resolver.
func NewResolver(codec *TokenCodec, messages out.MessageRepository, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Default()
	}
	return &Resolver{codec: codec, messages: messages, log: log}
}

// Resolve returns the thread id for an inbound message, in strict priority
// order: routing token (cache, then database), SMTP header match against
// stored messages, then header fallbacks, then the message's own id.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) string {
	_, tag := SplitPlusTag(in.LocalPart)

	if tag != "" {
		if threadID, ok := r.resolveTag(ctx, tag); ok {
			return threadID
		}
	}

	if threadID, ok := r.resolveHeaders(ctx, in); ok {
		return threadID
	}

	// No stored match: this message starts, or restarts, a thread.
	if len(in.References) > 0 {
		return normalizeMessageID(in.References[0])
	}
	if in.InReplyTo != "" {
		return normalizeMessageID(in.InReplyTo)
	}
	return normalizeMessageID(in.MessageID)
}

func (r *Resolver) resolveTag(ctx context.Context, tag string) (string, bool) {
	if IsThreadPassthrough(tag) {
		return tag, true
	}

	if IsShortToken(tag) {
		if threadID, ok := r.codec.Decode(tag); ok {
			return threadID, true
		}
		// Cache lost on restart; the token survives in message metadata.
		msg, err := r.messages.FindByRoutingToken(ctx, tag)
		if err != nil {
			r.log.WithError(err).WithField("token", tag).Warn("routing token lookup failed")
			return "", false
		}
		if msg != nil && msg.ThreadID != "" {
			r.codec.Repopulate(tag, msg.ThreadID)
			return msg.ThreadID, true
		}
		return "", false
	}

	if IsFallbackToken(tag) {
		if threadID, ok := r.codec.DecodeFallback(tag); ok {
			return threadID, true
		}
		msg, err := r.messages.FindByRoutingToken(ctx, tag)
		if err != nil {
			r.log.WithError(err).WithField("token", tag).Warn("routing token lookup failed")
			return "", false
		}
		if msg != nil && msg.ThreadID != "" {
			return msg.ThreadID, true
		}
	}
	return "", false
}

func (r *Resolver) resolveHeaders(ctx context.Context, in ResolveInput) (string, bool) {
	candidates := expandCandidates(append(append([]string{}, in.References...), in.InReplyTo))
	if len(candidates) == 0 {
		return "", false
	}

	root, err := r.messages.FindThreadRootByMessageIDs(ctx, candidates)
	if err != nil {
		r.log.WithError(err).Warn("thread root lookup failed")
		return "", false
	}
	if root == nil {
		return "", false
	}
	if root.ThreadID != "" {
		return root.ThreadID, true
	}
	return root.MessageID, true
}

// expandCandidates turns raw header values into every equivalent Message-ID
// form, compensating for providers normalizing ids differently: with and
// without angle brackets, plus the bare local id before "@".
func expandCandidates(raw []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, r := range raw {
		id := normalizeMessageID(r)
		if id == "" {
			continue
		}
		add(id)
		add("<" + id + ">")
		if i := strings.Index(id, "@"); i > 0 {
			add(id[:i])
		}
	}
	return out
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}
