// Package thread resolves inbound replies to conversation threads.
package thread

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Token Codec - thread_id <-> routing token
// =============================================================================

// shortTokenPattern matches the primary routing-token format: "t" + 12 hex.
var shortTokenPattern = regexp.MustCompile(`^t[0-9a-f]{12}$`)

// CodecConfig configures the token codec cache.
type CodecConfig struct {
	MaxEntries    int           // Maximum cached token pairs (default 10000)
	TTL           time.Duration // Entry lifetime (default 24 hours)
	SweepInterval time.Duration // Expiry sweep period (default 5 minutes)
}

// DefaultCodecConfig returns sensible defaults for the token codec.
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		MaxEntries:    10000,
		TTL:           24 * time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}

type tokenEntry struct {
	threadID  string
	expiresAt time.Time
}

// TokenCodec encodes conversation thread ids into short routing tokens
// embedded in reply addresses. The primary path is a process-local
// bidirectional cache; tokens that survive a restart are recovered through
// the signed fallback format or a database lookup by the caller.
type TokenCodec struct {
	mu       sync.RWMutex
	byToken  map[string]*tokenEntry
	byThread map[string]string

	maxEntries    int
	ttl           time.Duration
	signingSecret []byte

	stop chan struct{}
	once sync.Once
}

// NewTokenCodec creates a token codec and starts its expiry sweep.
func NewTokenCodec(cfg CodecConfig, signingSecret string) *TokenCodec {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCodecConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCodecConfig().TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultCodecConfig().SweepInterval
	}

	c := &TokenCodec{
		byToken:       make(map[string]*tokenEntry),
		byThread:      make(map[string]string),
		maxEntries:    cfg.MaxEntries,
		ttl:           cfg.TTL,
		signingSecret: []byte(signingSecret),
		stop:          make(chan struct{}),
	}

	go c.sweepLoop(cfg.SweepInterval)

	return c
}

// Stop terminates the expiry sweep goroutine.
func (c *TokenCodec) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Encode returns a short routing token for the thread, reusing a cached
// token when one exists. Tokens are random; a collision check runs before
// insertion.
func (c *TokenCodec) Encode(threadID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token, ok := c.byThread[threadID]; ok {
		if entry, live := c.byToken[token]; live && time.Now().Before(entry.expiresAt) {
			return token, nil
		}
	}

	for i := 0; i < 5; i++ {
		token, err := randomShortToken()
		if err != nil {
			return "", err
		}
		if _, exists := c.byToken[token]; exists {
			continue
		}
		c.insert(token, threadID)
		return token, nil
	}
	return "", fmt.Errorf("token generation exhausted retries")
}

// Decode resolves a short token to its thread id via the cache.
func (c *TokenCodec) Decode(token string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.byToken[token]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		c.remove(token)
		c.mu.Unlock()
		return "", false
	}
	return entry.threadID, true
}

// Repopulate re-inserts a token pair recovered from the database, so
// subsequent replies on the same thread hit the cache again.
func (c *TokenCodec) Repopulate(token, threadID string) {
	if !IsShortToken(token) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(token, threadID)
}

// FallbackToken returns the signed opaque token for a thread. It is
// recoverable without the cache: the payload carries the thread id and the
// signature proves this system issued it.
func (c *TokenCodec) FallbackToken(threadID string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(threadID))
	return "r." + payload + "." + c.sign(payload)
}

// DecodeFallback verifies a signed fallback token and extracts its thread
// id. Legacy "r-" tokens carry no recoverable payload and return false; the
// caller falls through to a database lookup by the literal token.
func (c *TokenCodec) DecodeFallback(token string) (string, bool) {
	if !strings.HasPrefix(token, "r.") {
		return "", false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}
	payload, sig := parts[1], parts[2]
	if !hmac.Equal([]byte(sig), []byte(c.sign(payload))) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// Len returns the number of live cached token pairs.
func (c *TokenCodec) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byToken)
}

// IsShortToken reports whether the tag matches the short-token format.
func IsShortToken(tag string) bool {
	return shortTokenPattern.MatchString(tag)
}

// IsFallbackToken reports whether the tag is a signed or legacy fallback
// routing token.
func IsFallbackToken(tag string) bool {
	return strings.HasPrefix(tag, "r.") || strings.HasPrefix(tag, "r-")
}

// IsThreadPassthrough reports whether the tag is a raw thread id carried
// verbatim in the address tag.
func IsThreadPassthrough(tag string) bool {
	return strings.HasPrefix(tag, "thread_") || strings.HasPrefix(tag, "conv_")
}

func (c *TokenCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.signingSecret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)[:8])
}

// insert assumes c.mu is held.
func (c *TokenCodec) insert(token, threadID string) {
	if old, ok := c.byThread[threadID]; ok && old != token {
		delete(c.byToken, old)
	}
	if len(c.byToken) >= c.maxEntries {
		c.evictOldest()
	}
	c.byToken[token] = &tokenEntry{
		threadID:  threadID,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.byThread[threadID] = token
}

// remove assumes c.mu is held.
func (c *TokenCodec) remove(token string) {
	if entry, ok := c.byToken[token]; ok {
		if c.byThread[entry.threadID] == token {
			delete(c.byThread, entry.threadID)
		}
		delete(c.byToken, token)
	}
}

// evictOldest drops the entry closest to expiry. Assumes c.mu is held.
func (c *TokenCodec) evictOldest() {
	var oldestToken string
	var oldestAt time.Time
	for token, entry := range c.byToken {
		if oldestToken == "" || entry.expiresAt.Before(oldestAt) {
			oldestToken = token
			oldestAt = entry.expiresAt
		}
	}
	if oldestToken != "" {
		c.remove(oldestToken)
	}
}

func (c *TokenCodec) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *TokenCodec) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for token, entry := range c.byToken {
		if now.After(entry.expiresAt) {
			c.remove(token)
		}
	}
}

func randomShortToken() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return "t" + hex.EncodeToString(buf), nil
}
