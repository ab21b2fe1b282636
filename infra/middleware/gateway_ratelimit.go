package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimiter provides per-IP rate limiting
type RateLimiter struct {
	requests map[string]*requestInfo
	mu       sync.RWMutex
	limit    int
	window   time.Duration
}

type requestInfo struct {
	count     int
	expiresAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string]*requestInfo),
		limit:    limit,
		window:   window,
	}

	// Cleanup goroutine
	go func() {
		ticker := time.NewTicker(time.Minute)
		for range ticker.C {
			rl.cleanup()
		}
	}()

	return rl
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, info := range rl.requests {
		if now.After(info.expiresAt) {
			delete(rl.requests, key)
		}
	}
}

func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()

		rl.mu.Lock()
		info, exists := rl.requests[key]
		now := time.Now()

		if !exists || now.After(info.expiresAt) {
			rl.requests[key] = &requestInfo{
				count:     1,
				expiresAt: now.Add(rl.window),
			}
			rl.mu.Unlock()
			setRateLimitHeaders(c, rl.limit, rl.limit-1, info)
			return c.Next()
		}

		remaining := rl.limit - info.count
		if info.count >= rl.limit {
			rl.mu.Unlock()
			setRateLimitHeaders(c, rl.limit, 0, info)
			return c.Status(429).JSON(fiber.Map{
				"error":       "rate limit exceeded",
				"code":        "RATE_LIMITED",
				"retry_after": int(info.expiresAt.Sub(now).Seconds()),
			})
		}

		info.count++
		rl.mu.Unlock()

		setRateLimitHeaders(c, rl.limit, remaining-1, info)
		return c.Next()
	}
}

func setRateLimitHeaders(c *fiber.Ctx, limit, remaining int, info *requestInfo) {
	c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	if info != nil {
		c.Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.expiresAt.Unix()))
	}
}

// EndpointLimit defines a rate limit for a specific route prefix
type EndpointLimit struct {
	Limit  int
	Window time.Duration

	requests map[string]*requestInfo
	mu       sync.RWMutex
}

// PrefixRateLimiter applies per-IP limits with overrides for specific
// route prefixes. Ingest routes take provider bursts, so they carry a
// higher limit than the management surface.
type PrefixRateLimiter struct {
	base           *RateLimiter
	endpointLimits map[string]*EndpointLimit
	mu             sync.RWMutex
}

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	BaseLimit int           // Requests per IP across all routes
	Window    time.Duration // Time window
}

// DefaultRateLimitConfig returns default configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		BaseLimit: 500,
		Window:    time.Minute,
	}
}

// NewPrefixRateLimiter creates a rate limiter with per-prefix overrides
func NewPrefixRateLimiter(config RateLimitConfig) *PrefixRateLimiter {
	rl := &PrefixRateLimiter{
		base:           NewRateLimiter(config.BaseLimit, config.Window),
		endpointLimits: make(map[string]*EndpointLimit),
	}

	// Cleanup goroutine
	go func() {
		ticker := time.NewTicker(time.Minute)
		for range ticker.C {
			rl.cleanup()
		}
	}()

	return rl
}

// RegisterEndpoint adds a custom rate limit for a specific route prefix
func (rl *PrefixRateLimiter) RegisterEndpoint(pattern string, limit int, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.endpointLimits[pattern] = &EndpointLimit{
		Limit:    limit,
		Window:   window,
		requests: make(map[string]*requestInfo),
	}
}

func (rl *PrefixRateLimiter) cleanup() {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	now := time.Now()
	for _, el := range rl.endpointLimits {
		el.mu.Lock()
		for key, info := range el.requests {
			if now.After(info.expiresAt) {
				delete(el.requests, key)
			}
		}
		el.mu.Unlock()
	}
}

// Handler returns the rate limiting middleware
func (rl *PrefixRateLimiter) Handler() fiber.Handler {
	baseHandler := rl.base.Handler()

	return func(c *fiber.Ctx) error {
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		path := c.Path()
		now := time.Now()

		rl.mu.RLock()
		var matched *EndpointLimit
		for pattern, el := range rl.endpointLimits {
			if matchesPattern(path, pattern) {
				matched = el
				break
			}
		}
		rl.mu.RUnlock()

		if matched == nil {
			return baseHandler(c)
		}

		key := c.IP()
		matched.mu.Lock()
		info, exists := matched.requests[key]

		if !exists || now.After(info.expiresAt) {
			matched.requests[key] = &requestInfo{
				count:     1,
				expiresAt: now.Add(matched.Window),
			}
			matched.mu.Unlock()
			setRateLimitHeaders(c, matched.Limit, matched.Limit-1, nil)
			return c.Next()
		}

		if info.count >= matched.Limit {
			matched.mu.Unlock()
			setRateLimitHeaders(c, matched.Limit, 0, info)
			return c.Status(429).JSON(fiber.Map{
				"error":       "rate limit exceeded",
				"code":        "RATE_LIMITED",
				"retry_after": int(info.expiresAt.Sub(now).Seconds()),
			})
		}

		info.count++
		remaining := matched.Limit - info.count
		matched.mu.Unlock()

		setRateLimitHeaders(c, matched.Limit, remaining, info)
		return c.Next()
	}
}

// matchesPattern checks if a path matches a pattern prefix
func matchesPattern(path, pattern string) bool {
	return len(path) >= len(pattern) && path[:len(pattern)] == pattern
}
