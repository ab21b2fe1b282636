package security

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"gateway_server/core/port/out"
	"gateway_server/pkg/logger"
)

// =============================================================================
// Sending Health - per-org circuit breaker
// =============================================================================

// HealthConfig configures the per-org breakers.
type HealthConfig struct {
	FailureThreshold uint32        // Consecutive failures before the gate opens (default 5)
	Cooldown         time.Duration // Open duration before a probe is allowed (default 60s)
}

// DefaultHealthConfig returns sensible defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// SendingHealthAdapter gates outbound webhook delivery per tenant org. A
// run of failed deliveries opens the org's breaker; deliveries created
// while open skip the immediate attempt and go straight to the retry
// schedule.
type SendingHealthAdapter struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	config   HealthConfig
	log      *logger.Logger
}

// NewSendingHealthAdapter creates the per-org sending health gate.
func NewSendingHealthAdapter(cfg HealthConfig, log *logger.Logger) *SendingHealthAdapter {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultHealthConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultHealthConfig().Cooldown
	}
	if log == nil {
		log = logger.Default()
	}
	return &SendingHealthAdapter{
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		config:   cfg,
		log:      log,
	}
}

// AllowSend reports whether deliveries for the org should proceed.
func (a *SendingHealthAdapter) AllowSend(ctx context.Context, orgID string) bool {
	return a.breaker(orgID).State() != gobreaker.StateOpen
}

// Record feeds a delivery outcome into the org's breaker.
func (a *SendingHealthAdapter) Record(ctx context.Context, orgID string, success bool) {
	done, err := a.breaker(orgID).Allow()
	if err != nil {
		// Open breaker: the outcome came from a retry-path attempt and
		// still counts once the breaker probes again.
		return
	}
	done(success)
}

func (a *SendingHealthAdapter) breaker(orgID string) *gobreaker.TwoStepCircuitBreaker {
	a.mu.Lock()
	defer a.mu.Unlock()

	cb, ok := a.breakers[orgID]
	if !ok {
		threshold := a.config.FailureThreshold
		log := a.log
		cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:    "sending-health:" + orgID,
			Timeout: a.config.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(map[string]any{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("sending health state changed")
			},
		})
		a.breakers[orgID] = cb
	}
	return cb
}

// Ensure interface compliance
var _ out.SendingHealth = (*SendingHealthAdapter)(nil)
