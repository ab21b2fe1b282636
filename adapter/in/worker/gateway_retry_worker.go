// Package worker hosts the background loops of the gateway.
package worker

import (
	"context"
	"time"

	"gateway_server/core/port/out"
	"gateway_server/core/service/delivery"
	"gateway_server/pkg/logger"
)

// =============================================================================
// RetryWorker - scheduled webhook redelivery
// =============================================================================

// RetryConfig configures the retry worker loops.
type RetryConfig struct {
	Interval          time.Duration // Claim cycle period (default 60s)
	BatchSize         int           // Deliveries claimed per cycle (default 20)
	ReaperInterval    time.Duration // Stale-pending sweep period (default 5m)
	StalePendingAfter time.Duration // Age before a pending claim counts as orphaned (default 120s)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Interval:          60 * time.Second,
		BatchSize:         20,
		ReaperInterval:    5 * time.Minute,
		StalePendingAfter: 120 * time.Second,
	}
}

// RetryWorker periodically claims retry-eligible deliveries and re-runs
// the attempt logic. Claims are atomic at the store, so instances sharing
// the store never double-deliver a claim. Attempts within a batch run
// sequentially to bound outbound connections.
type RetryWorker struct {
	deliveries out.DeliveryRepository
	engine     *delivery.Engine
	config     RetryConfig
	log        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetryWorker creates a retry worker.
func NewRetryWorker(deliveries out.DeliveryRepository, engine *delivery.Engine, cfg RetryConfig, log *logger.Logger) *RetryWorker {
	def := DefaultRetryConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = def.ReaperInterval
	}
	if cfg.StalePendingAfter <= 0 {
		cfg.StalePendingAfter = def.StalePendingAfter
	}
	if log == nil {
		log = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RetryWorker{
		deliveries: deliveries,
		engine:     engine,
		config:     cfg,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start launches the claim and reaper loops.
func (w *RetryWorker) Start() {
	w.log.WithFields(map[string]any{
		"interval":   w.config.Interval.String(),
		"batch_size": w.config.BatchSize,
	}).Info("retry worker starting")
	go w.run()
}

// Stop signals the loops and waits for the current batch to finish.
// In-flight attempts complete or time out naturally; at-least-once
// delivery tolerates the overlap.
func (w *RetryWorker) Stop() {
	w.cancel()
	<-w.done
	w.log.Info("retry worker stopped")
}

func (w *RetryWorker) run() {
	defer close(w.done)

	claimTicker := time.NewTicker(w.config.Interval)
	defer claimTicker.Stop()
	reapTicker := time.NewTicker(w.config.ReaperInterval)
	defer reapTicker.Stop()

	w.processBatch()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-claimTicker.C:
			w.processBatch()
		case <-reapTicker.C:
			w.reapStale()
		}
	}
}

// processBatch claims one batch and replays each delivery sequentially.
func (w *RetryWorker) processBatch() {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.Interval)
	defer cancel()

	claimed, err := w.deliveries.ClaimRetryBatch(ctx, w.config.BatchSize)
	if err != nil {
		w.log.WithError(err).Error("failed to claim retry batch")
		return
	}
	if len(claimed) == 0 {
		return
	}

	w.log.WithField("count", len(claimed)).Info("claimed retry batch")
	for _, d := range claimed {
		if w.ctx.Err() != nil {
			return
		}
		if _, err := w.engine.Attempt(w.ctx, d); err != nil {
			w.log.WithError(err).WithField("delivery_id", d.DeliveryID).Error("retry attempt failed to record")
		}
	}
}

// reapStale re-queues pending claims orphaned by a crash mid-attempt.
func (w *RetryWorker) reapStale() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-w.config.StalePendingAfter)
	n, err := w.deliveries.ReapStalePending(ctx, cutoff)
	if err != nil {
		w.log.WithError(err).Error("stale pending reaper failed")
		return
	}
	if n > 0 {
		w.log.WithField("count", n).Warn("requeued stale pending deliveries")
	}
}
