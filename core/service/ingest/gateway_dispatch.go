package ingest

import (
	"context"
	"sync"
	"time"

	"gateway_server/core/service/delivery"
	"gateway_server/pkg/logger"
)

// =============================================================================
// Dispatch Queue - fire-and-forget webhook handoff
// =============================================================================

// Dispatcher decouples inbound ingestion from outbound webhook delivery.
// The ingest handler enqueues and returns; a worker goroutine drains the
// queue. The queue is bounded: when full, the job is dropped and logged
// rather than blocking the provider response.
type Dispatcher struct {
	engine *delivery.Engine
	jobs   chan delivery.DeliverRequest
	log    *logger.Logger

	wg   sync.WaitGroup
	once sync.Once
}

// NewDispatcher creates a dispatcher with the given queue capacity and
// starts its worker.
func NewDispatcher(engine *delivery.Engine, queueSize int, log *logger.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if log == nil {
		log = logger.Default()
	}
	d := &Dispatcher{
		engine: engine,
		jobs:   make(chan delivery.DeliverRequest, queueSize),
		log:    log,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue hands a delivery job to the worker. Returns false when the queue
// is full; the delivery is lost on this instance and must be considered a
// dropped dispatch.
func (d *Dispatcher) Enqueue(req delivery.DeliverRequest) bool {
	select {
	case d.jobs <- req:
		return true
	default:
		d.log.WithFields(map[string]any{
			"inbox_id":   req.InboxID,
			"message_id": req.MessageID,
		}).Error("dispatch queue full, webhook delivery dropped")
		return false
	}
}

// Stop closes the queue and waits for in-flight jobs to drain.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for req := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if _, err := d.engine.Deliver(ctx, req); err != nil {
			d.log.WithError(err).WithFields(map[string]any{
				"inbox_id":   req.InboxID,
				"message_id": req.MessageID,
			}).Error("webhook dispatch failed")
		}
		cancel()
	}
}
