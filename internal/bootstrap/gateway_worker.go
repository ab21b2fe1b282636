package bootstrap

import (
	"context"
	"os"

	"gateway_server/adapter/in/worker"
	"gateway_server/config"
	"gateway_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker runs the delivery retry loop outside the request path.
type Worker struct {
	retry  *worker.RetryWorker
	deps   *Dependencies
	ctx    context.Context
	cancel context.CancelFunc
	zlog   zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "gateway-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		retry:  NewRetryWorker(deps),
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	return w, cleanup, nil
}

// Start runs the retry worker and blocks until Stop is called.
func (w *Worker) Start() {
	w.zlog.Info().
		Str("instance", w.deps.Config.InstanceID).
		Dur("interval", w.deps.Config.RetryInterval).
		Msg("Starting delivery retry worker")
	w.retry.Start()
	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.retry.Stop()
	w.zlog.Info().Msg("Delivery retry worker stopped")
}
