package bootstrap

import (
	"strings"
	"time"

	"gateway_server/adapter/in/http"
	"gateway_server/config"
	"gateway_server/infra/middleware"
	"gateway_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the fiber app serving the inbound webhook and the
// management surface.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "gateway-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Provider events carry full MIME bodies plus attachments metadata
		BodyLimit: 25 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,

		StreamRequestBody: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.ValidateContentType())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS applies to the management surface; providers post server-to-server
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if cfg.IsProduction() && (allowOrigins == "" || allowOrigins == "*") {
		allowOrigins = ""
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders: "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		MaxAge:        86400,
	}))

	// Rate limits: ingest takes provider bursts, management stays modest
	rateLimiter := middleware.NewPrefixRateLimiter(middleware.DefaultRateLimitConfig())
	rateLimiter.RegisterEndpoint("/webhook", 2000, time.Minute)
	rateLimiter.RegisterEndpoint("/webhooks", 2000, time.Minute)
	rateLimiter.RegisterEndpoint("/api/v1/webhook", 2000, time.Minute)
	app.Use(rateLimiter.Handler())

	// Health check (no auth required)
	healthHandler := http.NewHealthHandlerWithDeps(deps.Mongo, deps.Redis)
	healthHandler.Register(app)

	// Inbound provider webhook (signature-verified, not CORS traffic)
	webhookHandler := http.NewWebhookHandler(deps.Ingest, logger.Default())
	webhookHandler.Register(app)

	// Management surface
	api := app.Group("/api/v1")

	deliveryHandler := http.NewDeliveryHandlerWithMetrics(deps.Deliveries, deps.Engine.Latency(), logger.Default())
	deliveryHandler.Register(api)

	messageHandler := http.NewMessageHandler(deps.Messages, deps.Events, deps.Blocked)
	messageHandler.Register(api)

	logger.Info("API initialized: instance=%s env=%s", cfg.InstanceID, cfg.Environment)

	return app, cleanup, nil
}
