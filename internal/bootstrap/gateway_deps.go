package bootstrap

import (
	"context"
	"time"

	"gateway_server/adapter/in/worker"
	"gateway_server/adapter/out/cache"
	"gateway_server/adapter/out/mongodb"
	"gateway_server/adapter/out/search"
	"gateway_server/adapter/out/security"
	"gateway_server/config"
	"gateway_server/core/port/out"
	"gateway_server/core/service/delivery"
	"gateway_server/core/service/ingest"
	"gateway_server/core/service/thread"
	"gateway_server/infra/database"
	"gateway_server/pkg/crypto"
	"gateway_server/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies wires the stores, resolvers, and services shared by the
// API and worker processes.
type Dependencies struct {
	Config *config.Config

	// Infrastructure
	Mongo *mongo.Client
	DB    *mongo.Database
	Redis *redis.Client
	Vault *crypto.Vault

	// Repositories
	Inboxes      out.InboxRepository
	Messages     out.MessageRepository
	Events       out.EventRepository
	Deliveries   out.DeliveryRepository
	Blocked      out.BlockedEmailRepository
	Suppressions out.SuppressionRepository

	// Collaborators
	Dedup          out.DedupCache
	Codec          *thread.TokenCodec
	DomainResolver *thread.DomainResolver
	ThreadResolver *thread.Resolver
	Health         out.SendingHealth
	Indexer        out.MessageIndexer

	// Services
	Engine     *delivery.Engine
	Dispatcher *ingest.Dispatcher
	Ingest     *ingest.Service
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Encryption vault
	var previousKey []byte
	if cfg.EncryptionKeyPrevious != "" {
		previousKey = []byte(cfg.EncryptionKeyPrevious)
	}
	vault, err := crypto.NewVault([]byte(cfg.EncryptionKey), previousKey, logger.Default())
	if err != nil {
		return nil, nil, err
	}
	deps.Vault = vault

	// MongoDB (system of record, required)
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
	if err != nil {
		return nil, nil, err
	}
	deps.Mongo = mongoClient
	cleanups = append(cleanups, func() {
		mongoClient.Disconnect(context.Background())
	})
	db := mongoClient.Database(cfg.MongoDBName)
	deps.DB = db

	// Key integrity guard. Booting with the wrong key would double-encrypt
	// stored secrets, so a fingerprint mismatch is fatal unless rotation
	// is explicitly allowed.
	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	keyLock := mongodb.NewKeyLockAdapter(db)
	if err := vault.VerifyKeyIntegrity(startupCtx, keyLock, cfg.AllowKeyRotation); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Repositories
	inboxes := mongodb.NewInboxAdapter(db, vault)
	messages := mongodb.NewMessageAdapter(db, vault)
	events := mongodb.NewEventAdapter(db)
	deliveries := mongodb.NewDeliveryAdapter(db, vault)
	blocked := mongodb.NewBlockedEmailAdapter(db)
	suppressions := mongodb.NewSuppressionAdapter(db)

	for name, ensurer := range map[string]interface {
		EnsureIndexes(ctx context.Context) error
	}{
		"inboxes":      inboxes,
		"messages":     messages,
		"events":       events,
		"deliveries":   deliveries,
		"blocked":      blocked,
		"suppressions": suppressions,
	} {
		if err := ensurer.EnsureIndexes(startupCtx); err != nil {
			logger.WithError(err).Warn("Failed to ensure %s indexes", name)
		}
	}

	deps.Inboxes = inboxes
	deps.Messages = messages
	deps.Events = events
	deps.Deliveries = deliveries
	deps.Blocked = blocked
	deps.Suppressions = suppressions

	// Redis (dedup and search indexing; degraded mode without it)
	memoryDedup := cache.NewMemoryDedup(cfg.DedupMaxEntries, 0)
	cleanups = append(cleanups, memoryDedup.Stop)

	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis connection failed, falling back to in-process dedup")
			deps.Dedup = memoryDedup
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			deps.Dedup = cache.NewFallbackDedup(cache.NewRedisDedup(redisClient), memoryDedup, logger.Default())
			deps.Indexer = search.NewStreamIndexer(redisClient)
		}
	} else {
		logger.Warn("REDIS_URL not set, dedup is per-instance only")
		deps.Dedup = memoryDedup
	}

	// Thread routing
	codec := thread.NewTokenCodec(thread.CodecConfig{
		MaxEntries: cfg.TokenCacheMaxEntries,
		TTL:        cfg.TokenCacheTTL,
	}, cfg.TokenSigningSecret)
	cleanups = append(cleanups, codec.Stop)
	deps.Codec = codec
	deps.DomainResolver = thread.NewDomainResolver(inboxes, logger.Default())
	deps.ThreadResolver = thread.NewResolver(codec, messages, logger.Default())

	// Outbound delivery
	deps.Health = security.NewSendingHealthAdapter(security.HealthConfig{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Cooldown:         cfg.BreakerCooldown,
	}, logger.Default())
	deps.Engine = delivery.NewEngine(deliveries, deps.Health, delivery.EngineConfig{
		MaxAttempts:    cfg.DeliveryMaxAttempts,
		AttemptTimeout: cfg.DeliveryAttemptTimeout,
	}, logger.Default())

	dispatcher := ingest.NewDispatcher(deps.Engine, cfg.DispatchQueueSize, logger.Default())
	cleanups = append(cleanups, dispatcher.Stop)
	deps.Dispatcher = dispatcher

	// Security scanners (optional external collaborators)
	var spam out.SpamScanner
	var injection out.InjectionScanner
	if cfg.SpamScannerURL != "" {
		spam = security.NewSpamAdapter(cfg.SpamScannerURL)
	}
	if cfg.InjectionScannerURL != "" {
		injection = security.NewInjectionAdapter(cfg.InjectionScannerURL)
	}

	// Ingest orchestrator
	deps.Ingest = ingest.NewService(ingest.Dependencies{
		Verifier:     ingest.NewSignatureVerifier(cfg.WebhookTolerance),
		Dedup:        deps.Dedup,
		Domains:      deps.DomainResolver,
		Threads:      deps.ThreadResolver,
		Codec:        codec,
		Messages:     messages,
		Events:       events,
		Blocked:      blocked,
		Suppressions: suppressions,
		Spam:         spam,
		Injection:    injection,
		Indexer:      deps.Indexer,
		Dispatcher:   dispatcher,
	}, ingest.ServiceConfig{DedupTTL: cfg.DedupTTL}, logger.Default())

	return deps, cleanup, nil
}

// NewRetryWorker builds the delivery retry worker from shared dependencies.
func NewRetryWorker(deps *Dependencies) *worker.RetryWorker {
	return worker.NewRetryWorker(deps.Deliveries, deps.Engine, worker.RetryConfig{
		Interval:          deps.Config.RetryInterval,
		BatchSize:         deps.Config.RetryBatchSize,
		ReaperInterval:    deps.Config.ReaperInterval,
		StalePendingAfter: deps.Config.StalePendingAfter,
	}, logger.Default())
}
