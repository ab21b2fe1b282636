package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateInstanceID creates a unique instance ID using hostname and PID
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "gateway"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	InstanceID  string

	// Database
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Encryption
	EncryptionKey         string
	EncryptionKeyPrevious string
	AllowKeyRotation      bool

	// Inbound webhook
	WebhookTolerance time.Duration
	DedupTTL         time.Duration
	DedupMaxEntries  int

	// Outbound delivery
	DeliveryMaxAttempts    int
	DeliveryAttemptTimeout time.Duration
	RetryInterval          time.Duration
	RetryBatchSize         int
	ReaperInterval         time.Duration
	StalePendingAfter      time.Duration
	DispatchQueueSize      int

	// Thread routing
	TokenCacheMaxEntries int
	TokenCacheTTL        time.Duration
	TokenSigningSecret   string

	// Security scanners (external collaborators)
	SpamScannerURL      string
	InjectionScannerURL string

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		InstanceID:  getEnv("INSTANCE_ID", generateInstanceID()),

		// Database
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailgateway"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Encryption
		EncryptionKey:         getEnv("ENCRYPTION_KEY", ""),
		EncryptionKeyPrevious: getEnv("ENCRYPTION_KEY_PREVIOUS", ""),
		AllowKeyRotation:      getEnvBool("ENCRYPTION_KEY_ALLOW_ROTATION", false),

		// Inbound webhook
		WebhookTolerance: time.Duration(getEnvInt("WEBHOOK_TOLERANCE_SEC", 300)) * time.Second,
		DedupTTL:         time.Duration(getEnvInt("DEDUP_TTL_MIN", 30)) * time.Minute,
		DedupMaxEntries:  getEnvInt("DEDUP_MAX_ENTRIES", 10000),

		// Outbound delivery
		DeliveryMaxAttempts:    getEnvInt("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryAttemptTimeout: time.Duration(getEnvInt("DELIVERY_ATTEMPT_TIMEOUT_SEC", 30)) * time.Second,
		RetryInterval:          time.Duration(getEnvInt("RETRY_INTERVAL_SEC", 60)) * time.Second,
		RetryBatchSize:         getEnvInt("RETRY_BATCH_SIZE", 20),
		ReaperInterval:         time.Duration(getEnvInt("REAPER_INTERVAL_SEC", 300)) * time.Second,
		StalePendingAfter:      time.Duration(getEnvInt("STALE_PENDING_SEC", 120)) * time.Second,
		DispatchQueueSize:      getEnvInt("DISPATCH_QUEUE_SIZE", 1000),

		// Thread routing
		TokenCacheMaxEntries: getEnvInt("TOKEN_CACHE_MAX_ENTRIES", 10000),
		TokenCacheTTL:        time.Duration(getEnvInt("TOKEN_CACHE_TTL_HOUR", 24)) * time.Hour,
		TokenSigningSecret:   getEnv("TOKEN_SIGNING_SECRET", ""),

		// Security scanners
		SpamScannerURL:      getEnv("SPAM_SCANNER_URL", ""),
		InjectionScannerURL: getEnv("INJECTION_SCANNER_URL", ""),

		// Circuit breaker
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         time.Duration(getEnvInt("BREAKER_COOLDOWN_SEC", 60)) * time.Second,

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be set")
	}
	if cfg.TokenSigningSecret == "" {
		// Routing tokens must stay verifiable across restarts; deriving the
		// signing secret from the encryption key keeps single-key deployments
		// working without extra configuration.
		cfg.TokenSigningSecret = cfg.EncryptionKey
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
