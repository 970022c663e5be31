package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds the core runtime configuration for a service instance.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "arcus-adapter"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int    // service HTTP port

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	DatabaseURL string
	RedisAddr   string // e.g. localhost:6379
	RedisDB     int
	RedisPass   string
	NATSURL     string // e.g. nats://localhost:4222
	AWSRegion   string // for AWS SDK client

	// NATS subjects for outbound device/lock events.
	DeviceEventSubject string
	LockEventSubject   string

	CacheTTL    time.Duration // TTL for secret cache
	CleanupFreq time.Duration // frequency for cache cleanup goroutine

	// Arcus cloud endpoints. Three hosts: auth exchange, general device API,
	// and the separately-authenticated lock API.
	ArcusAuthHost string
	ArcusAPIHost  string
	ArcusLockHost string

	// Account credentials. Resolved from AWS Secrets Manager when
	// CredentialsSecret is set, otherwise read directly from the environment.
	ArcusEmail        string
	ArcusPassword     string
	ArcusAPIKey       string
	ArcusKeyID        string
	CredentialsSecret string // AWS SM secret name, optional

	RequestTimeout time.Duration // per-call budget for Arcus API requests
	TokenLifetime  time.Duration // heuristic access-token lifetime
	RefreshWindow  time.Duration // proactive refresh margin before expiry

	RatePerSecond int
	RateBurst     int

	SnapshotInterval time.Duration // background device-list refresh cadence
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: GetEnv("SERVICE_NAME", "arcus-adapter"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		Port:        GetEnvInt("ARCUS_PORT", 9020),

		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		DatabaseURL: GetEnv("DATABASE_URL", ""),
		RedisAddr:   GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     GetEnvInt("REDIS_DB", 0),
		RedisPass:   GetEnv("REDIS_PASS", ""),
		NATSURL:     GetEnv("NATS_URL", "nats://localhost:4222"),
		AWSRegion:   GetEnv("AWS_REGION", "us-east-2"),

		DeviceEventSubject: GetEnv("DEVICE_EVENT_SUBJECT", "evt.device.property_set.v1"),
		LockEventSubject:   GetEnv("LOCK_EVENT_SUBJECT", "evt.lock.action.v1"),

		CacheTTL:    GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq: GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),

		ArcusAuthHost: GetEnv("ARCUS_AUTH_HOST", "https://auth.arcuscloud.io"),
		ArcusAPIHost:  GetEnv("ARCUS_API_HOST", "https://api.arcuscloud.io"),
		ArcusLockHost: GetEnv("ARCUS_LOCK_HOST", "https://lock.arcuscloud.io"),

		ArcusEmail:        GetEnv("ARCUS_EMAIL", ""),
		ArcusPassword:     GetEnv("ARCUS_PASSWORD", ""),
		ArcusAPIKey:       GetEnv("ARCUS_API_KEY", ""),
		ArcusKeyID:        GetEnv("ARCUS_KEY_ID", ""),
		CredentialsSecret: GetEnv("ARCUS_CREDENTIALS_SECRET", ""),

		RequestTimeout: GetEnvDuration("ARCUS_REQUEST_TIMEOUT", 30*time.Second),
		TokenLifetime:  GetEnvDuration("ARCUS_TOKEN_LIFETIME", 48*time.Hour),
		RefreshWindow:  GetEnvDuration("ARCUS_REFRESH_WINDOW", 1*time.Hour),

		RatePerSecond: GetEnvInt("ARCUS_RATE_PER_SECOND", 5),
		RateBurst:     GetEnvInt("ARCUS_RATE_BURST", 10),

		SnapshotInterval: GetEnvDuration("ARCUS_SNAPSHOT_INTERVAL", 15*time.Minute),
	}

	return cfg
}
