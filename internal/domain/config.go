package domain

import (
	"os"
	"strconv"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Gateway    GatewayConfig    `json:"gateway"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// SchedulerConfig holds rule-runner settings.
type SchedulerConfig struct {
	// Enabled turns the in-process ticker loop on. When false the engine
	// runs evaluation passes only via POST /rules/run (external cron).
	Enabled bool `json:"enabled"`

	TickSeconds        int `json:"tickSeconds"`
	MaxConcurrentRules int `json:"maxConcurrentRules"`
	EntityWorkers      int `json:"entityWorkers"`

	// ActionTimeoutSeconds bounds every platform mutation call.
	ActionTimeoutSeconds int `json:"actionTimeoutSeconds"`

	// RecordNotMatched persists execution records for entities whose
	// conditions did not match. Matched entities are always recorded.
	RecordNotMatched bool `json:"recordNotMatched"`
}

// GatewayConfig holds settings for the ad-platform integration gateway.
type GatewayConfig struct {
	BaseURL        string `json:"baseUrl"`
	APIKey         string `json:"-"`
	TimeoutSeconds int    `json:"timeoutSeconds"`

	// RetryMaxElapsedSeconds bounds backoff retries on metric reads.
	// Mutations are never retried within a cycle.
	RetryMaxElapsedSeconds int `json:"retryMaxElapsedSeconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			TickSeconds:          60,
			MaxConcurrentRules:   10,
			EntityWorkers:        10,
			ActionTimeoutSeconds: 30,
		},
		Gateway: GatewayConfig{
			BaseURL:                "http://localhost:8090",
			TimeoutSeconds:         30,
			RetryMaxElapsedSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// FromEnv builds the tier config and applies KESTREL_* overrides.
func FromEnv() *Config {
	cfg := DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = ProConfig()
	}

	envStr("KESTREL_HOST", &cfg.Server.Host)
	envInt("KESTREL_PORT", &cfg.Server.Port)

	envStr("KESTREL_DB_DRIVER", &cfg.Repository.Driver)
	envStr("KESTREL_SQLITE_PATH", &cfg.Repository.SQLitePath)
	envStr("KESTREL_PG_HOST", &cfg.Repository.PostgresHost)
	envInt("KESTREL_PG_PORT", &cfg.Repository.PostgresPort)
	envStr("KESTREL_PG_USER", &cfg.Repository.PostgresUser)
	envStr("KESTREL_PG_PASSWORD", &cfg.Repository.PostgresPassword)
	envStr("KESTREL_PG_DB", &cfg.Repository.PostgresDB)
	envStr("KESTREL_PG_SSLMODE", &cfg.Repository.PostgresSSLMode)

	envStr("KESTREL_REDIS_ADDR", &cfg.Cache.RedisAddr)
	envStr("KESTREL_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	envStr("KESTREL_NATS_URL", &cfg.EventBus.NATSUrl)
	envStr("KESTREL_NATS_TOKEN", &cfg.EventBus.NATSToken)

	if os.Getenv("KESTREL_SCHEDULER") == "off" {
		cfg.Scheduler.Enabled = false
	}
	envInt("KESTREL_SCHEDULER_TICK_SECONDS", &cfg.Scheduler.TickSeconds)
	envInt("KESTREL_ENTITY_WORKERS", &cfg.Scheduler.EntityWorkers)
	envInt("KESTREL_ACTION_TIMEOUT_SECONDS", &cfg.Scheduler.ActionTimeoutSeconds)
	if os.Getenv("KESTREL_RECORD_NOT_MATCHED") == "true" {
		cfg.Scheduler.RecordNotMatched = true
	}

	envStr("KESTREL_GATEWAY_URL", &cfg.Gateway.BaseURL)
	envStr("KESTREL_GATEWAY_API_KEY", &cfg.Gateway.APIKey)
	envInt("KESTREL_GATEWAY_TIMEOUT_SECONDS", &cfg.Gateway.TimeoutSeconds)

	envStr("KESTREL_LOG_LEVEL", &cfg.Logging.Level)

	return cfg
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
