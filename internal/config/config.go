// Package config loads the relay's full configuration surface from
// environment variables (with an optional .env file via godotenv, the way
// seabird-chat-seabird-nwwsio-plugin/cmd/seabird-nwwsio-plugin/main.go
// loads NWWSIO_USERNAME/NWWSIO_PASSWORD), applying defaults and validation
// in the style of
// couchcryptid-storm-data-etl-service/internal/config/config.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Receiver holds the XMPP weather-wire connection and liveness settings.
type Receiver struct {
	Username      string
	Password      string
	Server        string
	Port          int
	ConferenceRoom string

	AutoReconnect          bool
	ReconnectDelay         time.Duration
	MaxReconnectDelay      time.Duration
	ReconnectBackoffFactor float64
	MaxReconnectAttempts   int
	MaxAuthFailures        int

	KeepaliveInterval time.Duration
	MessageTimeout    time.Duration
	MaxQueueSize      int
}

// ErrorPolicy holds a pipeline's error-handling strategy and its knobs.
type ErrorPolicy struct {
	Strategy                    string // fail_fast | continue | retry | circuit_breaker
	MaxRetries                  int
	RetryDelay                  time.Duration
	MaxRetryDelay               time.Duration
	BackoffMultiplier           float64
	CircuitBreakerThreshold     int
	CircuitBreakerTimeout       time.Duration
}

// Pipeline holds the C4 pipeline engine's bounds and error policy.
type Pipeline struct {
	MaxQueueSize             int
	ProcessingTimeout        time.Duration
	ShutdownDrainGracePeriod time.Duration
	ErrorPolicy              ErrorPolicy
}

// Dedup holds the duplicate-suppression filter's LRU+TTL bounds.
type Dedup struct {
	WindowSize    int
	WindowSeconds time.Duration
}

// MQTT holds the C5 sink's broker connection and publish defaults.
type MQTT struct {
	Broker               string
	Port                 int
	Username             string
	Password             string
	ClientID             string
	TopicPrefix          string
	QoS                  byte
	Retain               bool
	MessageExpiryMinutes int
}

// DB holds the C6 sink's connection settings.
type DB struct {
	DatabaseURL        string
	PoolSize           int
	PoolRecycleSeconds time.Duration
}

// DBCleanup holds the C6 background retention-cleanup policy.
type DBCleanup struct {
	Enabled                  bool
	IntervalHours            int
	DryRunMode               bool
	MaxDeletionsPerCycle     int
	RespectProductExpiration bool
	RespectVTECExpiration    bool
	RespectUGCExpiration     bool
	UseProductSpecificRetention bool
	VTECExpirationBufferHours   int
	DefaultRetentionDays        int
	ShortDurationRetentionHours int
	MediumDurationRetentionHours int
	LongDurationRetentionHours   int
	RoutineRetentionHours        int
	AdministrativeRetentionDays  int
}

// Logging holds the zerolog sink configuration.
type Logging struct {
	Level        string
	Format       string // text | json
	File         string
	MaxFileSizeMB int
	BackupCount  int
	Structured   bool
}

// Dashboard holds the out-of-scope HTTP exposure settings, carried through
// unchanged as an external collaborator surface.
type Dashboard struct {
	ListenAddr         string
	ListenPort         int
	PollIntervalSeconds int
}

// Config is the full configuration surface enumerated in spec §6.
type Config struct {
	Receiver  Receiver
	Pipeline  Pipeline
	Dedup     Dedup
	MQTT      MQTT
	DB        DB
	DBCleanup DBCleanup
	Logging   Logging
	Dashboard Dashboard

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment (after loading a .env file
// if present), applies defaults, and validates required fields.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Receiver: Receiver{
			Username:       os.Getenv("NWWSIO_USERNAME"),
			Password:       os.Getenv("NWWSIO_PASSWORD"),
			Server:         envOrDefault("NWWSIO_SERVER", "nwws-oi.weather.gov"),
			Port:           envOrDefaultInt("NWWSIO_PORT", 5222),
			ConferenceRoom: envOrDefault("NWWSIO_ROOM", "nwws@conference.nwws-oi.weather.gov"),

			AutoReconnect:          envOrDefaultBool("RECEIVER_AUTO_RECONNECT", true),
			ReconnectDelay:         envOrDefaultDuration("RECEIVER_RECONNECT_DELAY", time.Second),
			MaxReconnectDelay:      envOrDefaultDuration("RECEIVER_MAX_RECONNECT_DELAY", 60*time.Second),
			ReconnectBackoffFactor: envOrDefaultFloat("RECEIVER_RECONNECT_BACKOFF_FACTOR", 2.0),
			MaxReconnectAttempts:   envOrDefaultInt("RECEIVER_MAX_RECONNECT_ATTEMPTS", 0), // 0 = unlimited
			MaxAuthFailures:        envOrDefaultInt("RECEIVER_MAX_AUTH_FAILURES", 3),

			KeepaliveInterval: envOrDefaultDuration("RECEIVER_KEEPALIVE_INTERVAL", 60*time.Second),
			MessageTimeout:    envOrDefaultDuration("RECEIVER_MESSAGE_TIMEOUT", 30*time.Second),
			MaxQueueSize:      envOrDefaultInt("RECEIVER_MAX_QUEUE_SIZE", 5000),
		},
		Pipeline: Pipeline{
			MaxQueueSize:             envOrDefaultInt("PIPELINE_MAX_QUEUE_SIZE", 5000),
			ProcessingTimeout:        envOrDefaultDuration("PIPELINE_PROCESSING_TIMEOUT_SECONDS", 30*time.Second),
			ShutdownDrainGracePeriod: envOrDefaultDuration("PIPELINE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
			ErrorPolicy: ErrorPolicy{
				Strategy:                envOrDefault("PIPELINE_ERROR_HANDLING_STRATEGY", "continue"),
				MaxRetries:              envOrDefaultInt("PIPELINE_MAX_RETRIES", 3),
				RetryDelay:              envOrDefaultDuration("PIPELINE_RETRY_DELAY_SECONDS", time.Second),
				MaxRetryDelay:           envOrDefaultDuration("PIPELINE_MAX_RETRY_DELAY_SECONDS", 30*time.Second),
				BackoffMultiplier:       envOrDefaultFloat("PIPELINE_BACKOFF_MULTIPLIER", 2.0),
				CircuitBreakerThreshold: envOrDefaultInt("PIPELINE_CIRCUIT_BREAKER_THRESHOLD", 5),
				CircuitBreakerTimeout:   envOrDefaultDuration("PIPELINE_CIRCUIT_BREAKER_TIMEOUT_SECONDS", 30*time.Second),
			},
		},
		Dedup: Dedup{
			WindowSize:    envOrDefaultInt("DEDUP_WINDOW_SIZE", 1000),
			WindowSeconds: envOrDefaultDuration("DEDUP_WINDOW_SECONDS", 10*time.Minute),
		},
		MQTT: MQTT{
			Broker:               envOrDefault("MQTT_BROKER", "localhost"),
			Port:                 envOrDefaultInt("MQTT_PORT", 1883),
			Username:             os.Getenv("MQTT_USERNAME"),
			Password:             os.Getenv("MQTT_PASSWORD"),
			ClientID:             envOrDefault("MQTT_CLIENT_ID", "nwws-relay"),
			TopicPrefix:          envOrDefault("MQTT_TOPIC_PREFIX", "nwws"),
			QoS:                  byte(envOrDefaultInt("MQTT_QOS", 1)),
			Retain:               envOrDefaultBool("MQTT_RETAIN", false),
			MessageExpiryMinutes: envOrDefaultInt("MQTT_MESSAGE_EXPIRY_MINUTES", 60),
		},
		DB: DB{
			DatabaseURL:        envOrDefault("DB_DATABASE_URL", "nwws-relay.db"),
			PoolSize:           envOrDefaultInt("DB_POOL_SIZE", 10),
			PoolRecycleSeconds: envOrDefaultDuration("DB_POOL_RECYCLE_SECONDS", 30*time.Minute),
		},
		DBCleanup: DBCleanup{
			Enabled:                     envOrDefaultBool("DB_CLEANUP_ENABLED", true),
			IntervalHours:               envOrDefaultInt("DB_CLEANUP_INTERVAL_HOURS", 6),
			DryRunMode:                  envOrDefaultBool("DB_CLEANUP_DRY_RUN_MODE", false),
			MaxDeletionsPerCycle:        envOrDefaultInt("DB_CLEANUP_MAX_DELETIONS_PER_CYCLE", 500),
			RespectProductExpiration:    envOrDefaultBool("DB_CLEANUP_RESPECT_PRODUCT_EXPIRATION", true),
			RespectVTECExpiration:       envOrDefaultBool("DB_CLEANUP_RESPECT_VTEC_EXPIRATION", true),
			RespectUGCExpiration:        envOrDefaultBool("DB_CLEANUP_RESPECT_UGC_EXPIRATION", true),
			UseProductSpecificRetention: envOrDefaultBool("DB_CLEANUP_USE_PRODUCT_SPECIFIC_RETENTION", true),
			VTECExpirationBufferHours:   envOrDefaultInt("DB_CLEANUP_VTEC_EXPIRATION_BUFFER_HOURS", 2),
			DefaultRetentionDays:        envOrDefaultInt("DB_CLEANUP_DEFAULT_RETENTION_DAYS", 7),
			ShortDurationRetentionHours: envOrDefaultInt("DB_CLEANUP_SHORT_DURATION_RETENTION_HOURS", 1),
			MediumDurationRetentionHours: envOrDefaultInt("DB_CLEANUP_MEDIUM_DURATION_RETENTION_HOURS", 24),
			LongDurationRetentionHours:   envOrDefaultInt("DB_CLEANUP_LONG_DURATION_RETENTION_HOURS", 72),
			RoutineRetentionHours:        envOrDefaultInt("DB_CLEANUP_ROUTINE_RETENTION_HOURS", 12),
			AdministrativeRetentionDays:  envOrDefaultInt("DB_CLEANUP_ADMINISTRATIVE_RETENTION_DAYS", 30),
		},
		Logging: Logging{
			Level:         envOrDefault("LOG_LEVEL", "info"),
			Format:        envOrDefault("LOG_FORMAT", "text"),
			File:          os.Getenv("LOG_FILE"),
			MaxFileSizeMB: envOrDefaultInt("LOG_MAX_FILE_SIZE_MB", 100),
			BackupCount:   envOrDefaultInt("LOG_BACKUP_COUNT", 3),
			Structured:    envOrDefaultBool("LOG_STRUCTURED", true),
		},
		Dashboard: Dashboard{
			ListenAddr:          envOrDefault("DASHBOARD_LISTEN_ADDR", "0.0.0.0"),
			ListenPort:          envOrDefaultInt("DASHBOARD_LISTEN_PORT", 8080),
			PollIntervalSeconds: envOrDefaultInt("DASHBOARD_POLL_INTERVAL_SECONDS", 10),
		},
		ShutdownTimeout: envOrDefaultDuration("SHUTDOWN_TIMEOUT", 60*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Receiver.Username == "" {
		return errors.New("NWWSIO_USERNAME is required")
	}
	if c.Receiver.Password == "" {
		return errors.New("NWWSIO_PASSWORD is required")
	}
	if c.Receiver.ConferenceRoom == "" {
		return errors.New("NWWSIO_ROOM is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1, or 2, got %d", c.MQTT.QoS)
	}
	switch c.Pipeline.ErrorPolicy.Strategy {
	case "fail_fast", "continue", "retry", "circuit_breaker":
	default:
		return fmt.Errorf("PIPELINE_ERROR_HANDLING_STRATEGY must be one of fail_fast|continue|retry|circuit_breaker, got %q", c.Pipeline.ErrorPolicy.Strategy)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Logging.Format)
	}
	if c.DB.DatabaseURL == "" {
		return errors.New("DB_DATABASE_URL is required")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
