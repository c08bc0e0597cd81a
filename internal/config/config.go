// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// intake server, logging, the token/ledger database, the push transport,
// fan-out dispatch, the retry policy, ledger retention, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxPushBatchSize is the largest multicast batch the push transport accepts.
const MaxPushBatchSize = 500

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-notifier")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// PushConfig describes the push-notification transport.
type PushConfig struct {
	Endpoint   string        // PUSH_ENDPOINT
	ServerKey  string        // PUSH_SERVER_KEY; empty selects the log-only client
	BatchSize  int           // PUSH_BATCH_SIZE in [1..500]
	Timeout    time.Duration // PUSH_TIMEOUT per Send call
	RatePerSec float64       // PUSH_RPS; 0 disables pacing
}

// DispatchConfig tunes the fan-out dispatcher and notification payload.
type DispatchConfig struct {
	Workers      int    // DISPATCH_WORKERS concurrent batches per request
	Title        string // NOTIFICATION_TITLE
	MaxBodyRunes int    // NOTIFICATION_MAX_BODY
}

// RetryConfig holds the retry policy and the retry scheduler sizing.
type RetryConfig struct {
	MaxAttempts int           // RETRY_MAX_ATTEMPTS (passes, including the first)
	BaseDelay   time.Duration // RETRY_BASE_DELAY
	MaxDelay    time.Duration // RETRY_MAX_DELAY
	MaxElapsed  time.Duration // RETRY_MAX_ELAPSED
	Workers     int           // RETRY_WORKERS
	QueueSize   int           // RETRY_QUEUE_SIZE
}

// LedgerConfig controls garbage collection of delivery ledger entries.
type LedgerConfig struct {
	Retention     time.Duration // LEDGER_RETENTION
	PurgeSchedule string        // LEDGER_PURGE_SCHEDULE (cron spec or descriptor)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s, covers the synchronous first pass
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath string // SQLite path holding participants and deliveries

	// Rate limiting of the intake webhook
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// TriggerSecret enables HS256 bearer authentication on API routes.
	TriggerSecret string

	Push     PushConfig
	Dispatch DispatchConfig
	Retry    RetryConfig
	Ledger   LedgerConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "notifier.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 50.0),
		RateBurst: getint("RATE_BURST", 100),

		TriggerSecret: getenv("TRIGGER_JWT_SECRET", ""),

		Push: PushConfig{
			Endpoint:   getenv("PUSH_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
			ServerKey:  getenv("PUSH_SERVER_KEY", ""),
			BatchSize:  getint("PUSH_BATCH_SIZE", MaxPushBatchSize),
			Timeout:    getdur("PUSH_TIMEOUT", 10*time.Second),
			RatePerSec: getfloat("PUSH_RPS", 0),
		},

		Dispatch: DispatchConfig{
			Workers:      getint("DISPATCH_WORKERS", 4),
			Title:        strings.TrimSpace(getenv("NOTIFICATION_TITLE", "New message")),
			MaxBodyRunes: getint("NOTIFICATION_MAX_BODY", 240),
		},

		Retry: RetryConfig{
			MaxAttempts: getint("RETRY_MAX_ATTEMPTS", 5),
			BaseDelay:   getdur("RETRY_BASE_DELAY", time.Second),
			MaxDelay:    getdur("RETRY_MAX_DELAY", 5*time.Minute),
			MaxElapsed:  getdur("RETRY_MAX_ELAPSED", 24*time.Hour),
			Workers:     getint("RETRY_WORKERS", 4),
			QueueSize:   getint("RETRY_QUEUE_SIZE", 1024),
		},

		Ledger: LedgerConfig{
			Retention:     getdur("LEDGER_RETENTION", 72*time.Hour),
			PurgeSchedule: strings.TrimSpace(getenv("LEDGER_PURGE_SCHEDULE", "@every 1h")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-notifier"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Dispatch.Title == "" {
		cfg.Dispatch.Title = "New message"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if strings.TrimSpace(cfg.Push.Endpoint) == "" {
		return cfg, errors.New("PUSH_ENDPOINT must not be empty")
	}
	if cfg.Push.BatchSize < 1 || cfg.Push.BatchSize > MaxPushBatchSize {
		return cfg, errors.New("PUSH_BATCH_SIZE must be between 1 and 500")
	}
	if cfg.Push.Timeout <= 0 {
		return cfg, errors.New("PUSH_TIMEOUT must be > 0")
	}
	if cfg.Push.RatePerSec < 0 {
		return cfg, errors.New("PUSH_RPS must be >= 0")
	}
	if cfg.Dispatch.Workers < 1 {
		return cfg, errors.New("DISPATCH_WORKERS must be >= 1")
	}
	if cfg.Dispatch.MaxBodyRunes < 0 {
		return cfg, errors.New("NOTIFICATION_MAX_BODY must be >= 0")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return cfg, errors.New("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return cfg, errors.New("RETRY_BASE_DELAY must be > 0 and <= RETRY_MAX_DELAY")
	}
	if cfg.Retry.MaxElapsed <= 0 {
		return cfg, errors.New("RETRY_MAX_ELAPSED must be > 0")
	}
	if cfg.Retry.Workers < 1 || cfg.Retry.QueueSize < 1 {
		return cfg, errors.New("RETRY_WORKERS and RETRY_QUEUE_SIZE must be >= 1")
	}
	// A redelivered event must still find its ledger rows.
	if cfg.Ledger.Retention < cfg.Retry.MaxElapsed {
		return cfg, errors.New("LEDGER_RETENTION must be >= RETRY_MAX_ELAPSED")
	}
	if cfg.Ledger.PurgeSchedule == "" {
		return cfg, errors.New("LEDGER_PURGE_SCHEDULE must not be empty")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
