package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- Load defaults ---

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api/v1" || cfg.DBPath != "notifier.db" {
		t.Fatalf("base defaults unexpected: %+v", cfg)
	}
	if cfg.Push.BatchSize != MaxPushBatchSize || cfg.Push.Timeout != 10*time.Second || cfg.Push.ServerKey != "" {
		t.Fatalf("push defaults unexpected: %+v", cfg.Push)
	}
	if cfg.Dispatch.Workers != 4 || cfg.Dispatch.Title != "New message" || cfg.Dispatch.MaxBodyRunes != 240 {
		t.Fatalf("dispatch defaults unexpected: %+v", cfg.Dispatch)
	}
	r := cfg.Retry
	if r.MaxAttempts != 5 || r.BaseDelay != time.Second || r.MaxDelay != 5*time.Minute || r.MaxElapsed != 24*time.Hour {
		t.Fatalf("retry defaults unexpected: %+v", r)
	}
	if cfg.Ledger.Retention != 72*time.Hour || cfg.Ledger.PurgeSchedule != "@every 1h" {
		t.Fatalf("ledger defaults unexpected: %+v", cfg.Ledger)
	}
	if cfg.TriggerSecret != "" {
		t.Fatalf("trigger auth should be disabled by default")
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_Overrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "hooks/") // -> "/hooks"

	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("RATE_RPS", "x")      // -> default 50
	t.Setenv("RATE_BURST", "nope") // -> default 100
	t.Setenv("TRIGGER_JWT_SECRET", "s3cret")

	t.Setenv("PUSH_ENDPOINT", "http://push.local/send")
	t.Setenv("PUSH_SERVER_KEY", "key")
	t.Setenv("PUSH_BATCH_SIZE", "100")
	t.Setenv("PUSH_TIMEOUT", "2s")
	t.Setenv("PUSH_RPS", "20")

	t.Setenv("DISPATCH_WORKERS", "8")
	t.Setenv("NOTIFICATION_TITLE", "   ") // blank -> default title
	t.Setenv("NOTIFICATION_MAX_BODY", "100")

	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("RETRY_BASE_DELAY", "500ms")
	t.Setenv("RETRY_MAX_DELAY", "1m")
	t.Setenv("RETRY_MAX_ELAPSED", "2h")
	t.Setenv("RETRY_WORKERS", "2")
	t.Setenv("RETRY_QUEUE_SIZE", "16")

	t.Setenv("LEDGER_RETENTION", "48h")
	t.Setenv("LEDGER_PURGE_SCHEDULE", "0 */6 * * *")

	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/hooks" {
		t.Fatalf("logging unexpected: %+v", cfg)
	}
	if cfg.DBPath != "db.sqlite" || cfg.TriggerSecret != "s3cret" {
		t.Fatalf("storage/auth unexpected: %+v", cfg)
	}
	if cfg.RateRPS != 50.0 || cfg.RateBurst != 100 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	want := PushConfig{Endpoint: "http://push.local/send", ServerKey: "key", BatchSize: 100, Timeout: 2 * time.Second, RatePerSec: 20}
	if cfg.Push != want {
		t.Fatalf("push unexpected: %+v", cfg.Push)
	}
	if cfg.Dispatch != (DispatchConfig{Workers: 8, Title: "New message", MaxBodyRunes: 100}) {
		t.Fatalf("dispatch unexpected: %+v", cfg.Dispatch)
	}
	wantRetry := RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: time.Minute, MaxElapsed: 2 * time.Hour, Workers: 2, QueueSize: 16}
	if cfg.Retry != wantRetry {
		t.Fatalf("retry unexpected: %+v", cfg.Retry)
	}
	if cfg.Ledger.Retention != 48*time.Hour || cfg.Ledger.PurgeSchedule != "0 */6 * * *" {
		t.Fatalf("ledger unexpected: %+v", cfg.Ledger)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"empty push endpoint", map[string]string{"PUSH_ENDPOINT": "  "}, "PUSH_ENDPOINT"},
		{"batch size too large", map[string]string{"PUSH_BATCH_SIZE": "501"}, "PUSH_BATCH_SIZE"},
		{"batch size zero", map[string]string{"PUSH_BATCH_SIZE": "0"}, "PUSH_BATCH_SIZE"},
		{"push timeout zero", map[string]string{"PUSH_TIMEOUT": "0s"}, "PUSH_TIMEOUT"},
		{"push rps negative", map[string]string{"PUSH_RPS": "-2"}, "PUSH_RPS"},
		{"dispatch workers zero", map[string]string{"DISPATCH_WORKERS": "0"}, "DISPATCH_WORKERS"},
		{"max body negative", map[string]string{"NOTIFICATION_MAX_BODY": "-1"}, "NOTIFICATION_MAX_BODY"},
		{"max attempts zero", map[string]string{"RETRY_MAX_ATTEMPTS": "0"}, "RETRY_MAX_ATTEMPTS"},
		{"base delay above max", map[string]string{"RETRY_BASE_DELAY": "10m"}, "RETRY_BASE_DELAY"},
		{"max elapsed zero", map[string]string{"RETRY_MAX_ELAPSED": "0s"}, "RETRY_MAX_ELAPSED"},
		{"retry workers zero", map[string]string{"RETRY_WORKERS": "0"}, "RETRY_WORKERS"},
		{"retention shorter than retry window", map[string]string{"LEDGER_RETENTION": "1h"}, "LEDGER_RETENTION"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_normalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":     "/",
		"v1":   "/v1",
		"/v1/": "/v1",
		" / ":  "/",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}

// Ensure tests don't inherit a PORT from the environment.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
