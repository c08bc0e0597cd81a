// Command notifier runs the chat push notification dispatcher: it accepts
// "message created" events over HTTP, fans them out to every device token of
// the room and retries throttled or transiently failed tokens in the
// background.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-notifier/internal/config"
	httpapi "github.com/tbourn/go-chat-notifier/internal/http"
	"github.com/tbourn/go-chat-notifier/internal/observability"
	"github.com/tbourn/go-chat-notifier/internal/push"
	"github.com/tbourn/go-chat-notifier/internal/repo"
	"github.com/tbourn/go-chat-notifier/internal/services"
	"github.com/tbourn/go-chat-notifier/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := sysutil.LoadDotenv(); err != nil {
		log.Fatal().Err(err).Msg("load .env")
	}
	cfg := config.MustLoad()
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("notifier stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	dispatcher := newDispatcher(cfg, db)

	// Retry passes outlive the signal context: the retrier is stopped once
	// the server has drained, and unfinished jobs stay in retry_jobs.
	retrier := services.NewRetrier(dispatcher, &services.GormRetryStore{DB: db},
		retryPolicy(cfg.Retry), cfg.Retry.Workers, cfg.Retry.QueueSize)
	if err := retrier.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer retrier.Stop()

	janitor := &services.LedgerJanitor{
		Ledger:    &services.GormLedger{DB: db},
		Retention: cfg.Ledger.Retention,
		Schedule:  cfg.Ledger.PurgeSchedule,
	}
	if _, err := janitor.RunOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("initial ledger purge failed")
	}
	if err := janitor.Start(ctx); err != nil {
		return err
	}
	defer janitor.Stop()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, dispatcher, retrier, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("notifier listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	notify(daemon.SdNotifyReady)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	notify(daemon.SdNotifyStopping)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	retrier.Stop()
	return nil
}

// newDispatcher selects the delivery client and applies dispatch tuning.
func newDispatcher(cfg config.Config, db *gorm.DB) *services.Dispatcher {
	d := &services.Dispatcher{
		Tokens:       &services.GormTokenStore{DB: db},
		Ledger:       &services.GormLedger{DB: db},
		Client:       newDeliveryClient(cfg.Push),
		Workers:      cfg.Dispatch.Workers,
		SendTimeout:  cfg.Push.Timeout,
		Title:        cfg.Dispatch.Title,
		MaxBodyRunes: cfg.Dispatch.MaxBodyRunes,
	}
	if cfg.Push.RatePerSec > 0 {
		d.Limiter = rate.NewLimiter(rate.Limit(cfg.Push.RatePerSec), max(1, int(cfg.Push.RatePerSec)))
	}
	return d
}

// newDeliveryClient returns the push client, or the log-only client when no
// server key is configured.
func newDeliveryClient(cfg config.PushConfig) services.DeliveryClient {
	if cfg.ServerKey == "" {
		log.Warn().Msg("PUSH_SERVER_KEY not set; notifications are logged, not sent")
		return push.LogClient{BatchSize: cfg.BatchSize}
	}
	return push.NewClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

func retryPolicy(cfg config.RetryConfig) services.RetryPolicy {
	return services.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		MaxElapsed:  cfg.MaxElapsed,
	}
}

// notify reports state to systemd; it is a no-op outside a notify unit.
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}
