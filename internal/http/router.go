// Package httpapi wires the Gin transport to the notifier: middleware, the
// intake webhook, the operator endpoints, health and metrics.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger
//  4. Recovery
//  5. body size limit
//  6. Prometheus metrics
//  7. API headers
//
// The API group adds TriggerAuth and then the rate limiter, so limits are
// keyed by the authenticated subject when there is one.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-notifier/internal/config"
	"github.com/tbourn/go-chat-notifier/internal/http/handlers"
	"github.com/tbourn/go-chat-notifier/internal/http/middleware"
	"github.com/tbourn/go-chat-notifier/internal/services"
)

// maxEventBytes caps webhook bodies; a message event is a few KiB at most.
const maxEventBytes = 256 << 10

// RegisterRoutes attaches middleware and endpoints to r. The dispatcher and
// retry queue are owned by the caller, which also starts and stops them.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, d handlers.Dispatcher, q handlers.RetryQueue, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxEventBytes))
	r.Use(middleware.Metrics())
	r.Use(middleware.APIHeaders())

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.New(d, q, &services.GormLedger{DB: db})
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySubjectOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.TriggerAuth(cfg.TriggerSecret), rl.Handler())
	{
		api.POST("/events/message-created", h.MessageCreated)
		api.GET("/events/:id/deliveries", h.ListDeliveries)
	}
}

// health pings the database; the token store and ledger live there.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps request bodies with http.MaxBytesReader; oversized bodies
// fail to bind and answer 400.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
