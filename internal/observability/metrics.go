// Package observability wires tracing (OpenTelemetry) and the Prometheus
// collectors describing notification fan-out.
//
// Label cardinality is bounded: outcome collectors are labelled by delivery
// status only, never by room, event, or token.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// deliveryOutcomes counts per-token delivery outcomes by status.
	deliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_delivery_outcomes_total",
			Help: "Per-token push delivery outcomes.",
		},
		[]string{"status"},
	)

	// dispatchDuration records how long a single dispatch pass took.
	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifier_dispatch_duration_seconds",
			Help:    "Duration of one fan-out dispatch pass in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ledgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_ledger_conflicts_total",
		Help: "Ledger writes that found the (event, token) pair already recorded.",
	})

	deliveryUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_delivery_unavailable_total",
		Help: "Dispatch passes in which every batch failed at transport level.",
	})

	retryExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_retry_exhausted_total",
		Help: "Tokens reported as permanently failed after the retry policy was exhausted.",
	})

	tokensRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_tokens_removed_total",
		Help: "Stale device tokens removed from the token store.",
	})

	ledgerPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_ledger_purged_total",
		Help: "Ledger entries deleted after the retention window.",
	})

	retryQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_retry_queue_depth",
		Help: "Retry jobs held by the retry scheduler.",
	})
)

func init() {
	prometheus.MustRegister(
		deliveryOutcomes, dispatchDuration, ledgerConflicts, deliveryUnavailable,
		retryExhausted, tokensRemoved, ledgerPurged, retryQueueDepth,
	)
}

// ObserveOutcome counts one per-token outcome.
func ObserveOutcome(status string) { deliveryOutcomes.WithLabelValues(status).Inc() }

// ObserveDispatch records the duration of one dispatch pass.
func ObserveDispatch(d time.Duration) { dispatchDuration.Observe(d.Seconds()) }

// LedgerConflict counts a ledger write that lost the conditional insert.
func LedgerConflict() { ledgerConflicts.Inc() }

// DeliveryUnavailable counts a pass in which the delivery client was unreachable.
func DeliveryUnavailable() { deliveryUnavailable.Inc() }

// RetryExhausted counts n permanently failed tokens.
func RetryExhausted(n int) { retryExhausted.Add(float64(n)) }

// TokenRemoved counts one stale token cleanup.
func TokenRemoved() { tokensRemoved.Inc() }

// LedgerPurged counts n garbage-collected ledger entries.
func LedgerPurged(n int64) { ledgerPurged.Add(float64(n)) }

// SetRetryQueueDepth publishes the number of unfinished retry jobs.
func SetRetryQueueDepth(n int) { retryQueueDepth.Set(float64(n)) }
