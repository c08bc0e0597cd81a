package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOutcome_ByStatus(t *testing.T) {
	baseDelivered := testutil.ToFloat64(deliveryOutcomes.WithLabelValues("delivered"))
	baseThrottled := testutil.ToFloat64(deliveryOutcomes.WithLabelValues("throttled"))

	ObserveOutcome("delivered")
	ObserveOutcome("delivered")
	ObserveOutcome("throttled")

	if got := testutil.ToFloat64(deliveryOutcomes.WithLabelValues("delivered")); got != baseDelivered+2 {
		t.Fatalf("delivered = %v; want %v", got, baseDelivered+2)
	}
	if got := testutil.ToFloat64(deliveryOutcomes.WithLabelValues("throttled")); got != baseThrottled+1 {
		t.Fatalf("throttled = %v; want %v", got, baseThrottled+1)
	}
}

func TestCounters_Increment(t *testing.T) {
	checks := []struct {
		name  string
		read  func() float64
		bump  func()
		delta float64
	}{
		{"ledger conflicts", func() float64 { return testutil.ToFloat64(ledgerConflicts) }, LedgerConflict, 1},
		{"delivery unavailable", func() float64 { return testutil.ToFloat64(deliveryUnavailable) }, DeliveryUnavailable, 1},
		{"retry exhausted", func() float64 { return testutil.ToFloat64(retryExhausted) }, func() { RetryExhausted(3) }, 3},
		{"tokens removed", func() float64 { return testutil.ToFloat64(tokensRemoved) }, TokenRemoved, 1},
		{"ledger purged", func() float64 { return testutil.ToFloat64(ledgerPurged) }, func() { LedgerPurged(5) }, 5},
	}
	for _, c := range checks {
		before := c.read()
		c.bump()
		if got := c.read(); got != before+c.delta {
			t.Errorf("%s = %v; want %v", c.name, got, before+c.delta)
		}
	}
}

func TestRetryQueueDepth_AndDispatchHistogram(t *testing.T) {
	SetRetryQueueDepth(7)
	if got := testutil.ToFloat64(retryQueueDepth); got != 7 {
		t.Fatalf("queue depth = %v; want 7", got)
	}
	SetRetryQueueDepth(0)

	before := testutil.CollectAndCount(dispatchDuration)
	ObserveDispatch(25 * time.Millisecond)
	if after := testutil.CollectAndCount(dispatchDuration); after != before {
		// A plain histogram is always collected as one metric.
		t.Fatalf("histogram metric count changed: %d -> %d", before, after)
	}
}
