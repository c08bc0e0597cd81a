package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-notifier/internal/domain"
	"github.com/tbourn/go-chat-notifier/internal/observability"
)

// RetryPolicy bounds the retry cycle of one request. MaxAttempts counts
// dispatch passes, the first one included. MaxElapsed is measured from the
// start of the first pass.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxElapsed  time.Duration
}

// DefaultRetryPolicy returns 5 passes, 1s base delay, 5m cap, 24h budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		MaxElapsed:  24 * time.Hour,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = def.MaxElapsed
	}
	return p
}

// next reports whether job gets another pass and how long to wait before it.
// The wait is the exponential backoff for the job's pass count, raised to the
// last Retry-After hint. No pass is granted once MaxAttempts passes ran or
// when the wait would end past the elapsed budget.
func (p RetryPolicy) next(job *domain.RetryJob, now time.Time) (time.Duration, bool) {
	if job.Passes >= p.MaxAttempts {
		return 0, false
	}
	wait := p.delay(job.Passes)
	if job.RetryAfter > wait {
		wait = job.RetryAfter
	}
	if now.Sub(job.StartedAt)+wait > p.MaxElapsed {
		return 0, false
	}
	return wait, true
}

// delay is the randomized exponential backoff before retry n (1-based).
func (p RetryPolicy) delay(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Reset()

	wait := b.NextBackOff()
	for i := 1; i < n; i++ {
		wait = b.NextBackOff()
	}
	return wait
}

// Deliver runs a first pass and then the retry cycle for whatever is pending.
func (d *Dispatcher) Deliver(ctx context.Context, req domain.DispatchRequest, policy RetryPolicy) (*domain.DeliveryReport, error) {
	first, err := d.Dispatch(ctx, req)
	if first == nil {
		return nil, err
	}
	if err != nil && !errors.Is(err, ErrDeliveryUnavailable) {
		return domain.NewRetryJob(req, first, time.Now()).Report(), err
	}
	return d.Resume(ctx, req, first, policy)
}

// Resume continues the retry cycle after first in the calling goroutine. Each
// further pass only targets the tokens still pending and stops when nothing
// is pending or the policy gives up, in which case the leftovers are reported
// as permanently failed with ErrRetriesExhausted. The Retrier drives the same
// cycle without blocking a worker between passes.
func (d *Dispatcher) Resume(ctx context.Context, req domain.DispatchRequest, first *domain.DispatchResult, policy RetryPolicy) (*domain.DeliveryReport, error) {
	if first == nil {
		return d.Deliver(ctx, req, policy)
	}
	p := policy.withDefaults()

	ctx, span := observability.Tracer().Start(ctx, "Dispatcher.Resume",
		trace.WithAttributes(
			attribute.String("event.id", req.EventID),
			attribute.Int("retry.pending", len(first.PendingRetry)),
		),
	)
	defer span.End()

	job := domain.NewRetryJob(req, first, time.Now())
	for len(job.Pending) > 0 {
		wait, ok := p.next(job, time.Now())
		if !ok {
			observability.RecordFailure(span, nil, "retries exhausted")
			return giveUp(job)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			span.RecordError(err)
			return job.Report(), err
		}
		if err := d.RetryPass(ctx, job); err != nil && ctx.Err() != nil {
			span.RecordError(err)
			return job.Report(), err
		}
	}
	return job.Report(), nil
}

// RetryPass runs one pass over the job's pending tokens and folds it into the
// job. A pass that could not read recipients or the ledger still counts and
// leaves the pending set unchanged.
func (d *Dispatcher) RetryPass(ctx context.Context, job *domain.RetryJob) error {
	if len(job.Pending) == 0 {
		return nil
	}
	res, err := d.pass(ctx, job.Request(), job.Pending)
	if res == nil {
		job.Passes++
		job.RetryAfter = 0
		log.Warn().Err(err).
			Str("event_id", job.EventID).
			Int("pass", job.Passes).
			Msg("retry pass failed")
		return err
	}
	job.Add(res)
	return err
}

// giveUp reports the job's pending tokens as permanently failed.
func giveUp(job *domain.RetryJob) (*domain.DeliveryReport, error) {
	report := job.Report()
	report.PermanentlyFailed, report.Pending = report.Pending, nil
	observability.RetryExhausted(len(report.PermanentlyFailed))
	log.Error().
		Str("event_id", job.EventID).
		Str("room_id", job.RoomID).
		Int("passes", job.Passes).
		Int("failed", len(report.PermanentlyFailed)).
		Msg("giving up on pending tokens")
	return report, fmt.Errorf("event %s: %d tokens: %w", job.EventID, len(report.PermanentlyFailed), ErrRetriesExhausted)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
