package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-chat-notifier/internal/domain"
	"github.com/tbourn/go-chat-notifier/internal/observability"
)

// DeliveryClient sends one payload to a batch of device tokens.
//
// Send returns one outcome per token, in input order. A non-nil error means
// the whole batch failed at transport level.
type DeliveryClient interface {
	Send(ctx context.Context, payload domain.Payload, tokens []string) ([]domain.Outcome, error)
	MaxBatchSize() int
}

// Dispatcher fans a DispatchRequest out to every device token of its room.
type Dispatcher struct {
	Tokens TokenStore
	Ledger Ledger
	Client DeliveryClient

	// Workers bounds concurrent batches within one pass (default 1).
	Workers int
	// Limiter paces Send calls when set.
	Limiter *rate.Limiter
	// SendTimeout bounds each Send call when positive.
	SendTimeout time.Duration

	Title        string
	MaxBodyRunes int
}

// Dispatch runs one delivery pass over the room's tokens.
//
// Tokens already in the ledger are skipped. Delivered tokens are recorded,
// invalid tokens are removed from the store, throttled and transient ones
// come back in PendingRetry. When every batch failed at transport level the
// result is returned together with ErrDeliveryUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error) {
	return d.pass(ctx, req, nil)
}

// pass is Dispatch restricted to the tokens in only, when non-nil.
func (d *Dispatcher) pass(ctx context.Context, req domain.DispatchRequest, only []string) (*domain.DispatchResult, error) {
	started := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "Dispatcher.Dispatch",
		trace.WithAttributes(
			attribute.String("event.id", req.EventID),
			attribute.String("room.id", req.RoomID),
		),
	)
	defer span.End()
	defer func() { observability.ObserveDispatch(time.Since(started)) }()

	res := &domain.DispatchResult{
		EventID:      req.EventID,
		RoomID:       req.RoomID,
		PendingRetry: []string{},
		StartedAt:    started,
	}

	tokens, err := d.Tokens.Tokens(ctx, req.RoomID)
	if err != nil {
		observability.RecordFailure(span, err, "resolve recipients")
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	tokens = uniqueTokens(tokens)
	if only != nil {
		tokens = intersect(tokens, only)
	}
	res.Recipients = len(tokens)
	if len(tokens) == 0 {
		return res, nil
	}

	delivered, err := d.Ledger.DeliveredTokens(ctx, req.EventID, tokens)
	if err != nil {
		observability.RecordFailure(span, err, "ledger lookup")
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	todo := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if delivered[tok] {
			res.Skipped++
			continue
		}
		todo = append(todo, tok)
	}
	if len(todo) == 0 {
		return res, nil
	}

	payload := BuildPayload(req, d.Title, d.MaxBodyRunes)
	batches := partition(todo, d.batchSize())
	res.Batches = len(batches)

	var (
		mu     sync.Mutex
		sent   int
		failed int
		g      errgroup.Group
	)
	g.SetLimit(d.workers())

	for _, batch := range batches {
		g.Go(func() error {
			if err := d.wait(ctx); err != nil {
				mu.Lock()
				res.PendingRetry = append(res.PendingRetry, batch...)
				mu.Unlock()
				return nil
			}

			outcomes, sendErr := d.send(ctx, payload, batch)

			mu.Lock()
			sent++
			res.Attempts += len(batch)
			if sendErr != nil {
				failed++
			}
			mu.Unlock()

			if sendErr != nil {
				log.Warn().Err(sendErr).
					Str("event_id", req.EventID).
					Int("batch_size", len(batch)).
					Msg("push batch failed")
			}

			d.apply(ctx, req, res, &mu, outcomes)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.PendingRetry)
	sort.Strings(res.Removed)

	span.SetAttributes(
		attribute.Int("dispatch.recipients", res.Recipients),
		attribute.Int("dispatch.delivered", res.Delivered),
		attribute.Int("dispatch.pending", len(res.PendingRetry)),
	)

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return res, err
	}
	if sent > 0 && failed == sent {
		observability.DeliveryUnavailable()
		observability.RecordFailure(span, nil, "delivery unavailable")
		log.Error().
			Str("event_id", req.EventID).
			Str("room_id", req.RoomID).
			Int("batches", sent).
			Msg("every push batch failed")
		return res, fmt.Errorf("event %s: %w", req.EventID, ErrDeliveryUnavailable)
	}

	log.Debug().
		Str("event_id", req.EventID).
		Str("room_id", req.RoomID).
		Int("recipients", res.Recipients).
		Int("skipped", res.Skipped).
		Int("delivered", res.Delivered).
		Int("invalid", res.InvalidToken).
		Int("pending", len(res.PendingRetry)).
		Msg("dispatch pass complete")
	return res, nil
}

// send calls the client under SendTimeout and pads or replaces its reply so
// every token of the batch gets exactly one outcome.
func (d *Dispatcher) send(ctx context.Context, payload domain.Payload, batch []string) ([]domain.Outcome, error) {
	sctx := ctx
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.SendTimeout)
		defer cancel()
	}

	got, err := d.Client.Send(sctx, payload, batch)
	out := make([]domain.Outcome, len(batch))
	for i, tok := range batch {
		switch {
		case err != nil:
			out[i] = domain.Outcome{Token: tok, Status: domain.StatusTransientFailure, Reason: "transport"}
		case i < len(got):
			out[i] = got[i]
			out[i].Token = tok
		default:
			out[i] = domain.Outcome{Token: tok, Status: domain.StatusTransientFailure, Reason: "missing outcome"}
		}
	}
	return out, err
}

// apply performs the side effects of each outcome and folds it into res.
// Ledger writes and token cleanup outlive cancellation so a delivered token
// is never left unrecorded.
func (d *Dispatcher) apply(ctx context.Context, req domain.DispatchRequest, res *domain.DispatchResult, mu *sync.Mutex, outcomes []domain.Outcome) {
	sctx := context.WithoutCancel(ctx)

	for _, o := range outcomes {
		observability.ObserveOutcome(o.Status.String())

		switch o.Status {
		case domain.StatusDelivered:
			if err := d.Ledger.MarkDelivered(sctx, req.EventID, o.Token); err != nil {
				if errors.Is(err, ErrLedgerConflict) {
					observability.LedgerConflict()
				} else {
					log.Error().Err(err).
						Str("event_id", req.EventID).
						Str("token", tokenPrefix(o.Token)).
						Msg("ledger write failed after delivery")
				}
			}
		case domain.StatusInvalidToken:
			if err := d.Tokens.RemoveToken(sctx, req.RoomID, o.Token); err != nil {
				log.Warn().Err(err).
					Str("room_id", req.RoomID).
					Str("token", tokenPrefix(o.Token)).
					Msg("stale token cleanup failed")
			} else {
				observability.TokenRemoved()
			}
		}

		mu.Lock()
		res.Count(o.Status)
		switch o.Status {
		case domain.StatusInvalidToken:
			res.Removed = append(res.Removed, o.Token)
		case domain.StatusThrottled, domain.StatusTransientFailure:
			res.PendingRetry = append(res.PendingRetry, o.Token)
			if o.RetryAfter > res.RetryAfter {
				res.RetryAfter = o.RetryAfter
			}
		}
		mu.Unlock()
	}
}

// wait blocks on the pacing limiter and reports cancellation.
func (d *Dispatcher) wait(ctx context.Context) error {
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (d *Dispatcher) batchSize() int {
	n := d.Client.MaxBatchSize()
	if n <= 0 {
		return 1
	}
	return n
}

func (d *Dispatcher) workers() int {
	if d.Workers <= 0 {
		return 1
	}
	return d.Workers
}

// partition splits tokens into consecutive chunks of at most size.
func partition(tokens []string, size int) [][]string {
	out := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		out = append(out, tokens[start:end:end])
	}
	return out
}

// uniqueTokens drops blank and repeated tokens, keeping first-seen order.
func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func intersect(tokens, only []string) []string {
	keep := make(map[string]struct{}, len(only))
	for _, t := range only {
		keep[t] = struct{}{}
	}
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := keep[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// tokenPrefix shortens a device token for logs.
func tokenPrefix(tok string) string {
	if len(tok) <= 8 {
		return tok
	}
	return tok[:8] + "…"
}
