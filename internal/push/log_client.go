package push

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-notifier/internal/config"
	"github.com/tbourn/go-chat-notifier/internal/domain"
)

// LogClient reports every token as delivered and only logs the batch. It is
// selected when no push server key is configured.
type LogClient struct {
	BatchSize int
}

func (c LogClient) MaxBatchSize() int {
	if c.BatchSize <= 0 || c.BatchSize > config.MaxPushBatchSize {
		return config.MaxPushBatchSize
	}
	return c.BatchSize
}

func (c LogClient) Send(ctx context.Context, payload domain.Payload, tokens []string) ([]domain.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info().
		Str("title", payload.Title).
		Str("event_id", payload.Data["eventId"]).
		Int("tokens", len(tokens)).
		Msg("push (log only)")

	out := make([]domain.Outcome, len(tokens))
	for i, tok := range tokens {
		out[i] = domain.Outcome{Token: tok, Status: domain.StatusDelivered}
	}
	return out, nil
}
