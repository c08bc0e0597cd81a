package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-notifier/internal/observability"
)

// Purger deletes ledger entries delivered before a cutoff; *GormLedger
// implements it.
type Purger interface {
	PurgeDeliveries(ctx context.Context, before time.Time) (int64, error)
}

// LedgerJanitor periodically deletes ledger entries older than Retention.
type LedgerJanitor struct {
	Ledger    Purger
	Retention time.Duration
	// Schedule is a 5-field cron spec or descriptor such as "@every 1h".
	Schedule string
	Now      func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// RunOnce purges entries older than now minus Retention.
func (j *LedgerJanitor) RunOnce(ctx context.Context) (int64, error) {
	if j.Retention <= 0 {
		return 0, errors.New("janitor: retention must be > 0")
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().UTC().Add(-j.Retention)

	n, err := j.Ledger.PurgeDeliveries(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge ledger: %w", err)
	}
	if n > 0 {
		observability.LedgerPurged(n)
		log.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("ledger entries purged")
	}
	return n, nil
}

// Start schedules RunOnce. It fails on an invalid schedule or when already
// running.
func (j *LedgerJanitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return errors.New("janitor: already started")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(j.Schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("ledger purge failed")
		}
	}); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", j.Schedule, err)
	}
	c.Start()
	j.c = c
	return nil
}

// Stop halts the schedule and waits for a running purge to finish.
func (j *LedgerJanitor) Stop() {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
