package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-notifier/internal/domain"
	"github.com/tbourn/go-chat-notifier/internal/observability"
)

// storeTimeout bounds retry store writes made outside a request context.
const storeTimeout = 5 * time.Second

// RetryRunner runs one retry pass for a job; *Dispatcher implements it.
type RetryRunner interface {
	RetryPass(ctx context.Context, job *domain.RetryJob) error
}

// RetryStore keeps retry jobs across restarts; *GormRetryStore implements it.
type RetryStore interface {
	SaveRetry(ctx context.Context, job *domain.RetryJob) error
	DeleteRetry(ctx context.Context, eventID string) error
	LoadRetries(ctx context.Context) ([]domain.RetryJob, error)
}

type retryEntry struct {
	job   *domain.RetryJob
	timer *time.Timer
	// extra holds pending tokens of a redelivered event, merged before the
	// next pass.
	extra []string
}

// Retrier drives retry cycles in the background. A job waits for its backoff
// on a timer, not on a worker: workers only run passes. Jobs are persisted
// before Submit accepts them and stay persisted until their cycle ends, so
// jobs interrupted by Stop are resumed by the next Start.
type Retrier struct {
	runner  RetryRunner
	store   RetryStore
	policy  RetryPolicy
	workers int
	limit   int
	now     func() time.Time

	ready chan *retryEntry
	done  chan struct{}

	mu      sync.Mutex
	jobs    map[string]*retryEntry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewRetrier builds a Retrier. A nil store keeps jobs in memory only.
// Non-positive sizes fall back to one worker and 64 concurrent jobs.
func NewRetrier(runner RetryRunner, store RetryStore, policy RetryPolicy, workers, maxJobs int) *Retrier {
	if workers <= 0 {
		workers = 1
	}
	if maxJobs <= 0 {
		maxJobs = 64
	}
	return &Retrier{
		runner:  runner,
		store:   store,
		policy:  policy.withDefaults(),
		workers: workers,
		limit:   maxJobs,
		now:     time.Now,
		ready:   make(chan *retryEntry, workers),
		done:    make(chan struct{}),
		jobs:    make(map[string]*retryEntry),
	}
}

// Start reloads persisted jobs, schedules them at their next attempt time and
// launches the workers. ctx should outlive the HTTP server; Stop is the
// normal way to end the retrier. Calling Start twice is a no-op.
func (r *Retrier) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return nil
	}

	if r.store != nil {
		jobs, err := r.store.LoadRetries(ctx)
		if err != nil {
			return fmt.Errorf("load retry jobs: %w", err)
		}
		now := r.now()
		for i := range jobs {
			job := &jobs[i]
			if _, ok := r.jobs[job.EventID]; ok {
				continue
			}
			e := &retryEntry{job: job}
			r.jobs[job.EventID] = e
			r.schedule(e, max(0, job.NextAttemptAt.Sub(now)))
		}
		if len(jobs) > 0 {
			log.Info().Int("jobs", len(jobs)).Msg("resuming persisted retry jobs")
		}
	}

	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	observability.SetRetryQueueDepth(len(r.jobs))
	return nil
}

// Stop rejects further submissions, cancels running passes and waits for the
// workers. Unfinished jobs stay in the store.
func (r *Retrier) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.done)
	for _, e := range r.jobs {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	kept := len(r.jobs)
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
	observability.SetRetryQueueDepth(0)
	log.Info().Int("kept", kept).Msg("retrier stopped")
}

// Submit takes over the pending part of first. It returns true once the job
// is durably recorded (or nothing is pending) and false when the retrier is
// stopping, at capacity, or the store write failed; the caller should then
// have the event redelivered.
func (r *Retrier) Submit(req domain.DispatchRequest, first *domain.DispatchResult) bool {
	if first.Done() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	if e, ok := r.jobs[req.EventID]; ok {
		e.extra = append(e.extra, first.PendingRetry...)
		return true
	}
	if len(r.jobs) >= r.limit {
		log.Warn().
			Str("event_id", req.EventID).
			Int("pending", len(first.PendingRetry)).
			Msg("retry scheduler at capacity")
		return false
	}

	now := r.now()
	job := domain.NewRetryJob(req, first, now)
	wait, ok := r.policy.next(job, now)
	if !ok {
		_, _ = giveUp(job)
		return true
	}
	job.NextAttemptAt = now.Add(wait)
	if err := r.save(job); err != nil {
		log.Error().Err(err).Str("event_id", req.EventID).Msg("persist retry job failed")
		return false
	}

	e := &retryEntry{job: job}
	r.jobs[req.EventID] = e
	r.schedule(e, wait)
	observability.SetRetryQueueDepth(len(r.jobs))
	return true
}

// schedule hands e to a worker after wait. Callers hold r.mu.
func (r *Retrier) schedule(e *retryEntry, wait time.Duration) {
	e.timer = time.AfterFunc(wait, func() {
		select {
		case r.ready <- e:
		case <-r.done:
		}
	})
}

func (r *Retrier) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.ready:
			r.run(ctx, e)
		}
	}
}

// run performs one pass for e and then reschedules, finishes or abandons it.
func (r *Retrier) run(ctx context.Context, e *retryEntry) {
	if ctx.Err() != nil {
		return
	}
	job := e.job
	r.absorb(e)
	if len(job.Pending) == 0 {
		r.finish(e, job.Report(), nil)
		return
	}

	err := r.runner.RetryPass(ctx, job)
	if ctx.Err() != nil {
		// Shutting down: record progress, the next Start picks the job up.
		if serr := r.save(job); serr != nil {
			log.Error().Err(serr).Str("event_id", job.EventID).Msg("persist interrupted retry job failed")
		}
		return
	}
	if err != nil && !errors.Is(err, ErrDeliveryUnavailable) {
		log.Debug().Err(err).Str("event_id", job.EventID).Msg("retry pass error")
	}

	r.absorb(e)
	if len(job.Pending) == 0 {
		r.finish(e, job.Report(), nil)
		return
	}
	now := r.now()
	wait, ok := r.policy.next(job, now)
	if !ok {
		report, gerr := giveUp(job)
		r.finish(e, report, gerr)
		return
	}
	job.NextAttemptAt = now.Add(wait)
	if err := r.save(job); err != nil {
		log.Error().Err(err).Str("event_id", job.EventID).Msg("persist retry job failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.schedule(e, wait)
	}
}

// absorb merges tokens submitted for a job that was already running.
func (r *Retrier) absorb(e *retryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(e.extra) > 0 {
		e.job.Merge(e.extra)
		e.extra = nil
	}
}

func (r *Retrier) finish(e *retryEntry, report *domain.DeliveryReport, err error) {
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if derr := r.store.DeleteRetry(ctx, e.job.EventID); derr != nil {
			log.Error().Err(derr).Str("event_id", e.job.EventID).Msg("delete retry job failed")
		}
	}

	r.mu.Lock()
	delete(r.jobs, e.job.EventID)
	observability.SetRetryQueueDepth(len(r.jobs))
	r.mu.Unlock()

	ev := log.Info()
	if err != nil {
		// Exhaustion is already logged at error level.
		ev = log.Debug().Err(err)
	}
	ev.Str("event_id", report.EventID).
		Int("passes", report.Passes).
		Int("delivered", report.Delivered).
		Int("failed", len(report.PermanentlyFailed)).
		Msg("retry cycle finished")
}

func (r *Retrier) save(job *domain.RetryJob) error {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return r.store.SaveRetry(ctx, job)
}
