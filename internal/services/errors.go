// Package services holds the notification fan-out logic: event intake,
// the dispatcher and its retry cycle, the retry scheduler, and ledger
// garbage collection.
//
// This file centralizes service-level error values. They are wrapped with
// context by the operations that return them and checked with errors.Is; the
// HTTP layer translates them into status codes.
package services

import "errors"

var (
	// ErrMalformedEvent is returned by the intake when an event lacks a room,
	// sender or content. Such events are dropped and never retried.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrLedgerConflict means the (event, token) pair was already recorded by
	// a concurrent or earlier pass. Callers treat it as success.
	ErrLedgerConflict = errors.New("delivery already recorded")

	// ErrDeliveryUnavailable is returned alongside a result when every batch of
	// a pass failed at transport level.
	ErrDeliveryUnavailable = errors.New("delivery client unavailable")

	// ErrRetriesExhausted reports tokens that were still pending when the
	// retry policy ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrRetryQueueFull is returned when the retry scheduler cannot accept work.
	ErrRetryQueueFull = errors.New("retry queue full")
)
