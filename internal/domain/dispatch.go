package domain

import (
	"time"
)

// DispatchRequest is one "message created" event ready for fan-out. It is
// immutable once built by the intake and discarded after dispatch.
type DispatchRequest struct {
	EventID    string    `json:"event_id"`
	RoomID     string    `json:"room_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Status is the per-token result of a single delivery attempt.
type Status int

const (
	StatusDelivered Status = iota
	StatusInvalidToken
	StatusThrottled
	StatusTransientFailure
)

// String returns the metric/log label for s.
func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusInvalidToken:
		return "invalid_token"
	case StatusThrottled:
		return "throttled"
	case StatusTransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// Retryable reports whether a token with this status should be attempted
// again on a later pass.
func (s Status) Retryable() bool {
	return s == StatusThrottled || s == StatusTransientFailure
}

// Outcome is what the delivery client reports for one token.
type Outcome struct {
	Token  string
	Status Status
	// Reason carries the transport's error code, if any.
	Reason string
	// RetryAfter is a server-provided hint for throttled or unavailable responses.
	RetryAfter time.Duration
}

// Payload is the notification sent to every token of a batch.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// DispatchResult summarizes one dispatch pass over a request.
type DispatchResult struct {
	EventID string `json:"event_id"`
	RoomID  string `json:"room_id"`

	Recipients int `json:"recipients"` // distinct tokens resolved for the room
	Skipped    int `json:"skipped"`    // already present in the ledger
	Attempts   int `json:"attempts"`   // tokens handed to the delivery client
	Batches    int `json:"batches"`

	Delivered        int `json:"delivered"`
	InvalidToken     int `json:"invalid_token"`
	Throttled        int `json:"throttled"`
	TransientFailure int `json:"transient_failure"`

	PendingRetry []string      `json:"pending_retry"`
	Removed      []string      `json:"-"`
	RetryAfter   time.Duration `json:"-"`
	// StartedAt is when the pass began; the retry budget of an event is
	// measured from its first pass.
	StartedAt time.Time `json:"-"`
}

// Done reports whether nothing is left to retry.
func (r *DispatchResult) Done() bool { return r == nil || len(r.PendingRetry) == 0 }

// Count records one outcome status.
func (r *DispatchResult) Count(s Status) {
	switch s {
	case StatusDelivered:
		r.Delivered++
	case StatusInvalidToken:
		r.InvalidToken++
	case StatusThrottled:
		r.Throttled++
	case StatusTransientFailure:
		r.TransientFailure++
	}
}

// DeliveryReport is the outcome of a full retry cycle for one request.
type DeliveryReport struct {
	EventID string `json:"event_id"`
	Passes  int    `json:"passes"`

	Delivered    int `json:"delivered"`
	InvalidToken int `json:"invalid_token"`
	Skipped      int `json:"skipped"`

	// Pending is set when the cycle stopped early (cancellation) with tokens
	// still eligible for another pass.
	Pending []string `json:"pending,omitempty"`
	// PermanentlyFailed lists tokens that exhausted the retry policy.
	PermanentlyFailed []string `json:"permanently_failed,omitempty"`
}
