package handlers

// Error codes returned in ErrorResponse.Code. Clients branch on these, not on
// messages.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// ErrCodeMalformedEvent marks an event that will never be deliverable;
	// the trigger must not redeliver it.
	ErrCodeMalformedEvent = "malformed_event"

	// The following answer 503 and ask the trigger to redeliver later.
	ErrCodeRecipientsUnavailable = "recipients_unavailable"
	ErrCodeDeliveryUnavailable   = "delivery_unavailable"
	ErrCodeRetryQueueFull        = "retry_queue_full"
	ErrCodeLedgerUnavailable     = "ledger_unavailable"
	// ErrCodeDispatchInterrupted: the request was cancelled or timed out
	// mid-pass.
	ErrCodeDispatchInterrupted = "dispatch_interrupted"
)
