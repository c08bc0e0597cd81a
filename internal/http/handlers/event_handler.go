package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-notifier/internal/domain"
	"github.com/tbourn/go-chat-notifier/internal/http/middleware"
	"github.com/tbourn/go-chat-notifier/internal/services"
)

// Dispatcher runs one delivery pass; *services.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error)
}

// RetryQueue accepts the pending part of a pass; *services.Retrier implements it.
type RetryQueue interface {
	Submit(req domain.DispatchRequest, first *domain.DispatchResult) bool
}

// DeliveryLedger exposes ledger entries to operators; *services.GormLedger
// implements it.
type DeliveryLedger interface {
	Deliveries(ctx context.Context, eventID string) ([]domain.Delivery, error)
	DeliveryStats(ctx context.Context, eventID string) (int64, *time.Time, error)
}

// Handlers serves the event endpoints.
type Handlers struct {
	dispatcher Dispatcher
	retries    RetryQueue
	ledger     DeliveryLedger
}

// New binds the handlers to their collaborators.
func New(d Dispatcher, q RetryQueue, l DeliveryLedger) *Handlers {
	return &Handlers{dispatcher: d, retries: q, ledger: l}
}

// DeliveriesResponse lists the ledger entries of one event.
type DeliveriesResponse struct {
	EventID         string            `json:"event_id"`
	Count           int64             `json:"count"`
	LastDeliveredAt *time.Time        `json:"last_delivered_at,omitempty"`
	Deliveries      []domain.Delivery `json:"deliveries"`
}

// MessageCreated handles POST /events/message-created.
//
// The first dispatch pass runs inline. 200 means every recipient was delivered
// or skipped; 202 means tokens are pending and the retry scheduler owns them;
// 422 means the event is malformed and must not be redelivered; 503 asks the
// trigger to redeliver later, which the ledger makes safe.
func (h *Handlers) MessageCreated(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	var ev services.MessageCreatedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	req, err := services.OnMessageCreated(ev)
	if err != nil {
		lg.Warn().Err(err).Str("event_id", ev.EventID).Msg("dropping malformed event")
		fail(c, http.StatusUnprocessableEntity, ErrCodeMalformedEvent, err.Error())
		return
	}

	// Whatever a failed pass delivered is already in the ledger.
	res, err := h.dispatcher.Dispatch(c.Request.Context(), req)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		lg.Warn().Err(err).Str("event_id", req.EventID).Msg("dispatch interrupted")
		fail(c, http.StatusServiceUnavailable, ErrCodeDispatchInterrupted, err.Error())
		return
	case res == nil:
		fail(c, http.StatusServiceUnavailable, ErrCodeRecipientsUnavailable, errMessage(err))
		return
	case errors.Is(err, services.ErrDeliveryUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeDeliveryUnavailable, err.Error())
		return
	case err != nil:
		lg.Error().Err(err).Str("event_id", req.EventID).Msg("dispatch failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "dispatch failed")
		return
	}

	if res.Done() {
		ok(c, http.StatusOK, res)
		return
	}
	if !h.retries.Submit(req, res) {
		fail(c, http.StatusServiceUnavailable, ErrCodeRetryQueueFull,
			fmt.Sprintf("%v: %d tokens pending", services.ErrRetryQueueFull, len(res.PendingRetry)))
		return
	}
	ok(c, http.StatusAccepted, res)
}

// ListDeliveries handles GET /events/:id/deliveries. It answers 304 when
// If-None-Match carries the current weak ETag.
func (h *Handlers) ListDeliveries(c *gin.Context) {
	ctx := c.Request.Context()
	eventID := strings.TrimSpace(c.Param("id"))
	if eventID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "event id required")
		return
	}

	count, last, err := h.ledger.DeliveryStats(ctx, eventID)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, err.Error())
		return
	}
	var ts int64
	if last != nil {
		ts = last.UnixNano()
	}
	etag := fmt.Sprintf(`W/"deliveries:%s:%d:%d"`, eventID, count, ts)
	c.Header("ETag", etag)
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	rows, err := h.ledger.Deliveries(ctx, eventID)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeLedgerUnavailable, err.Error())
		return
	}
	if rows == nil {
		rows = []domain.Delivery{}
	}
	ok(c, http.StatusOK, DeliveriesResponse{
		EventID:         eventID,
		Count:           count,
		LastDeliveredAt: last,
		Deliveries:      rows,
	})
}

func errMessage(err error) string {
	if err == nil {
		return "recipients unavailable"
	}
	return err.Error()
}
