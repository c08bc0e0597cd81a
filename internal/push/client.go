// Package push implements DeliveryClient transports: an FCM-style HTTP batch
// client and a log-only client for local runs.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-chat-notifier/internal/config"
	"github.com/tbourn/go-chat-notifier/internal/domain"
)

// Per-token error codes returned in the multicast reply.
const (
	codeNotRegistered       = "NotRegistered"
	codeInvalidRegistration = "InvalidRegistration"
	codeMissingRegistration = "MissingRegistration"
	codeMismatchSenderID    = "MismatchSenderId"
	codeMessageRateExceeded = "MessageRateExceeded"
	codeDeviceRateExceeded  = "DeviceMessageRateExceeded"
	codeTopicsRateExceeded  = "TopicsMessageRateExceeded"
)

// Client sends multicast notifications through an FCM legacy-style HTTP
// endpoint.
type Client struct {
	endpoint  string
	serverKey string
	batchSize int
	hc        *http.Client
}

// NewClient builds a Client from cfg. hc may be nil; the per-call deadline
// comes from the caller's context.
func NewClient(cfg config.PushConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	size := cfg.BatchSize
	if size <= 0 || size > config.MaxPushBatchSize {
		size = config.MaxPushBatchSize
	}
	return &Client{
		endpoint:  cfg.Endpoint,
		serverKey: cfg.ServerKey,
		batchSize: size,
		hc:        hc,
	}
}

// MaxBatchSize is the largest token list accepted by Send.
func (c *Client) MaxBatchSize() int { return c.batchSize }

type sendRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    notification      `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
	Priority        string            `json:"priority"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type sendResponse struct {
	MulticastID int64          `json:"multicast_id"`
	Success     int            `json:"success"`
	Failure     int            `json:"failure"`
	Results     []resultRecord `json:"results"`
}

type resultRecord struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Send posts one multicast request for tokens.
//
// A 429 reply marks every token Throttled and a 5xx reply marks every token
// TransientFailure, both carrying the Retry-After hint. Any other non-2xx
// status, a network failure or an unreadable body is returned as an error.
func (c *Client) Send(ctx context.Context, payload domain.Payload, tokens []string) ([]domain.Outcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > c.batchSize {
		return nil, fmt.Errorf("push: batch of %d exceeds max %d", len(tokens), c.batchSize)
	}

	body, err := json.Marshal(sendRequest{
		RegistrationIDs: tokens,
		Notification:    notification{Title: payload.Title, Body: payload.Body},
		Data:            payload.Data,
		Priority:        "high",
	})
	if err != nil {
		return nil, fmt.Errorf("push: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push: send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return uniform(tokens, domain.StatusThrottled, "http_429", retryAfter(resp.Header, time.Now())), nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return uniform(tokens, domain.StatusTransientFailure, "http_"+strconv.Itoa(resp.StatusCode), retryAfter(resp.Header, time.Now())), nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("push: status=%d, body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("push: decode response: %w", err)
	}

	hint := retryAfter(resp.Header, time.Now())
	outcomes := make([]domain.Outcome, 0, len(tokens))
	for i, tok := range tokens {
		if i >= len(out.Results) {
			break
		}
		st := classify(out.Results[i])
		o := domain.Outcome{Token: tok, Status: st, Reason: out.Results[i].Error}
		if st.Retryable() {
			o.RetryAfter = hint
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// classify maps one per-token result onto a delivery status.
func classify(r resultRecord) domain.Status {
	switch r.Error {
	case "":
		if r.MessageID == "" {
			return domain.StatusTransientFailure
		}
		return domain.StatusDelivered
	case codeNotRegistered, codeInvalidRegistration, codeMissingRegistration, codeMismatchSenderID:
		return domain.StatusInvalidToken
	case codeMessageRateExceeded, codeDeviceRateExceeded, codeTopicsRateExceeded:
		return domain.StatusThrottled
	default:
		// Unavailable, InternalServerError and unknown codes.
		return domain.StatusTransientFailure
	}
}

func uniform(tokens []string, st domain.Status, reason string, after time.Duration) []domain.Outcome {
	out := make([]domain.Outcome, len(tokens))
	for i, tok := range tokens {
		out[i] = domain.Outcome{Token: tok, Status: st, Reason: reason, RetryAfter: after}
	}
	return out
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
