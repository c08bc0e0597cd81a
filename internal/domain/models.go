// Package domain defines the persistence models for room participants and the
// delivery ledger, plus the value types that flow through a notification
// dispatch. The GORM models are shared across the repository and service
// layers.
package domain

import "time"

// Participant registers one device token as a recipient of a chat room's
// notifications. A token appears at most once per room (enforced by unique
// index); the same device may participate in several rooms.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RoomID: chat room identifier (indexed through the unique pair).
//   - Token: opaque push registration token.
//   - CreatedAt: registration time managed by GORM.
type Participant struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RoomID    string    `json:"room_id"    gorm:"type:varchar(128);not null;uniqueIndex:ux_participant_room_token,priority:1"`
	Token     string    `json:"token"      gorm:"type:varchar(4096);not null;uniqueIndex:ux_participant_room_token,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Participant.
func (Participant) TableName() string { return "participants" }

// Delivery is a ledger entry recording that the notification for EventID was
// accepted by the push transport for Token. Rows are insert-only; the unique
// (event_id, token) index makes the insert conditional so that overlapping
// dispatch passes cannot record the same pair twice. Rows older than the
// retention window are purged.
type Delivery struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	EventID     string    `json:"event_id"     gorm:"type:varchar(128);not null;uniqueIndex:ux_delivery_event_token,priority:1"`
	Token       string    `json:"token"        gorm:"type:varchar(4096);not null;uniqueIndex:ux_delivery_event_token,priority:2"`
	DeliveredAt time.Time `json:"delivered_at" gorm:"not null;index"`
}

// TableName returns the database table name for Delivery.
func (Delivery) TableName() string { return "deliveries" }

// RetryJob is the persisted retry cycle of one event. It is written before
// the intake acknowledges pending tokens, updated after every pass and
// deleted once nothing is pending or the policy gives up, so a restart
// resumes the cycle instead of dropping its tokens.
type RetryJob struct {
	EventID    string    `json:"event_id"    gorm:"type:varchar(128);primaryKey"`
	RoomID     string    `json:"room_id"     gorm:"type:varchar(128);not null"`
	SenderName string    `json:"sender_name" gorm:"not null"`
	Content    string    `json:"content"     gorm:"type:text;not null"`
	MessageAt  time.Time `json:"message_at"`

	Pending      []string      `json:"pending"       gorm:"type:text;serializer:json"`
	Passes       int           `json:"passes"`
	Delivered    int           `json:"delivered"`
	InvalidToken int           `json:"invalid_token"`
	Skipped      int           `json:"skipped"`
	RetryAfter   time.Duration `json:"retry_after"`

	StartedAt     time.Time `json:"started_at"      gorm:"not null"`
	NextAttemptAt time.Time `json:"next_attempt_at" gorm:"not null;index"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for RetryJob.
func (RetryJob) TableName() string { return "retry_jobs" }

// NewRetryJob starts a retry cycle from the first pass of req. A first pass
// without a start time is stamped with now.
func NewRetryJob(req DispatchRequest, first *DispatchResult, now time.Time) *RetryJob {
	started := first.StartedAt
	if started.IsZero() {
		started = now
	}
	return &RetryJob{
		EventID:      req.EventID,
		RoomID:       req.RoomID,
		SenderName:   req.SenderName,
		Content:      req.Content,
		MessageAt:    req.CreatedAt,
		Pending:      append([]string(nil), first.PendingRetry...),
		Passes:       1,
		Delivered:    first.Delivered,
		InvalidToken: first.InvalidToken,
		Skipped:      first.Skipped,
		RetryAfter:   first.RetryAfter,
		StartedAt:    started.UTC(),
	}
}

// Request rebuilds the dispatch request the job retries.
func (j *RetryJob) Request() DispatchRequest {
	return DispatchRequest{
		EventID:    j.EventID,
		RoomID:     j.RoomID,
		SenderName: j.SenderName,
		Content:    j.Content,
		CreatedAt:  j.MessageAt,
	}
}

// Add folds a retry pass into the job; its pending set replaces the job's.
func (j *RetryJob) Add(res *DispatchResult) {
	j.Passes++
	j.Delivered += res.Delivered
	j.InvalidToken += res.InvalidToken
	j.Pending = append([]string(nil), res.PendingRetry...)
	j.RetryAfter = res.RetryAfter
}

// Merge adds tokens to the pending set, skipping ones already there.
func (j *RetryJob) Merge(tokens []string) {
	seen := make(map[string]struct{}, len(j.Pending))
	for _, t := range j.Pending {
		seen[t] = struct{}{}
	}
	for _, t := range tokens {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			j.Pending = append(j.Pending, t)
		}
	}
}

// Report summarizes the cycle so far. Tokens still pending are reported as
// Pending.
func (j *RetryJob) Report() *DeliveryReport {
	r := &DeliveryReport{
		EventID:      j.EventID,
		Passes:       j.Passes,
		Delivered:    j.Delivered,
		InvalidToken: j.InvalidToken,
		Skipped:      j.Skipped,
	}
	if len(j.Pending) > 0 {
		r.Pending = append([]string(nil), j.Pending...)
	}
	return r
}
