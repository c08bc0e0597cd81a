package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-notifier/internal/domain"
	"github.com/tbourn/go-chat-notifier/internal/repo"
)

// TokenStore resolves and prunes the device tokens of a room.
type TokenStore interface {
	Tokens(ctx context.Context, roomID string) ([]string, error)
	RemoveToken(ctx context.Context, roomID, token string) error
}

// Ledger records which (event, token) pairs already received a notification.
type Ledger interface {
	// DeliveredTokens returns the subset of tokens already recorded for eventID.
	DeliveredTokens(ctx context.Context, eventID string, tokens []string) (map[string]bool, error)
	// MarkDelivered returns ErrLedgerConflict when the pair already exists.
	MarkDelivered(ctx context.Context, eventID, token string) error
}

// GormTokenStore is the participants-table TokenStore.
type GormTokenStore struct {
	DB *gorm.DB
}

func (s *GormTokenStore) Tokens(ctx context.Context, roomID string) ([]string, error) {
	return repo.ListRoomTokens(ctx, s.DB, roomID)
}

// RemoveToken deletes the pair; a token that is already gone is not an error.
func (s *GormTokenStore) RemoveToken(ctx context.Context, roomID, token string) error {
	err := repo.RemoveParticipantToken(ctx, s.DB, roomID, token)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}

// GormLedger is the deliveries-table Ledger.
type GormLedger struct {
	DB *gorm.DB
	// Now defaults to time.Now.
	Now func() time.Time
}

func (l *GormLedger) HasDelivered(ctx context.Context, eventID, token string) (bool, error) {
	return repo.HasDelivery(ctx, l.DB, eventID, token)
}

func (l *GormLedger) DeliveredTokens(ctx context.Context, eventID string, tokens []string) (map[string]bool, error) {
	return repo.DeliveredTokens(ctx, l.DB, eventID, tokens)
}

func (l *GormLedger) MarkDelivered(ctx context.Context, eventID, token string) error {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	_, err := repo.CreateDelivery(ctx, l.DB, eventID, token, now())
	if errors.Is(err, repo.ErrDuplicate) {
		return ErrLedgerConflict
	}
	return err
}

// Deliveries lists the ledger entries of an event.
func (l *GormLedger) Deliveries(ctx context.Context, eventID string) ([]domain.Delivery, error) {
	return repo.ListDeliveries(ctx, l.DB, eventID)
}

// PurgeDeliveries deletes entries delivered before the cutoff.
func (l *GormLedger) PurgeDeliveries(ctx context.Context, before time.Time) (int64, error) {
	return repo.PurgeDeliveries(ctx, l.DB, before)
}

// DeliveryStats returns the entry count and latest delivery time of an event.
func (l *GormLedger) DeliveryStats(ctx context.Context, eventID string) (int64, *time.Time, error) {
	return repo.DeliveryStats(ctx, l.DB, eventID)
}

// GormRetryStore is the retry_jobs-table RetryStore.
type GormRetryStore struct {
	DB *gorm.DB
}

func (s *GormRetryStore) SaveRetry(ctx context.Context, job *domain.RetryJob) error {
	return repo.SaveRetryJob(ctx, s.DB, job)
}

func (s *GormRetryStore) DeleteRetry(ctx context.Context, eventID string) error {
	return repo.DeleteRetryJob(ctx, s.DB, eventID)
}

func (s *GormRetryStore) LoadRetries(ctx context.Context) ([]domain.RetryJob, error) {
	return repo.ListRetryJobs(ctx, s.DB)
}
