// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the delivery ledger used to make
// notification fan-out idempotent under event redelivery.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-notifier/internal/domain"
)

// ErrDuplicate indicates that a ledger entry already exists for the given
// (event_id, token) pair.
var ErrDuplicate = errors.New("duplicate")

// HasDelivery reports whether a ledger entry exists for (eventID, token).
func HasDelivery(ctx context.Context, db *gorm.DB, eventID, token string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Delivery{}).
		Where("event_id = ? AND token = ?", eventID, token).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// lookupChunk keeps IN lists well under SQLite's bound-parameter limit.
const lookupChunk = 500

// DeliveredTokens returns the subset of tokens that already have a ledger
// entry for eventID, in one query per chunk of tokens.
func DeliveredTokens(ctx context.Context, db *gorm.DB, eventID string, tokens []string) (map[string]bool, error) {
	out := make(map[string]bool, len(tokens))
	for start := 0; start < len(tokens); start += lookupChunk {
		end := min(start+lookupChunk, len(tokens))
		var found []string
		err := db.WithContext(ctx).
			Model(&domain.Delivery{}).
			Where("event_id = ? AND token IN ?", eventID, tokens[start:end]).
			Pluck("token", &found).Error
		if err != nil {
			return nil, err
		}
		for _, t := range found {
			out[t] = true
		}
	}
	return out, nil
}

// CreateDelivery conditionally inserts a ledger entry. If the pair is already
// recorded it returns ErrDuplicate and leaves the existing row untouched.
func CreateDelivery(ctx context.Context, db *gorm.DB, eventID, token string, at time.Time) (*domain.Delivery, error) {
	if strings.TrimSpace(eventID) == "" || strings.TrimSpace(token) == "" {
		return nil, errors.New("event id and token are required")
	}
	rec := &domain.Delivery{
		ID:          uuid.NewString(),
		EventID:     eventID,
		Token:       token,
		DeliveredAt: at.UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if err := res.Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrDuplicate
	}
	return rec, nil
}

// ListDeliveries returns the ledger entries of eventID ordered by delivery
// time.
func ListDeliveries(ctx context.Context, db *gorm.DB, eventID string) ([]domain.Delivery, error) {
	var out []domain.Delivery
	err := db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("delivered_at asc, token asc").
		Find(&out).Error
	return out, err
}

// PurgeDeliveries deletes ledger entries delivered strictly before cutoff and
// returns how many rows were removed.
func PurgeDeliveries(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("delivered_at < ?", cutoff.UTC()).
		Delete(&domain.Delivery{})
	return res.RowsAffected, res.Error
}
