// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries over the
// delivery ledger used by the operator-facing deliveries endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-notifier/internal/domain"
)

// DeliveryStats returns aggregate metadata for an event's ledger entries: the
// number of delivered tokens and the most recent DeliveredAt.
//
// When the event has no entries, the returned count is 0 and lastDeliveredAt
// is nil.
func DeliveryStats(ctx context.Context, db *gorm.DB, eventID string) (count int64, lastDeliveredAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Delivery{}).Where("event_id = ?", eventID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest delivered_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		DeliveredAt time.Time
	}
	if err = q.Select("delivered_at").Order("delivered_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.DeliveredAt, nil
}
