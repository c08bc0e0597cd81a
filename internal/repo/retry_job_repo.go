package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-notifier/internal/domain"
)

// SaveRetryJob inserts the job or overwrites the row with the same event ID.
func SaveRetryJob(ctx context.Context, db *gorm.DB, job *domain.RetryJob) error {
	if strings.TrimSpace(job.EventID) == "" {
		return errors.New("event id is required")
	}
	job.StartedAt = job.StartedAt.UTC()
	job.NextAttemptAt = job.NextAttemptAt.UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(job).Error
}

// DeleteRetryJob removes the job of eventID; a missing row is not an error.
func DeleteRetryJob(ctx context.Context, db *gorm.DB, eventID string) error {
	return db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Delete(&domain.RetryJob{}).Error
}

// ListRetryJobs returns every persisted job, soonest attempt first.
func ListRetryJobs(ctx context.Context, db *gorm.DB) ([]domain.RetryJob, error) {
	var out []domain.RetryJob
	err := db.WithContext(ctx).
		Order("next_attempt_at asc, event_id asc").
		Find(&out).Error
	return out, err
}
