// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the token store: the room → device
// token mapping read by the dispatcher.
//
// Tokens are provisioned by the chat application sharing this database; the
// notifier only reads them and removes stale registrations reported by the
// push transport. AddParticipant exists for seeding and tests.
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

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience.
var ErrNotFound = gorm.ErrRecordNotFound

// ListRoomTokens returns the device tokens registered for roomID, ordered by
// registration time. A room without participants yields an empty slice.
func ListRoomTokens(ctx context.Context, db *gorm.DB, roomID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("room_id = ?", roomID).
		Order("created_at asc, id asc").
		Pluck("token", &out).Error
	return out, err
}

// AddParticipant registers token for roomID. Registering an existing pair is a
// no-op.
func AddParticipant(ctx context.Context, db *gorm.DB, roomID, token string) error {
	roomID, token = strings.TrimSpace(roomID), strings.TrimSpace(token)
	if roomID == "" || token == "" {
		return errors.New("room id and token are required")
	}
	p := &domain.Participant{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p).Error
}

// RemoveParticipantToken deletes the (roomID, token) registration. It returns
// ErrNotFound when nothing was deleted.
func RemoveParticipantToken(ctx context.Context, db *gorm.DB, roomID, token string) error {
	res := db.WithContext(ctx).
		Where("room_id = ? AND token = ?", roomID, token).
		Delete(&domain.Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
