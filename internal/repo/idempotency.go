// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model guarding submission confirmation, and for the processed-message
// ledger that makes queue consumption at-least-once safe.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
)

// ErrDuplicate indicates a unique constraint violation: an idempotency
// record for (user_id, draft_id, key), an existing map code or creator pair,
// or an already processed queue message.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID int64, draftID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(draftID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND draft_id = ? AND key = ? AND expires_at > ?", userID, draftID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID int64, draftID, key, mapCode, state string, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		DraftID:   draftID,
		Key:       key,
		MapCode:   mapCode,
		State:     state,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeIdempotency deletes records that expired before now.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// ReserveMessage records a queue delivery key. It returns ErrDuplicate when
// the key was already processed.
func ReserveMessage(ctx context.Context, db *gorm.DB, messageKey, tag string) error {
	rec := &domain.ProcessedMessage{
		ID:         uuid.NewString(),
		MessageKey: messageKey,
		Tag:        tag,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ReleaseMessage forgets a reserved key so a failed handler can be retried
// on redelivery.
func ReleaseMessage(ctx context.Context, db *gorm.DB, messageKey string) error {
	return db.WithContext(ctx).Where("message_key = ?", messageKey).Delete(&domain.ProcessedMessage{}).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
