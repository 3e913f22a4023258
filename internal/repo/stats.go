// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
)

// VoteStats returns the number of votes cast in a playtest thread and the
// most recent vote update time. When there are no votes, the count is 0 and
// lastUpdatedAt is nil.
func VoteStats(ctx context.Context, db *gorm.DB, threadID int64) (count int64, lastUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.PlaytestVote{}).Where("thread_id = ?", threadID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// ChangeRequestStats returns the number of change requests for a map (all
// maps when code is empty) and the newest creation time among them.
func ChangeRequestStats(ctx context.Context, db *gorm.DB, code string) (count int64, newest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ChangeRequest{})
	if code != "" {
		q = q.Where("map_code = ?", code)
	}
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
