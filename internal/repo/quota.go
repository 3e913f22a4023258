package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
)

// CountOpenAuthoredPlaytests counts playtests the user authored that are
// still open or waiting on restarted details.
func CountOpenAuthoredPlaytests(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Playtest{}).
		Where("is_author = ? AND user_id = ? AND status IN ?", true, userID,
			[]string{domain.PlaytestOpen, domain.PlaytestRestarting}).
		Count(&n).Error
	return n, err
}

// WeeklySubmissions counts the user's submissions in the trailing seven days
// ending at now, and returns the oldest counted submission time (nil when
// the count is zero).
func WeeklySubmissions(ctx context.Context, db *gorm.DB, userID int64, now time.Time) (int64, *time.Time, error) {
	now = now.UTC()
	q := db.WithContext(ctx).Model(&domain.MapSubmissionDate{}).
		Where("user_id = ? AND date BETWEEN ? AND ?", userID, now.Add(-7*24*time.Hour), now)

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, nil
	}

	// Ordered read instead of MIN(): SQLite returns MIN over datetimes as TEXT.
	var row struct {
		Date time.Time
	}
	if err := q.Select("date").Order("date ASC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return n, &row.Date, nil
}
