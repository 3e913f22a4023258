package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/genji-bot/internal/domain"
)

// InsertPlaytest stores a new voting session in the open state.
func InsertPlaytest(ctx context.Context, db *gorm.DB, p *domain.Playtest) error {
	if p.Status == "" {
		p.Status = domain.PlaytestOpen
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	err := db.WithContext(ctx).Create(p).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetPlaytestByMessage looks a session up by its voting message id.
func GetPlaytestByMessage(ctx context.Context, db *gorm.DB, messageID int64) (*domain.Playtest, error) {
	var p domain.Playtest
	if err := db.WithContext(ctx).First(&p, "message_id = ?", messageID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlaytestByThread looks a session up by its thread id.
func GetPlaytestByThread(ctx context.Context, db *gorm.DB, threadID int64) (*domain.Playtest, error) {
	var p domain.Playtest
	if err := db.WithContext(ctx).First(&p, "thread_id = ?", threadID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListUnresolvedPlaytests returns every session still accepting votes,
// oldest first.
func ListUnresolvedPlaytests(ctx context.Context, db *gorm.DB) ([]domain.Playtest, error) {
	return ListPlaytestsByStatus(ctx, db, domain.PlaytestOpen)
}

// ListPlaytestsByStatus returns the sessions in status, oldest first.
func ListPlaytestsByStatus(ctx context.Context, db *gorm.DB, status string) ([]domain.Playtest, error) {
	var out []domain.Playtest
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// SetPlaytestStatus moves a session to status. ErrNotFound when the thread
// has no session.
func SetPlaytestStatus(ctx context.Context, db *gorm.DB, threadID int64, status string) error {
	res := db.WithContext(ctx).Model(&domain.Playtest{}).
		Where("thread_id = ?", threadID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapPlaytestStatus moves a session from one status to another in a single
// conditional update. ErrNotFound when the session is not in from.
func SwapPlaytestStatus(ctx context.Context, db *gorm.DB, threadID int64, from, to string) error {
	res := db.WithContext(ctx).Model(&domain.Playtest{}).
		Where("thread_id = ? AND status = ?", threadID, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleFinalized flips the finalize permission and returns the new value.
func ToggleFinalized(ctx context.Context, db *gorm.DB, threadID int64) (bool, error) {
	var out bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.Playtest
		if err := tx.Select("thread_id", "finalized").First(&p, "thread_id = ?", threadID).Error; err != nil {
			return err
		}
		out = !p.Finalized
		return tx.Model(&domain.Playtest{}).Where("thread_id = ?", threadID).Update("finalized", out).Error
	})
	return out, err
}

// DeletePlaytest removes the session row (votes are removed separately).
func DeletePlaytest(ctx context.Context, db *gorm.DB, threadID int64) error {
	return db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&domain.Playtest{}).Error
}

// UpsertVote records a voter's rating; a repeated vote overwrites the
// previous value.
func UpsertVote(ctx context.Context, db *gorm.DB, threadID, userID int64, value float64, now time.Time) error {
	v := &domain.PlaytestVote{ThreadID: threadID, UserID: userID, Value: value, UpdatedAt: now.UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(v).Error
}

// ListVotes returns every vote cast in a thread.
func ListVotes(ctx context.Context, db *gorm.DB, threadID int64) ([]domain.PlaytestVote, error) {
	var out []domain.PlaytestVote
	err := db.WithContext(ctx).Where("thread_id = ?", threadID).Order("updated_at asc").Find(&out).Error
	return out, err
}

// DeleteVotes clears every vote in a thread and returns how many were removed.
func DeleteVotes(ctx context.Context, db *gorm.DB, threadID int64) (int64, error) {
	res := db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&domain.PlaytestVote{})
	return res.RowsAffected, res.Error
}

// DeleteCompletions clears every completion recorded for a map.
func DeleteCompletions(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	res := db.WithContext(ctx).Where("map_code = ?", code).Delete(&domain.Completion{})
	return res.RowsAffected, res.Error
}

// UpdatePlaytestDifficulty stores a new submitted difficulty and vote
// threshold for a session.
func UpdatePlaytestDifficulty(ctx context.Context, db *gorm.DB, threadID int64, difficulty string, required int) error {
	res := db.WithContext(ctx).Model(&domain.Playtest{}).
		Where("thread_id = ?", threadID).
		Updates(map[string]any{"difficulty": difficulty, "required_votes": required})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
