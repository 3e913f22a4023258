package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
)

// InsertChangeRequest stores a new open change request.
func InsertChangeRequest(ctx context.Context, db *gorm.DB, cr *domain.ChangeRequest) error {
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = time.Now().UTC()
	}
	err := db.WithContext(ctx).Create(cr).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetChangeRequest fetches a request by its thread id.
func GetChangeRequest(ctx context.Context, db *gorm.DB, threadID int64) (*domain.ChangeRequest, error) {
	var cr domain.ChangeRequest
	if err := db.WithContext(ctx).First(&cr, "thread_id = ?", threadID).Error; err != nil {
		return nil, err
	}
	return &cr, nil
}

// ListOpenChangeRequestsByMap returns unresolved requests for a map, newest
// first.
func ListOpenChangeRequestsByMap(ctx context.Context, db *gorm.DB, code string) ([]domain.ChangeRequest, error) {
	var out []domain.ChangeRequest
	err := db.WithContext(ctx).
		Where("map_code = ? AND resolved = ?", code, false).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListStaleChangeRequests returns open requests created before cutoff that
// have not been flagged yet.
func ListStaleChangeRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]domain.ChangeRequest, error) {
	var out []domain.ChangeRequest
	err := db.WithContext(ctx).
		Where("created_at < ? AND alerted = ? AND resolved = ?", cutoff.UTC(), false, false).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// MarkChangeRequestAlerted flags a request as alerted. It reports false when
// the request was already flagged, so each request is alerted at most once.
func MarkChangeRequestAlerted(ctx context.Context, db *gorm.DB, threadID int64) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.ChangeRequest{}).
		Where("thread_id = ? AND alerted = ?", threadID, false).
		Update("alerted", true)
	return res.RowsAffected > 0, res.Error
}

// MarkChangeRequestResolved resolves a request. ErrNotFound when no request
// exists for threadID.
func MarkChangeRequestResolved(ctx context.Context, db *gorm.DB, threadID int64) error {
	res := db.WithContext(ctx).Model(&domain.ChangeRequest{}).
		Where("thread_id = ?", threadID).
		Update("resolved", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountChangeRequests counts requests, optionally scoped to a map and to
// open ones only.
func CountChangeRequests(ctx context.Context, db *gorm.DB, code string, openOnly bool) (int64, error) {
	var n int64
	err := changeRequestScope(db.WithContext(ctx), code, openOnly).Count(&n).Error
	return n, err
}

// ListChangeRequests returns one page of requests, newest first. Use
// CountChangeRequests for pagination metadata.
func ListChangeRequests(ctx context.Context, db *gorm.DB, code string, openOnly bool, offset, limit int) ([]domain.ChangeRequest, error) {
	var out []domain.ChangeRequest
	err := changeRequestScope(db.WithContext(ctx), code, openOnly).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func changeRequestScope(db *gorm.DB, code string, openOnly bool) *gorm.DB {
	q := db.Model(&domain.ChangeRequest{})
	if code != "" {
		q = q.Where("map_code = ?", code)
	}
	if openOnly {
		q = q.Where("resolved = ?", false)
	}
	return q
}
