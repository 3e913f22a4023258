package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/repo"
)

const (
	maxOpenPlaytests     = 5
	maxWeeklySubmissions = 2
	quotaWindow          = 7 * 24 * time.Hour
)

// QuotaReader supplies the counts the submission quotas are checked against.
type QuotaReader interface {
	CountOpenAuthoredPlaytests(ctx context.Context, userID int64) (int64, error)
	WeeklySubmissions(ctx context.Context, userID int64, now time.Time) (int64, *time.Time, error)
}

// DBQuota reads quotas through the repo query catalog.
type DBQuota struct {
	DB *gorm.DB
}

func (q DBQuota) CountOpenAuthoredPlaytests(ctx context.Context, userID int64) (int64, error) {
	return repo.CountOpenAuthoredPlaytests(ctx, q.DB, userID)
}

func (q DBQuota) WeeklySubmissions(ctx context.Context, userID int64, now time.Time) (int64, *time.Time, error) {
	return repo.WeeklySubmissions(ctx, q.DB, userID, now)
}

// SubmissionValidator applies the medal rule and the per-user quotas.
type SubmissionValidator struct {
	Quota QuotaReader
	Clock func() time.Time
}

// NewSubmissionValidator returns a validator backed by q and the wall clock.
func NewSubmissionValidator(q QuotaReader) *SubmissionValidator {
	return &SubmissionValidator{Quota: q, Clock: time.Now}
}

// Validate checks medals, then open playtests, then the weekly quota.
// Weekly rejections are returned as *WeeklyQuotaError.
func (v *SubmissionValidator) Validate(ctx context.Context, userID int64, sub *domain.MapSubmission) error {
	tr := otel.Tracer("services/SubmissionValidator")
	ctx, span := tr.Start(ctx, "Validate",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("map.code", sub.Code),
		),
	)
	defer span.End()

	if err := sub.ValidateMedals(); err != nil {
		return err
	}

	open, err := v.Quota.CountOpenAuthoredPlaytests(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if open >= maxOpenPlaytests {
		return ErrMaxMapsInPlaytest
	}

	now := time.Now
	if v.Clock != nil {
		now = v.Clock
	}
	count, oldest, err := v.Quota.WeeklySubmissions(ctx, userID, now())
	if err != nil {
		span.RecordError(err)
		return err
	}
	if count >= maxWeeklySubmissions && oldest != nil {
		return &WeeklyQuotaError{RetryAt: oldest.Add(quotaWindow)}
	}
	return nil
}
