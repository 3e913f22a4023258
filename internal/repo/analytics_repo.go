package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
)

const analyticsBatchSize = 200

// InsertAnalytics writes a batch of buffered usage events.
func InsertAnalytics(ctx context.Context, db *gorm.DB, events []domain.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(events, analyticsBatchSize).Error
}
