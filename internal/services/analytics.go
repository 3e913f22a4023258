package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/repo"
)

// AnalyticsBuffer collects command usage in memory and writes it in
// batches. Appends and the flush swap share one lock, so no event is lost
// or written twice.
type AnalyticsBuffer struct {
	DB      *gorm.DB
	MaxSize int

	mu  sync.Mutex
	buf []domain.AnalyticsEvent
}

// NewAnalyticsBuffer returns a buffer that holds at most maxSize events.
func NewAnalyticsBuffer(db *gorm.DB, maxSize int) *AnalyticsBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &AnalyticsBuffer{DB: db, MaxSize: maxSize}
}

// Track buffers one event. The "screenshot" argument is never stored.
// It reports false when the buffer is full and the event was dropped.
func (b *AnalyticsBuffer) Track(event string, userID int64, at time.Time, args map[string]any) bool {
	clean := make(map[string]any, len(args))
	for k, v := range args {
		if k != "screenshot" {
			clean[k] = v
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("analytics args not serializable")
		raw = []byte("{}")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) >= b.MaxSize {
		analyticsDropped.Inc()
		return false
	}
	b.buf = append(b.buf, domain.AnalyticsEvent{
		Event:     event,
		UserID:    userID,
		Timestamp: at.UTC(),
		Args:      string(raw),
	})
	return true
}

// Len returns the number of buffered events.
func (b *AnalyticsBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Flush writes and clears the buffer. On a write failure the events are
// put back in front of anything tracked meanwhile, up to MaxSize.
func (b *AnalyticsBuffer) Flush(ctx context.Context) (int, error) {
	b.mu.Lock()
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}
	if err := repo.InsertAnalytics(ctx, b.DB, batch); err != nil {
		b.mu.Lock()
		merged := append(batch, b.buf...)
		if len(merged) > b.MaxSize {
			analyticsDropped.Add(float64(len(merged) - b.MaxSize))
			merged = merged[:b.MaxSize]
		}
		b.buf = merged
		b.mu.Unlock()
		return 0, err
	}
	return len(batch), nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (b *AnalyticsBuffer) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := b.Flush(fctx); err != nil {
				log.Error().Err(err).Str("event", "analytics_flush_failed").Msg("final analytics flush failed")
			}
			cancel()
			return
		case <-t.C:
			n, err := b.Flush(ctx)
			if err != nil {
				log.Error().Err(err).Str("event", "analytics_flush_failed").Msg("analytics flush failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("events", n).Msg("analytics flushed")
			}
		}
	}
}
