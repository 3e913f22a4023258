package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/config"
	"github.com/tbourn/genji-bot/internal/repo"
	"github.com/tbourn/genji-bot/internal/services"
)

const (
	draftSweepInterval = time.Minute
	idempotencyPurge   = time.Hour
)

type jobParams struct {
	fx.In

	DB             *gorm.DB
	Config         config.Config
	Analytics      *services.AnalyticsBuffer
	Workflow       *services.WorkflowEngine
	ChangeRequests *services.ChangeRequestService
}

// runJobs runs the periodic maintenance loops until ctx is done.
func runJobs(ctx context.Context, p jobParams) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.Analytics.Run(ctx, p.Config.Workflow.AnalyticsFlushInterval)
		return nil
	})
	g.Go(func() error {
		every(ctx, p.Config.Workflow.StaleSweepInterval, func(now time.Time) {
			n, err := p.ChangeRequests.SweepStale(ctx, now)
			if err != nil {
				log.Error().Err(err).Str("event", "stale_sweep_failed").Msg("stale change request sweep failed")
				return
			}
			if n > 0 {
				log.Info().Int("alerted", n).Msg("stale change requests alerted")
			}
		})
		return nil
	})
	g.Go(func() error {
		every(ctx, draftSweepInterval, func(now time.Time) {
			if n := p.Workflow.SweepDrafts(ctx, now); n > 0 {
				log.Debug().Int("expired", n).Msg("submission drafts expired")
			}
		})
		return nil
	})
	g.Go(func() error {
		every(ctx, idempotencyPurge, func(now time.Time) {
			n, err := repo.PurgeIdempotency(ctx, p.DB, now)
			if err != nil {
				log.Error().Err(err).Msg("idempotency purge failed")
				return
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("idempotency records purged")
			}
		})
		return nil
	})
	return g.Wait()
}

// every calls fn on each tick of interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			fn(now.UTC())
		}
	}
}
