package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/events"
	"github.com/tbourn/genji-bot/internal/repo"
)

// ArchiveService hides maps from, or returns them to, the public catalog.
type ArchiveService struct {
	DB    *gorm.DB
	Cache *cache.GenjiCache
	Bus   *events.Bus
}

// SetArchived flips the archived flag for codes and returns the number of
// rows changed. Codes the cache does not know are skipped there.
func (s *ArchiveService) SetArchived(ctx context.Context, codes []string, archived bool) (int64, error) {
	tr := otel.Tracer("services/ArchiveService")
	ctx, span := tr.Start(ctx, "SetArchived",
		trace.WithAttributes(
			attribute.Int("codes.count", len(codes)),
			attribute.Bool("archived", archived),
		),
	)
	defer span.End()

	norm := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = domain.NormalizeMapCode(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		norm = append(norm, c)
	}
	if len(norm) == 0 {
		return 0, nil
	}

	n, err := repo.SetMapArchived(ctx, s.DB, norm, archived)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("rows.affected", n))

	for _, c := range norm {
		if err := s.Cache.Maps.SetArchived(c, archived); err != nil && !errors.Is(err, cache.ErrDoesNotExist) {
			log.Error().Err(err).Str("map_code", c).Msg("cache archive flag out of sync")
		}
	}

	if s.Bus != nil && n > 0 {
		tag, verb := events.TagMapArchived, "archived"
		if !archived {
			tag, verb = events.TagMapUnarchived, "unarchived"
		}
		if err := s.Bus.Publish(ctx, events.Event{
			Tag:     tag,
			Payload: events.MapArchived{Codes: norm, Archived: archived},
		}); err != nil {
			log.Warn().Err(err).Str("tag", tag).Msg("archive event failed")
		}
		if err := s.Bus.Publish(ctx, events.Event{
			Tag: events.TagNewsfeed,
			Payload: events.Newsfeed{
				Type:    verb,
				Title:   fmt.Sprintf("Maps %s", verb),
				Content: strings.Join(norm, ", "),
			},
		}); err != nil {
			log.Warn().Err(err).Msg("newsfeed event failed")
		}
	}
	return n, nil
}
