package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/repo"
)

// CreatorService edits the creator list of a map. Each change is written
// to the database first and mirrored into the cache right after.
type CreatorService struct {
	DB    *gorm.DB
	Cache *cache.GenjiCache
	Perms Permissions
}

// AddCreator credits userID on code. Moderators and existing creators may
// do this.
func (s *CreatorService) AddCreator(ctx context.Context, actor Actor, code string, userID int64) (*cache.MapData, error) {
	tr := otel.Tracer("services/CreatorService")
	ctx, span := tr.Start(ctx, "AddCreator",
		trace.WithAttributes(
			attribute.String("map.code", code),
			attribute.Int64("creator.id", userID),
		),
	)
	defer span.End()

	m, err := s.editable(actor, code)
	if err != nil {
		return nil, err
	}
	if s.Cache.Maps.IsCreator(m.Code, userID) {
		return nil, fmt.Errorf("%w: %d on %s", cache.ErrCreatorAlreadyExists, userID, m.Code)
	}
	if err := repo.InsertMapCreator(ctx, s.DB, m.Code, userID); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %d on %s", cache.ErrCreatorAlreadyExists, userID, m.Code)
		}
		return nil, err
	}
	if err := s.Cache.Maps.AddCreator(m.Code, userID); err != nil {
		return nil, err
	}
	if err := s.Cache.Users.SetIsCreator(userID, true); err != nil && !errors.Is(err, cache.ErrDoesNotExist) {
		return nil, err
	}
	out, _ := s.Cache.Maps.Find(m.Code)
	return &out, nil
}

// RemoveCreator drops userID from code. The last creator cannot be removed.
func (s *CreatorService) RemoveCreator(ctx context.Context, actor Actor, code string, userID int64) (*cache.MapData, error) {
	tr := otel.Tracer("services/CreatorService")
	ctx, span := tr.Start(ctx, "RemoveCreator",
		trace.WithAttributes(
			attribute.String("map.code", code),
			attribute.Int64("creator.id", userID),
		),
	)
	defer span.End()

	m, err := s.editable(actor, code)
	if err != nil {
		return nil, err
	}
	if !s.Cache.Maps.IsCreator(m.Code, userID) {
		return nil, fmt.Errorf("%w: %d on %s", cache.ErrCreatorDoesNotExist, userID, m.Code)
	}
	if len(m.UserIDs) == 1 {
		return nil, fmt.Errorf("%w: map %s needs at least one creator", cache.ErrInvalidEntry, m.Code)
	}
	if err := repo.DeleteMapCreator(ctx, s.DB, m.Code, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d on %s", cache.ErrCreatorDoesNotExist, userID, m.Code)
		}
		return nil, err
	}
	if err := s.Cache.Maps.RemoveCreator(m.Code, userID); err != nil {
		return nil, err
	}
	still, err := repo.IsCreator(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Users.SetIsCreator(userID, still); err != nil && !errors.Is(err, cache.ErrDoesNotExist) {
		return nil, err
	}
	out, _ := s.Cache.Maps.Find(m.Code)
	return &out, nil
}

func (s *CreatorService) editable(actor Actor, code string) (cache.MapData, error) {
	code = domain.NormalizeMapCode(code)
	m, ok := s.Cache.Maps.Find(code)
	if !ok {
		return cache.MapData{}, fmt.Errorf("%w: %s", ErrMapNotFound, code)
	}
	if !s.Perms.IsMod(actor) && !s.Cache.Maps.IsCreator(code, actor.ID) {
		return cache.MapData{}, ErrNotCreator
	}
	return m, nil
}
