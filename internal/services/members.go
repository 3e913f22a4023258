package services

import (
	"context"
	"errors"

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

// JoinResult reports what OnJoin did.
type JoinResult struct {
	Created   bool `json:"created"`
	IsCreator bool `json:"is_creator"`
}

// MemberService keeps the users table and cache in step with the guild.
type MemberService struct {
	DB             *gorm.DB
	Cache          *cache.GenjiCache
	Messenger      Messenger
	Bus            *events.Bus
	MapMakerRoleID string
}

// OnJoin records a member who joined the guild. Returning map creators get
// the map maker role again.
func (s *MemberService) OnJoin(ctx context.Context, userID int64, nickname string) (*JoinResult, error) {
	tr := otel.Tracer("services/MemberService")
	ctx, span := tr.Start(ctx, "OnJoin", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	created, err := repo.UpsertUser(ctx, s.DB, userID, nickname)
	if err != nil {
		return nil, err
	}
	isCreator, err := repo.IsCreator(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}

	if _, ok := s.Cache.Users.Find(userID); !ok {
		u := cache.UserData{ID: userID, Nickname: cache.EscapeMarkdown(nickname), IsCreator: isCreator}
		if err := s.Cache.Users.AddOne(u); err != nil && !errors.Is(err, cache.ErrAlreadyExists) {
			return nil, err
		}
	} else if err := s.Cache.Users.SetIsCreator(userID, isCreator); err != nil {
		return nil, err
	}

	if isCreator && s.MapMakerRoleID != "" && s.Messenger != nil {
		if err := s.Messenger.AddRole(ctx, userID, s.MapMakerRoleID); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("re-grant map maker role failed")
		}
	}
	if s.Bus != nil {
		if err := s.Bus.Publish(ctx, events.Event{
			Tag:     events.TagMemberJoined,
			Payload: events.MemberJoined{UserID: userID, IsCreator: isCreator},
		}); err != nil {
			log.Warn().Err(err).Msg("member joined event failed")
		}
	}
	return &JoinResult{Created: created, IsCreator: isCreator}, nil
}

// OnNicknameChange stores a member's new nickname.
func (s *MemberService) OnNicknameChange(ctx context.Context, userID int64, nickname string) error {
	tr := otel.Tracer("services/MemberService")
	ctx, span := tr.Start(ctx, "OnNicknameChange", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	if err := repo.SetNickname(ctx, s.DB, userID, nickname); err != nil {
		return err
	}
	err := s.Cache.Users.SetNickname(userID, nickname)
	if errors.Is(err, cache.ErrDoesNotExist) {
		isCreator, cerr := repo.IsCreator(ctx, s.DB, userID)
		if cerr != nil {
			return cerr
		}
		err = s.Cache.Users.AddOne(cache.UserData{ID: userID, Nickname: cache.EscapeMarkdown(nickname), IsCreator: isCreator})
	}
	return err
}

// ToggleFlag flips one of the member's settings and returns the stored
// flags. The cached copy is overwritten when it disagrees with the store.
func (s *MemberService) ToggleFlag(ctx context.Context, userID int64, flag domain.UserFlags) (domain.UserFlags, error) {
	tr := otel.Tracer("services/MemberService")
	ctx, span := tr.Start(ctx, "ToggleFlag",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int("flag", int(flag)),
		),
	)
	defer span.End()

	flags, err := repo.ToggleUserFlag(ctx, s.DB, userID, flag)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrMemberNotFound
	}
	if err != nil {
		return 0, err
	}

	cached, err := s.Cache.Users.ToggleFlag(userID, flag)
	switch {
	case errors.Is(err, cache.ErrDoesNotExist):
	case err != nil:
		return 0, err
	case cached != flags:
		log.Error().Int64("user_id", userID).Msg("cache out of sync with store")
		err = s.Cache.Users.Update(userID, func(v *cache.UserData) error {
			v.Flags = flags
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return flags, nil
}
