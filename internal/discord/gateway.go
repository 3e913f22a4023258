package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/genji-bot/internal/services"
)

// MemberHandler receives guild membership changes.
type MemberHandler interface {
	OnJoin(ctx context.Context, userID int64, nickname string) (*services.JoinResult, error)
	OnNicknameChange(ctx context.Context, userID int64, nickname string) error
}

const handlerTimeout = 15 * time.Second

// Intents the gateway connection needs.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

// RegisterMemberHandlers forwards member joins and nickname changes in
// guildID to h. The returned func removes the handlers.
func RegisterMemberHandlers(s *discordgo.Session, guildID string, h MemberHandler) func() {
	removeAdd := s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		onMemberAdd(guildID, h, e)
	})
	removeUpdate := s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		onMemberUpdate(guildID, h, e)
	})
	return func() {
		removeAdd()
		removeUpdate()
	}
}

func onMemberAdd(guildID string, h MemberHandler, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.User == nil || e.GuildID != guildID || e.User.Bot {
		return
	}
	userID, err := parseID(e.User.ID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if _, err := h.OnJoin(ctx, userID, displayName(e.Member)); err != nil {
		log.Error().Err(err).Str("event", "member_join_failed").Int64("user_id", userID).Msg("member join not recorded")
	}
}

func onMemberUpdate(guildID string, h MemberHandler, e *discordgo.GuildMemberUpdate) {
	if e.Member == nil || e.User == nil || e.GuildID != guildID {
		return
	}
	if e.BeforeUpdate != nil && displayName(e.BeforeUpdate) == displayName(e.Member) {
		return
	}
	userID, err := parseID(e.User.ID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := h.OnNicknameChange(ctx, userID, displayName(e.Member)); err != nil {
		log.Error().Err(err).Str("event", "nickname_update_failed").Int64("user_id", userID).Msg("nickname not stored")
	}
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
