// Package discord adapts a discordgo session to the services Messenger
// port and forwards guild member events to the member service.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/genji-bot/internal/services"
)

const maxThreadName = 100

// api is the subset of *discordgo.Session the messenger calls.
type api interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Messenger implements services.Messenger on the Discord REST API.
type Messenger struct {
	api     api
	guildID string
}

var _ services.Messenger = (*Messenger)(nil)

// NewMessenger returns a messenger acting in guildID.
func NewMessenger(s *discordgo.Session, guildID string) *Messenger {
	return &Messenger{api: s, guildID: guildID}
}

func (m *Messenger) SendMessage(ctx context.Context, channelID int64, msg services.Message) (int64, error) {
	send := &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     embeds(msg),
		Components: components(msg.Components),
	}
	if msg.File != nil {
		send.Files = []*discordgo.File{file(msg.File)}
	}
	out, err := m.api.ChannelMessageSendComplex(id(channelID), send, discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("send message to %d: %w", channelID, err)
	}
	return parseID(out.ID)
}

func (m *Messenger) EditMessage(ctx context.Context, channelID, messageID int64, msg services.Message) error {
	edit := discordgo.NewMessageEdit(id(channelID), id(messageID))
	if msg.Content != "" {
		edit.SetContent(msg.Content)
	}
	if e := embeds(msg); e != nil {
		if msg.File != nil {
			e[0].Image = &discordgo.MessageEmbedImage{URL: "attachment://" + msg.File.Name}
		}
		edit.SetEmbeds(e)
	}
	if msg.File != nil {
		edit.Files = []*discordgo.File{file(msg.File)}
		edit.Attachments = &[]*discordgo.MessageAttachment{}
	}
	if msg.Components != nil {
		c := components(msg.Components)
		edit.Components = &c
	}
	if _, err := m.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}
	return nil
}

func (m *Messenger) StartThread(ctx context.Context, channelID, messageID int64, name string) (int64, error) {
	ch, err := m.api.MessageThreadStartComplex(id(channelID), id(messageID), &discordgo.ThreadStart{
		Name:                threadName(name),
		AutoArchiveDuration: 10080,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("start thread on %d: %w", messageID, err)
	}
	return parseID(ch.ID)
}

// StartForumThread creates a forum post. The starter message shares the
// thread's id.
func (m *Messenger) StartForumThread(ctx context.Context, forumID int64, name string, msg services.Message) (int64, int64, error) {
	ch, err := m.api.ForumThreadStartComplex(id(forumID), &discordgo.ThreadStart{
		Name:                threadName(name),
		AutoArchiveDuration: 10080,
	}, &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     embeds(msg),
		Components: components(msg.Components),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, 0, fmt.Errorf("start forum thread in %d: %w", forumID, err)
	}
	threadID, err := parseID(ch.ID)
	return threadID, threadID, err
}

func (m *Messenger) AddRole(ctx context.Context, userID int64, roleID string) error {
	if err := m.api.GuildMemberRoleAdd(m.guildID, id(userID), roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add role %s to %d: %w", roleID, userID, err)
	}
	return nil
}

func (m *Messenger) MemberExists(ctx context.Context, userID int64) (bool, error) {
	_, err := m.api.GuildMember(m.guildID, id(userID), discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// CloseThread applies the parent forum's tag named tag (when it exists),
// then archives and locks the thread.
func (m *Messenger) CloseThread(ctx context.Context, threadID int64, tag string) error {
	edit := &discordgo.ChannelEdit{Archived: ptr(true), Locked: ptr(true)}
	if tags, err := m.tagIDs(ctx, threadID, tag); err != nil {
		log.Warn().Err(err).Int64("thread_id", threadID).Msg("resolve forum tag failed")
	} else if tags != nil {
		edit.AppliedTags = &tags
	}
	if _, err := m.api.ChannelEditComplex(id(threadID), edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("close thread %d: %w", threadID, err)
	}
	return nil
}

func (m *Messenger) tagIDs(ctx context.Context, threadID int64, tag string) ([]string, error) {
	if tag == "" {
		return nil, nil
	}
	th, err := m.api.Channel(id(threadID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if th.ParentID == "" {
		return nil, nil
	}
	parent, err := m.api.Channel(th.ParentID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if parent.Type != discordgo.ChannelTypeGuildForum {
		return nil, nil
	}
	for _, t := range parent.AvailableTags {
		if strings.EqualFold(t.Name, tag) {
			applied := append([]string(nil), th.AppliedTags...)
			return append(applied, t.ID), nil
		}
	}
	return nil, nil
}

func embeds(msg services.Message) []*discordgo.MessageEmbed {
	if msg.Title == "" && msg.Description == "" {
		return nil
	}
	return []*discordgo.MessageEmbed{{Title: msg.Title, Description: msg.Description}}
}

func components(cs []services.Component) []discordgo.MessageComponent {
	if len(cs) == 0 {
		return nil
	}
	var rows []discordgo.MessageComponent
	var buttons []discordgo.MessageComponent
	flush := func() {
		if len(buttons) > 0 {
			rows = append(rows, discordgo.ActionsRow{Components: buttons})
			buttons = nil
		}
	}
	for _, c := range cs {
		if c.Style == services.StyleSelect {
			flush()
			opts := make([]discordgo.SelectMenuOption, 0, len(c.Options))
			for _, o := range c.Options {
				opts = append(opts, discordgo.SelectMenuOption{Label: o, Value: o})
			}
			rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    c.CustomID,
					Placeholder: c.Label,
					Options:     opts,
				},
			}})
			continue
		}
		if len(buttons) == 5 {
			flush()
		}
		buttons = append(buttons, discordgo.Button{Label: c.Label, Style: buttonStyle(c.Style), CustomID: c.CustomID})
	}
	flush()
	return rows
}

func buttonStyle(s string) discordgo.ButtonStyle {
	switch s {
	case services.StyleSecondary:
		return discordgo.SecondaryButton
	case services.StyleSuccess:
		return discordgo.SuccessButton
	case services.StyleDanger:
		return discordgo.DangerButton
	}
	return discordgo.PrimaryButton
}

func file(f *services.File) *discordgo.File {
	return &discordgo.File{Name: f.Name, ContentType: "image/png", Reader: bytes.NewReader(f.Data)}
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// threadName title-cases the map name part and trims to the platform limit.
func threadName(name string) string {
	parts := strings.Split(name, " | ")
	if len(parts) == 3 {
		parts[2] = titleCaser.String(parts[2])
		name = strings.Join(parts, " | ")
	}
	if r := []rune(name); len(r) > maxThreadName {
		name = string(r[:maxThreadName])
	}
	return name
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func parseID(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("discord returned a malformed id %q: %w", s, err)
	}
	return v, nil
}

func ptr[T any](v T) *T { return &v }
