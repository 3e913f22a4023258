package services

import (
	"context"
	"slices"

	"github.com/tbourn/genji-bot/internal/companion"
)

// Component styles.
const (
	StylePrimary   = "primary"
	StyleSecondary = "secondary"
	StyleSuccess   = "success"
	StyleDanger    = "danger"
	StyleSelect    = "select"
)

// Component is an interactive control attached to a message. CustomID is
// what the gateway sends back when the control is used.
type Component struct {
	CustomID string
	Label    string
	Style    string
	Options  []string
}

// File is a binary attachment.
type File struct {
	Name string
	Data []byte
}

// Message is an outgoing chat message. Title and Description render as an
// embed when set.
type Message struct {
	Content     string
	Title       string
	Description string
	File        *File
	Components  []Component
}

// Messenger is the chat platform port used by the workflow. EditMessage
// always replaces the content; the embed, file and components are only
// replaced when set on msg.
type Messenger interface {
	SendMessage(ctx context.Context, channelID int64, msg Message) (int64, error)
	EditMessage(ctx context.Context, channelID, messageID int64, msg Message) error
	StartThread(ctx context.Context, channelID, messageID int64, name string) (int64, error)
	StartForumThread(ctx context.Context, forumID int64, name string, msg Message) (threadID, messageID int64, err error)
	AddRole(ctx context.Context, userID int64, roleID string) error
	MemberExists(ctx context.Context, userID int64) (bool, error)
	CloseThread(ctx context.Context, threadID int64, tag string) error
}

// PlaytestMirror receives playtest metadata for the companion web API and
// reads back playtests this bot holds no row for.
type PlaytestMirror interface {
	PostPlaytest(ctx context.Context, meta companion.PlaytestMeta) error
	GetPlaytest(ctx context.Context, threadID int64) (*companion.PlaytestInfo, error)
}

// Actor is the member invoking an action, with their role ids.
type Actor struct {
	ID    int64
	Roles []string
}

// Permissions decides moderator status from role ids.
type Permissions struct {
	ModRoleIDs []string
}

// IsMod reports whether a holds any moderator role.
func (p Permissions) IsMod(a Actor) bool {
	for _, r := range a.Roles {
		if slices.Contains(p.ModRoleIDs, r) {
			return true
		}
	}
	return false
}
