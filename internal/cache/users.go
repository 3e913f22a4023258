package cache

import (
	"strconv"
	"strings"

	"github.com/tbourn/genji-bot/internal/domain"
)

// UserData is the cached view of a guild member.
type UserData struct {
	ID        int64
	Nickname  string
	Flags     domain.UserFlags
	IsCreator bool
}

// Users caches members keyed by user id.
type Users struct {
	*Collection[int64, UserData]
}

// NewUsers builds an empty user collection.
func NewUsers() *Users {
	return &Users{NewCollection("users",
		func(u UserData) int64 { return u.ID },
		func(u UserData) Choice {
			return Choice{Name: u.Nickname, Value: strconv.FormatInt(u.ID, 10)}
		},
		nil,
	)}
}

// UserFromModel converts a persisted user; the nickname is escaped.
func UserFromModel(u domain.User) UserData {
	return UserData{
		ID:        u.UserID,
		Nickname:  EscapeMarkdown(u.Nickname),
		Flags:     u.Flags,
		IsCreator: u.IsCreator,
	}
}

// SetNickname stores an escaped nickname.
func (u *Users) SetNickname(id int64, nickname string) error {
	return u.Update(id, func(v *UserData) error {
		v.Nickname = EscapeMarkdown(nickname)
		return nil
	})
}

// SetIsCreator records whether the user is credited on any map.
func (u *Users) SetIsCreator(id int64, isCreator bool) error {
	return u.Update(id, func(v *UserData) error {
		v.IsCreator = isCreator
		return nil
	})
}

// ToggleFlag flips flag and returns the resulting flags.
func (u *Users) ToggleFlag(id int64, flag domain.UserFlags) (domain.UserFlags, error) {
	var out domain.UserFlags
	err := u.Update(id, func(v *UserData) error {
		v.Flags = v.Flags.Toggle(flag)
		out = v.Flags
		return nil
	})
	return out, err
}

// CreatorChoices returns matching users that are map creators.
func (u *Users) CreatorChoices(query string) []Choice {
	return u.ChoicesWhere(query, func(v UserData) bool { return v.IsCreator })
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"|", `\|`,
	">", `\>`,
)

// EscapeMarkdown escapes chat markdown control characters.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
