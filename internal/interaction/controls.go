package interaction

import (
	"fmt"
	"strconv"

	"github.com/tbourn/genji-bot/internal/services"
)

const changeRequestIDs = `-(?P<map_code>[A-Z0-9]{4,6})-(?P<thread_id>\d+)`

// NewRegistry returns a registry with every control the bot posts.
func NewRegistry() *Registry {
	r := &Registry{}
	for _, c := range []struct {
		pattern string
		f       Factory
	}{
		{services.ButtonConfirmChanges + changeRequestIDs, changeRequest(KindConfirmChanges, services.ButtonConfirmChanges)},
		{services.ButtonDenyChanges + changeRequestIDs, changeRequest(KindDenyChanges, services.ButtonDenyChanges)},
		{services.ButtonRequestArchive + changeRequestIDs, changeRequest(KindRequestArchive, services.ButtonRequestArchive)},
		{services.ModCloseCustomID, fixed(KindModClose)},
		{services.VotePrefix + `(?P<message_id>\d+)`, playtestVote},
	} {
		if err := r.Register(c.pattern, c.f); err != nil {
			panic(err)
		}
	}
	return r
}

func changeRequest(kind, button string) Factory {
	return func(customID string, g map[string]string) (Control, error) {
		id, err := strconv.ParseInt(g["thread_id"], 10, 64)
		if err != nil {
			return Control{}, fmt.Errorf("%w: %q", ErrMalformedID, customID)
		}
		return Control{Kind: kind, CustomID: customID, Button: button, MapCode: g["map_code"], ThreadID: id}, nil
	}
}

func fixed(kind string) Factory {
	return func(customID string, _ map[string]string) (Control, error) {
		return Control{Kind: kind, CustomID: customID}, nil
	}
}

func playtestVote(customID string, g map[string]string) (Control, error) {
	id, err := strconv.ParseInt(g["message_id"], 10, 64)
	if err != nil {
		return Control{}, fmt.Errorf("%w: %q", ErrMalformedID, customID)
	}
	return Control{Kind: KindPlaytestVote, CustomID: customID, MessageID: id}, nil
}
