package services

import (
	"context"
	"fmt"

	"github.com/tbourn/genji-bot/internal/events"
)

// NewsfeedPoster announces newsfeed events in a channel.
type NewsfeedPoster struct {
	Messenger Messenger
	ChannelID int64
}

// Subscribe attaches the poster to the bus. A zero channel disables it.
func (p *NewsfeedPoster) Subscribe(bus *events.Bus) {
	if p.ChannelID == 0 || p.Messenger == nil {
		return
	}
	bus.Subscribe(events.TagNewsfeed, p.handle)
}

func (p *NewsfeedPoster) handle(ctx context.Context, e events.Event) error {
	n, ok := e.Payload.(events.Newsfeed)
	if !ok {
		return fmt.Errorf("newsfeed: unexpected payload %T", e.Payload)
	}
	_, err := p.Messenger.SendMessage(ctx, p.ChannelID, Message{Title: n.Title, Description: n.Content})
	return err
}
