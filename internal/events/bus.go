// Package events is the in-process event bus that decouples workflow
// transitions from their side effects (queue mirroring, newsfeed posts,
// role grants). Delivery is synchronous and follows subscription order.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event tags.
const (
	TagMapPublished     = "map.published"
	TagMapArchived      = "map.archived"
	TagMapUnarchived    = "map.unarchived"
	TagPlaytestCreated  = "playtest.created"
	TagPlaytestResolved = "playtest.resolved"
	TagNewsfeed         = "newsfeed"
	TagMemberJoined     = "member.joined"
)

// Event is a tagged record published on the bus.
type Event struct {
	Tag     string
	Payload any
	At      time.Time
}

// Handler reacts to an event.
type Handler func(ctx context.Context, e Event) error

// Bus routes events to handlers subscribed by tag.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers h for tag. Handlers run in registration order.
func (b *Bus) Subscribe(tag string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[tag] = append(b.subscribers[tag], h)
}

// Publish delivers e to every handler of e.Tag before returning. A failing
// handler does not stop later ones; all failures are joined into the
// returned error.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := append([]Handler(nil), b.subscribers[e.Tag]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range subs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := h(ctx, e); err != nil {
			log.Error().Err(err).Str("event", "bus_handler_failed").Str("tag", e.Tag).Msg("event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Payloads.

// MapPublished is emitted when a map enters the published catalog.
type MapPublished struct {
	Code       string  `json:"map_code"`
	Name       string  `json:"map_name"`
	Creators   []int64 `json:"creator_ids"`
	Difficulty string  `json:"difficulty"`
	Official   bool    `json:"official"`
	Summary    string  `json:"summary,omitempty"`
}

// MapArchived is emitted for archive and unarchive changes.
type MapArchived struct {
	Codes    []string `json:"map_codes"`
	Archived bool     `json:"archived"`
}

// PlaytestCreated is emitted when a voting session opens.
type PlaytestCreated struct {
	ThreadID   int64  `json:"thread_id"`
	MapCode    string `json:"map_code"`
	Difficulty string `json:"difficulty"`
}

// PlaytestResolved is emitted when a session reaches a terminal status.
type PlaytestResolved struct {
	ThreadID int64  `json:"thread_id"`
	MapCode  string `json:"map_code"`
	Status   string `json:"status"`
}

// Newsfeed asks for an announcement in the newsfeed channel.
type Newsfeed struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// MemberJoined is emitted after a member join is processed.
type MemberJoined struct {
	UserID    int64 `json:"user_id"`
	IsCreator bool  `json:"is_creator"`
}
