// Package services – WorkflowEngine
//
// This file implements the submission half of the workflow: drafts are
// created by Begin, completed by SetDetails and published by Confirm, either
// directly (moderator fast path) or by opening a playtest thread. Drafts live
// in memory only and expire after the configured timeout; nothing is
// persisted until Confirm succeeds.
//
// Observability: every public method opens an OpenTelemetry span and state
// changes are counted in genji_workflow_transitions_total.
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/companion"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/events"
	"github.com/tbourn/genji-bot/internal/repo"
)

const defaultDraftTimeout = 10 * time.Minute

// WorkflowSettings holds the channel and role ids the workflow posts to.
type WorkflowSettings struct {
	PlaytestChannelID int64
	PlaytestForumID   int64
	MapMakerRoleID    string
	ModmailRoleID     string
	DraftTimeout      time.Duration
}

// Draft is an in-progress submission. ThreadID is set when a moderator
// restarted an existing playtest and the creator is re-entering details.
type Draft struct {
	ID         string               `json:"id"`
	UserID     int64                `json:"user_id"`
	Mod        bool                 `json:"mod"`
	State      State                `json:"state"`
	Submission domain.MapSubmission `json:"submission"`
	ThreadID   int64                `json:"thread_id,omitempty"`
	ExpiresAt  time.Time            `json:"expires_at"`

	// posts survives a failed confirm so a retry reuses the messages and
	// thread already created.
	posts *playtestPosts
}

type playtestPosts struct {
	statusID int64
	threadID int64
	voteID   int64
}

func (d *Draft) clone() *Draft {
	cp := *d
	s := &cp.Submission
	s.Creators = slices.Clone(s.Creators)
	s.GuideURLs = slices.Clone(s.GuideURLs)
	s.MapTypes = slices.Clone(s.MapTypes)
	s.Mechanics = slices.Clone(s.Mechanics)
	s.Restrictions = slices.Clone(s.Restrictions)
	return &cp
}

// Details are the follow-up fields collected after Begin.
type Details struct {
	MapTypes     []string `json:"map_types"`
	Mechanics    []string `json:"mechanics"`
	Restrictions []string `json:"restrictions"`
	Difficulty   string   `json:"difficulty"`
}

// ConfirmResult describes where a confirmed submission ended up.
type ConfirmResult struct {
	State     State  `json:"state"`
	MapCode   string `json:"map_code"`
	ThreadID  int64  `json:"thread_id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

// WorkflowEngine drives submissions through the workflow and owns the
// live playtest voting sessions.
type WorkflowEngine struct {
	DB             *gorm.DB
	Cache          *cache.GenjiCache
	Validator      *SubmissionValidator
	Messenger      Messenger
	Mirror         PlaytestMirror
	Bus            *events.Bus
	ChangeRequests *ChangeRequestService
	Perms          Permissions
	Settings       WorkflowSettings
	Now            func() time.Time

	mu        sync.Mutex
	drafts    map[string]*Draft
	sessions  map[int64]int64 // voting message id -> thread id
	voteLocks sync.Map        // thread id -> *sync.Mutex
}

// NewWorkflowEngine wires an engine with empty draft and session tables.
func NewWorkflowEngine(db *gorm.DB, c *cache.GenjiCache, v *SubmissionValidator, m Messenger, bus *events.Bus, perms Permissions, settings WorkflowSettings) *WorkflowEngine {
	if settings.DraftTimeout <= 0 {
		settings.DraftTimeout = defaultDraftTimeout
	}
	return &WorkflowEngine{
		DB:        db,
		Cache:     c,
		Validator: v,
		Messenger: m,
		Bus:       bus,
		Perms:     perms,
		Settings:  settings,
		Now:       time.Now,
		drafts:    make(map[string]*Draft),
		sessions:  make(map[int64]int64),
	}
}

func (e *WorkflowEngine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Begin validates a new submission and opens a draft awaiting details.
// With mod set the actor must be a moderator; the draft will then publish
// without a playtest.
func (e *WorkflowEngine) Begin(ctx context.Context, actor Actor, sub domain.MapSubmission, mod bool) (*Draft, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "Begin",
		trace.WithAttributes(
			attribute.Int64("user.id", actor.ID),
			attribute.Bool("mod", mod),
		),
	)
	defer span.End()

	if mod && !e.Perms.IsMod(actor) {
		return nil, ErrNotModerator
	}
	sub.Normalize()
	if len(sub.Creators) == 0 {
		sub.Creators = []int64{actor.ID}
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("map.code", sub.Code))

	if err := e.ensureNewCode(ctx, sub.Code); err != nil {
		return nil, err
	}
	if names := e.Cache.MapNames; names.Len() > 0 && !names.Contains(sub.Name) {
		return nil, fmt.Errorf("%w: map name %q", ErrUnknownLookup, sub.Name)
	}
	if err := e.Validator.Validate(ctx, actor.ID, &sub); err != nil {
		return nil, err
	}

	id, err := newDraftID()
	if err != nil {
		return nil, err
	}
	d := &Draft{ID: id, UserID: actor.ID, Mod: mod, State: StateDraft, Submission: sub}
	if d.State, err = transition(d.State, StateAwaitingDetails); err != nil {
		return nil, err
	}

	e.mu.Lock()
	d.ExpiresAt = e.now().Add(e.Settings.DraftTimeout)
	e.drafts[d.ID] = d
	out := d.clone()
	e.mu.Unlock()

	return out, nil
}

// Draft returns a copy of the caller's draft.
func (e *WorkflowEngine) Draft(draftID string, userID int64) (*Draft, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.draftLocked(draftID, userID)
	if err != nil {
		return nil, err
	}
	return d.clone(), nil
}

// SetDetails stores the follow-up fields. Once all four are present the
// draft awaits confirmation; otherwise it keeps awaiting details. Each
// call extends the draft's lifetime.
func (e *WorkflowEngine) SetDetails(ctx context.Context, draftID string, userID int64, det Details) (*Draft, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	_, span := tr.Start(ctx, "SetDetails",
		trace.WithAttributes(
			attribute.String("draft.id", draftID),
			attribute.Int64("user.id", userID),
		),
	)
	defer span.End()

	if err := e.checkLookups(det); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.draftLocked(draftID, userID)
	if err != nil {
		return nil, err
	}

	sub := d.clone().Submission
	if err := sub.SetExtras(det.MapTypes, det.Mechanics, det.Restrictions, det.Difficulty); err != nil {
		return nil, err
	}
	next := StateAwaitingDetails
	if sub.DetailsComplete() {
		next = StateAwaitingConfirmation
	}
	if d.State, err = transition(d.State, next); err != nil {
		return nil, err
	}
	d.Submission = sub
	d.ExpiresAt = e.now().Add(e.Settings.DraftTimeout)
	return d.clone(), nil
}

// Confirm publishes the draft. Moderator drafts are inserted as official
// maps; others open a playtest thread with a voting post. On failure the
// draft is kept so the user can retry.
func (e *WorkflowEngine) Confirm(ctx context.Context, draftID string, userID int64) (*ConfirmResult, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "Confirm",
		trace.WithAttributes(
			attribute.String("draft.id", draftID),
			attribute.Int64("user.id", userID),
		),
	)
	defer span.End()

	e.mu.Lock()
	d, err := e.draftLocked(draftID, userID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if d.State != StateAwaitingConfirmation {
		e.mu.Unlock()
		if !d.Submission.DetailsComplete() {
			return nil, ErrDetailsIncomplete
		}
		return nil, fmt.Errorf("%w: %s -> confirm", ErrInvalidTransition, d.State)
	}
	// claim the draft so a concurrent confirm cannot publish twice
	delete(e.drafts, draftID)
	e.mu.Unlock()

	span.SetAttributes(attribute.String("map.code", d.Submission.Code))

	var res *ConfirmResult
	switch {
	case d.ThreadID != 0:
		res, err = e.confirmRestart(ctx, d)
	case d.Mod:
		res, err = e.confirmPublish(ctx, d)
	default:
		res, err = e.confirmPlaytest(ctx, d)
	}
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, ErrPlaytestResolved) && !errors.Is(err, ErrPlaytestNotFound) {
			e.restoreDraft(d)
		}
		return nil, err
	}
	return res, nil
}

// restoreDraft puts a claimed draft back after a failed confirm, unless a
// newer draft took its place.
func (e *WorkflowEngine) restoreDraft(d *Draft) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, taken := e.drafts[d.ID]; taken {
		return
	}
	if d.ThreadID != 0 && e.threadDraftLocked(d.ThreadID) {
		return
	}
	e.drafts[d.ID] = d
}

// Cancel discards a draft. Cancelling a restart draft reopens voting on
// the playtest with its previous details.
func (e *WorkflowEngine) Cancel(ctx context.Context, draftID string, userID int64) error {
	e.mu.Lock()
	d, err := e.draftLocked(draftID, userID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	delete(e.drafts, draftID)
	e.mu.Unlock()

	if d.ThreadID == 0 {
		return nil
	}
	if err := e.reopen(ctx, d.ThreadID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return nil
}

// SweepDrafts drops expired drafts and returns how many were removed.
// Playtests whose restart draft expired are reopened for voting.
func (e *WorkflowEngine) SweepDrafts(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	var restarts []int64
	n := 0
	for id, d := range e.drafts {
		if now.After(d.ExpiresAt) {
			delete(e.drafts, id)
			n++
			if d.ThreadID != 0 {
				restarts = append(restarts, d.ThreadID)
			}
		}
	}
	e.mu.Unlock()

	for _, threadID := range restarts {
		err := e.reopen(ctx, threadID)
		switch {
		case err == nil:
			log.Info().Int64("thread_id", threadID).Msg("restart draft expired; voting reopened")
		case errors.Is(err, repo.ErrNotFound):
		default:
			log.Error().Err(err).Int64("thread_id", threadID).Msg("reopen playtest failed")
		}
	}
	return n
}

// reopen moves a restarting playtest back to open and re-attaches voting.
// It is a no-op while another restart draft for the thread is pending.
func (e *WorkflowEngine) reopen(ctx context.Context, threadID int64) error {
	unlock := e.lockThread(threadID)
	defer unlock()

	e.mu.Lock()
	pending := e.threadDraftLocked(threadID)
	e.mu.Unlock()
	if pending {
		return nil
	}
	if err := repo.SwapPlaytestStatus(ctx, e.DB, threadID, domain.PlaytestRestarting, domain.PlaytestOpen); err != nil {
		return err
	}
	p, err := repo.GetPlaytestByThread(ctx, e.DB, threadID)
	if err != nil {
		return err
	}
	e.register(p.MessageID, p.ThreadID)
	e.refreshVoteDisplay(ctx, p, nil)
	return nil
}

func (e *WorkflowEngine) threadDraftLocked(threadID int64) bool {
	for _, d := range e.drafts {
		if d.ThreadID == threadID {
			return true
		}
	}
	return false
}

func (e *WorkflowEngine) draftLocked(id string, userID int64) (*Draft, error) {
	d, ok := e.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	if e.now().After(d.ExpiresAt) {
		// restart drafts are left for SweepDrafts, which reopens voting
		if d.ThreadID == 0 {
			delete(e.drafts, id)
		}
		return nil, ErrDraftNotFound
	}
	if d.UserID != userID {
		return nil, ErrNotDraftOwner
	}
	return d, nil
}

func (e *WorkflowEngine) ensureNewCode(ctx context.Context, code string) error {
	if _, ok := e.Cache.Maps.Find(code); ok {
		return fmt.Errorf("%w: %s", ErrMapExists, code)
	}
	exists, err := repo.MapExists(ctx, e.DB, code)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrMapExists, code)
	}
	return nil
}

// checkLookups rejects values missing from a loaded lookup collection.
// Empty collections are not enforced.
func (e *WorkflowEngine) checkLookups(det Details) error {
	for _, c := range []struct {
		set    *cache.Strings
		values []string
	}{
		{e.Cache.MapTypes, det.MapTypes},
		{e.Cache.Mechanics, det.Mechanics},
		{e.Cache.Restrictions, det.Restrictions},
	} {
		if c.set.Len() == 0 {
			continue
		}
		for _, v := range c.values {
			if !c.set.Contains(v) {
				return fmt.Errorf("%w: %s %q", ErrUnknownLookup, c.set.Name(), v)
			}
		}
	}
	return nil
}

func (e *WorkflowEngine) confirmPublish(ctx context.Context, d *Draft) (*ConfirmResult, error) {
	sub := d.Submission
	if err := repo.InsertMapSubmission(ctx, e.DB, &sub, true, e.now()); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrMapExists, sub.Code)
		}
		return nil, err
	}
	state, err := transition(d.State, StatePublished)
	if err != nil {
		return nil, err
	}

	e.cacheNewMap(sub)
	e.grantMapMaker(ctx, sub.Creators)
	e.publish(ctx, events.TagMapPublished, events.MapPublished{
		Code:       sub.Code,
		Name:       sub.Name,
		Creators:   sub.Creators,
		Difficulty: sub.Difficulty,
		Official:   true,
		Summary:    sub.String(),
	})
	e.publish(ctx, events.TagNewsfeed, events.Newsfeed{
		Type:    "new_map",
		Title:   fmt.Sprintf("New map: %s", sub.Code),
		Content: sub.String(),
	})
	return &ConfirmResult{State: state, MapCode: sub.Code}, nil
}

func (e *WorkflowEngine) confirmPlaytest(ctx context.Context, d *Draft) (*ConfirmResult, error) {
	sub := d.Submission
	required := domain.RequiredVotes(sub.Difficulty)
	channel := e.Settings.PlaytestChannelID

	if d.posts == nil {
		d.posts = &playtestPosts{}
	}
	post := d.posts
	status := Message{
		Content:     statusLine(0, required),
		Title:       "Calling all Playtesters!",
		Description: sub.String(),
	}
	if post.statusID == 0 {
		id, err := e.Messenger.SendMessage(ctx, channel, status)
		if err != nil {
			return nil, fmt.Errorf("send playtest message: %w", err)
		}
		post.statusID = id
	} else if err := e.Messenger.EditMessage(ctx, channel, post.statusID, status); err != nil {
		log.Warn().Err(err).Int64("message_id", post.statusID).Msg("refresh playtest message failed")
	}
	if post.threadID == 0 {
		id, err := e.Messenger.StartThread(ctx, channel, post.statusID, sub.ThreadName())
		if err != nil {
			return nil, fmt.Errorf("start playtest thread: %w", err)
		}
		post.threadID = id
	}
	if post.voteID == 0 {
		id, err := e.Messenger.SendMessage(ctx, post.threadID, Message{
			Content:     "Discuss, play, rate, etc.",
			Title:       "Difficulty Ratings",
			Description: "You can change your vote, but you cannot cast multiple!",
		})
		if err != nil {
			return nil, fmt.Errorf("send voting message: %w", err)
		}
		post.voteID = id
		if _, err := e.Messenger.SendMessage(ctx, post.threadID, Message{
			Content: fmt.Sprintf("<@%d>, you can receive feedback on your map here. "+
				"I'm pinging you so you are able to join this thread automatically!", sub.Creator()),
		}); err != nil {
			log.Warn().Err(err).Int64("thread_id", post.threadID).Msg("creator ping failed")
		}
	}
	statusID, threadID, voteID := post.statusID, post.threadID, post.voteID

	p := &domain.Playtest{
		ThreadID:          threadID,
		MapCode:           sub.Code,
		UserID:            sub.Creator(),
		IsAuthor:          true,
		MessageID:         voteID,
		PlaytestMessageID: statusID,
		RequiredVotes:     required,
		Difficulty:        sub.Difficulty,
		CreatedAt:         e.now(),
	}
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.InsertMapSubmission(ctx, tx, &sub, false, e.now()); err != nil {
			return err
		}
		return repo.InsertPlaytest(ctx, tx, p)
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrMapExists, sub.Code)
		}
		return nil, err
	}
	state, err := transition(d.State, StatePlaytestOpen)
	if err != nil {
		return nil, err
	}

	e.register(voteID, threadID)
	e.cacheNewMap(sub)
	e.refreshVoteDisplay(ctx, p, nil)
	e.grantMapMaker(ctx, sub.Creators)
	e.mirror(ctx, p)
	e.publish(ctx, events.TagPlaytestCreated, events.PlaytestCreated{
		ThreadID:   threadID,
		MapCode:    sub.Code,
		Difficulty: sub.Difficulty,
	})

	if state, err = transition(state, StateVotingOpen); err != nil {
		return nil, err
	}
	return &ConfirmResult{State: state, MapCode: sub.Code, ThreadID: threadID, MessageID: voteID}, nil
}

// confirmRestart stores re-entered details for a restarted playtest and
// reopens voting on the existing thread.
func (e *WorkflowEngine) confirmRestart(ctx context.Context, d *Draft) (*ConfirmResult, error) {
	sub := d.Submission
	required := domain.RequiredVotes(sub.Difficulty)

	unlock := e.lockThread(d.ThreadID)
	defer unlock()

	var p *domain.Playtest
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SwapPlaytestStatus(ctx, tx, d.ThreadID, domain.PlaytestRestarting, domain.PlaytestOpen); err != nil {
			return err
		}
		if err := repo.ReplaceMapDetails(ctx, tx, &sub); err != nil {
			return err
		}
		if err := repo.UpdatePlaytestDifficulty(ctx, tx, d.ThreadID, sub.Difficulty, required); err != nil {
			return err
		}
		var err error
		p, err = repo.GetPlaytestByThread(ctx, tx, d.ThreadID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, e.restartConflict(ctx, d.ThreadID)
	}
	if err != nil {
		return nil, err
	}

	state, err := transition(d.State, StatePlaytestOpen)
	if err != nil {
		return nil, err
	}
	e.register(p.MessageID, p.ThreadID)
	e.refreshVoteDisplay(ctx, p, nil)
	if state, err = transition(state, StateVotingOpen); err != nil {
		return nil, err
	}
	return &ConfirmResult{State: state, MapCode: sub.Code, ThreadID: p.ThreadID, MessageID: p.MessageID}, nil
}

// restartConflict explains why a restart draft could not be applied.
func (e *WorkflowEngine) restartConflict(ctx context.Context, threadID int64) error {
	p, err := e.playtest(ctx, threadID)
	switch {
	case err != nil:
		return err
	case p.Restarting():
		return ErrMapNotFound
	default:
		return fmt.Errorf("%w: playtest is already open", ErrInvalidTransition)
	}
}

// AddFromRelay opens a forum playtest thread for a map submitted through
// the companion site and mirrors the thread back to the companion API.
func (e *WorkflowEngine) AddFromRelay(ctx context.Context, sub domain.MapSubmission) (int64, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "AddFromRelay", trace.WithAttributes(attribute.String("map.code", sub.Code)))
	defer span.End()

	sub.Normalize()
	if err := domain.ValidateMapCode(sub.Code); err != nil {
		return 0, err
	}
	threadID, _, err := e.Messenger.StartForumThread(ctx, e.Settings.PlaytestForumID, sub.ThreadName(), Message{
		Content: sub.String(),
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("create playtest forum thread: %w", err)
	}
	e.mirror(ctx, &domain.Playtest{ThreadID: threadID, MapCode: sub.Code, Difficulty: sub.Difficulty})
	e.publish(ctx, events.TagPlaytestCreated, events.PlaytestCreated{
		ThreadID:   threadID,
		MapCode:    sub.Code,
		Difficulty: sub.Difficulty,
	})
	return threadID, nil
}

// cacheNewMap mirrors a committed insert into the cache. The store is
// already written, so failures are logged rather than returned.
func (e *WorkflowEngine) cacheNewMap(sub domain.MapSubmission) {
	if err := e.Cache.Maps.AddOne(cache.MapData{Code: sub.Code, UserIDs: slices.Clone(sub.Creators)}); err != nil {
		log.Error().Err(err).Str("map_code", sub.Code).Msg("cache out of sync with store")
	}
	for _, id := range sub.Creators {
		if err := e.Cache.Users.SetIsCreator(id, true); err != nil && !errors.Is(err, cache.ErrDoesNotExist) {
			log.Error().Err(err).Int64("user_id", id).Msg("cache out of sync with store")
		}
	}
}

func (e *WorkflowEngine) grantMapMaker(ctx context.Context, userIDs []int64) {
	if e.Settings.MapMakerRoleID == "" {
		return
	}
	for _, id := range userIDs {
		if err := e.Messenger.AddRole(ctx, id, e.Settings.MapMakerRoleID); err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("grant map maker role failed")
		}
	}
}

func (e *WorkflowEngine) mirror(ctx context.Context, p *domain.Playtest) {
	if e.Mirror == nil {
		return
	}
	mid, _ := domain.DifficultyMidpoint(p.Difficulty)
	err := e.Mirror.PostPlaytest(ctx, companion.PlaytestMeta{
		ThreadID:          p.ThreadID,
		MapID:             p.MapCode,
		InitialDifficulty: mid,
	})
	if err != nil {
		log.Warn().Err(err).Int64("thread_id", p.ThreadID).Str("map_code", p.MapCode).Msg("companion mirror failed")
	}
}

func (e *WorkflowEngine) publish(ctx context.Context, tag string, payload any) {
	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, events.Event{Tag: tag, Payload: payload, At: e.now()}); err != nil {
		log.Warn().Err(err).Str("tag", tag).Msg("event delivery failed")
	}
}

func newDraftID() (string, error) {
	return gonanoid.New()
}

func statusLine(votes, required int) string {
	return fmt.Sprintf("Total Votes: %d / %d", votes, required)
}
