package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/companion"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/events"
	"github.com/tbourn/genji-bot/internal/histogram"
	"github.com/tbourn/genji-bot/internal/repo"
)

// VotePrefix starts the custom id of a playtest voting control.
const VotePrefix = "PTV-"

// VoteCustomID is the custom id of the voting control on messageID.
func VoteCustomID(messageID int64) string {
	return VotePrefix + strconv.FormatInt(messageID, 10)
}

// ModAction is a moderator command on an open playtest.
type ModAction string

const (
	ActionForceAccept       ModAction = "force_accept"
	ActionForceDeny         ModAction = "force_deny"
	ActionApprove           ModAction = "approve"
	ActionRestart           ModAction = "restart"
	ActionRemoveCompletions ModAction = "remove_completions"
	ActionRemoveVotes       ModAction = "remove_votes"
	ActionToggleFinalize    ModAction = "toggle_finalize"
)

// CreatorAction is a creator command on their own open playtest.
type CreatorAction string

const (
	ActionRequestChange   CreatorAction = "request_change"
	ActionRequestDeletion CreatorAction = "request_deletion"
)

// VoteResult is returned after a vote is recorded.
type VoteResult struct {
	ThreadID         int64             `json:"thread_id"`
	Summary          histogram.Summary `json:"summary"`
	Required         int               `json:"required_votes"`
	ThresholdReached bool              `json:"threshold_reached"`
}

// ActionResult describes the outcome of a mod or creator action.
type ActionResult struct {
	Action        string                `json:"action"`
	State         State                 `json:"state"`
	Status        string                `json:"status"`
	Finalized     bool                  `json:"finalized,omitempty"`
	Removed       int64                 `json:"removed,omitempty"`
	DraftID       string                `json:"draft_id,omitempty"`
	Difficulty    string                `json:"difficulty,omitempty"`
	Decision      *Decision             `json:"decision,omitempty"`
	ChangeRequest *domain.ChangeRequest `json:"change_request,omitempty"`
}

// VoteSummary is the read model of a session's votes. Source is
// "companion" when the session is only known to the companion API.
type VoteSummary struct {
	Playtest    domain.Playtest   `json:"playtest"`
	Summary     histogram.Summary `json:"summary"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
	Source      string            `json:"source,omitempty"`
}

// Vote records voterID's rating on the session whose voting post is
// messageID. Re-voting overwrites. Reaching the threshold does not
// resolve the session.
func (e *WorkflowEngine) Vote(ctx context.Context, messageID, voterID int64, value float64) (*VoteResult, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "Vote",
		trace.WithAttributes(
			attribute.Int64("message.id", messageID),
			attribute.Int64("user.id", voterID),
		),
	)
	defer span.End()

	if math.IsNaN(value) || value < 0 || value > 10 {
		return nil, ErrInvalidVote
	}
	threadID, err := e.sessionThread(ctx, messageID)
	if err != nil {
		return nil, err
	}
	unlock := e.lockThread(threadID)
	defer unlock()

	p, err := e.openPlaytest(ctx, threadID)
	if err != nil {
		if errors.Is(err, ErrPlaytestNotFound) || errors.Is(err, ErrPlaytestResolved) ||
			errors.Is(err, ErrPlaytestRestarting) {
			e.unregister(messageID)
		}
		return nil, err
	}
	e.register(messageID, threadID)
	if err := repo.UpsertVote(ctx, e.DB, threadID, voterID, value, e.now()); err != nil {
		span.RecordError(err)
		return nil, err
	}
	playtestVotes.Inc()
	workflowTransitions.WithLabelValues(string(StateVotingOpen), string(StateVotingOpen)).Inc()

	s := e.refreshVoteDisplay(ctx, p, nil)
	return &VoteResult{
		ThreadID:         threadID,
		Summary:          s,
		Required:         p.RequiredVotes,
		ThresholdReached: s.Total >= p.RequiredVotes,
	}, nil
}

// Votes returns the current vote summary of a session.
func (e *WorkflowEngine) Votes(ctx context.Context, threadID int64) (*VoteSummary, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "Votes", trace.WithAttributes(attribute.Int64("thread.id", threadID)))
	defer span.End()

	p, err := repo.GetPlaytestByThread(ctx, e.DB, threadID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.remoteVotes(ctx, threadID)
	}
	if err != nil {
		return nil, err
	}
	values, err := e.voteValues(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s, err := histogram.Summarize(values)
	if err != nil {
		return nil, err
	}
	_, last, err := repo.VoteStats(ctx, e.DB, threadID)
	if err != nil {
		return nil, err
	}
	return &VoteSummary{Playtest: *p, Summary: s, LastUpdated: last}, nil
}

// remoteVotes answers Votes from the companion API for threads with no
// local row, such as playtests opened before this store existed.
func (e *WorkflowEngine) remoteVotes(ctx context.Context, threadID int64) (*VoteSummary, error) {
	if e.Mirror == nil {
		return nil, ErrPlaytestNotFound
	}
	info, err := e.Mirror.GetPlaytest(ctx, threadID)
	if err != nil {
		var se *companion.StatusError
		if !errors.As(err, &se) || se.Status != http.StatusNotFound {
			log.Warn().Err(err).Int64("thread_id", threadID).Msg("companion playtest lookup failed")
		}
		return nil, ErrPlaytestNotFound
	}
	status := domain.PlaytestOpen
	if info.Completed {
		status = domain.PlaytestResolved
	}
	s := histogram.Summary{Total: info.VoteCount, MeanBucket: -1}
	if info.VoteCount > 0 {
		s.Mean = info.Difficulty
		if b, err := histogram.Assign(info.Difficulty); err == nil {
			s.MeanBucket = b
		}
	}
	return &VoteSummary{
		Playtest: domain.Playtest{
			ThreadID:   threadID,
			MapCode:    info.MapCode,
			Status:     status,
			Difficulty: s.MeanName(),
		},
		Summary: s,
		Source:  "companion",
	}, nil
}

// Histogram renders the session's vote chart as PNG.
func (e *WorkflowEngine) Histogram(ctx context.Context, threadID int64) ([]byte, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "Histogram", trace.WithAttributes(attribute.Int64("thread.id", threadID)))
	defer span.End()

	if _, err := repo.GetPlaytestByThread(ctx, e.DB, threadID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPlaytestNotFound
		}
		return nil, err
	}
	values, err := e.voteValues(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return histogram.Render(ctx, values)
}

// ModAction applies a moderator action to an open playtest. A restarting
// playtest only accepts another restart, which re-issues the details draft.
func (e *WorkflowEngine) ModAction(ctx context.Context, threadID int64, actor Actor, action ModAction) (*ActionResult, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "ModAction",
		trace.WithAttributes(
			attribute.Int64("thread.id", threadID),
			attribute.Int64("user.id", actor.ID),
			attribute.String("action", string(action)),
		),
	)
	defer span.End()

	if !e.Perms.IsMod(actor) {
		return nil, ErrNotModerator
	}
	unlock := e.lockThread(threadID)
	defer unlock()

	p, err := e.playtest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if p.Restarting() {
		if action != ActionRestart {
			return nil, ErrPlaytestRestarting
		}
		res := &ActionResult{Action: string(action), State: StateAwaitingDetails, Status: p.Status}
		return res, e.restart(ctx, p, res)
	}
	res := &ActionResult{Action: string(action), State: StateVotingOpen, Status: p.Status}

	switch action {
	case ActionApprove:
		values, err := e.voteValues(ctx, threadID)
		if err != nil {
			return nil, err
		}
		difficulty := p.Difficulty
		if s, err := histogram.Summarize(values); err == nil && s.Total > 0 {
			difficulty = s.MeanName()
		}
		err = e.resolvePublished(ctx, p, difficulty, domain.PlaytestApproved, res)
		return res, err

	case ActionForceAccept:
		err := e.resolvePublished(ctx, p, p.Difficulty, domain.PlaytestResolved, res)
		return res, err

	case ActionForceDeny:
		return res, e.resolveDenied(ctx, p, res)

	case ActionRestart:
		return res, e.restart(ctx, p, res)

	case ActionRemoveCompletions:
		n, err := repo.DeleteCompletions(ctx, e.DB, p.MapCode)
		if err != nil {
			return nil, err
		}
		res.Removed = n
		return res, nil

	case ActionRemoveVotes:
		n, err := repo.DeleteVotes(ctx, e.DB, threadID)
		if err != nil {
			return nil, err
		}
		res.Removed = n
		e.refreshVoteDisplay(ctx, p, nil)
		return res, nil

	case ActionToggleFinalize:
		v, err := repo.ToggleFinalized(ctx, e.DB, threadID)
		if err != nil {
			return nil, err
		}
		res.Finalized = v
		return res, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// CreatorAction applies a creator action to the creator's own open
// playtest. RequestChange hands off to the change-request workflow:
// with content and no open requests a request is created, otherwise the
// decision is returned for the caller to act on.
func (e *WorkflowEngine) CreatorAction(ctx context.Context, threadID int64, actor Actor, action CreatorAction, content string) (*ActionResult, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "CreatorAction",
		trace.WithAttributes(
			attribute.Int64("thread.id", threadID),
			attribute.Int64("user.id", actor.ID),
			attribute.String("action", string(action)),
		),
	)
	defer span.End()

	p, err := e.openPlaytest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	ok, err := e.isCreator(ctx, p.MapCode, actor.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCreator
	}
	res := &ActionResult{Action: string(action), State: StateVotingOpen, Status: p.Status}

	switch action {
	case ActionRequestChange:
		if e.ChangeRequests == nil {
			return nil, fmt.Errorf("%w: change requests are not configured", ErrUnknownAction)
		}
		dec, err := e.ChangeRequests.Begin(ctx, p.MapCode)
		if err != nil {
			return nil, err
		}
		res.Decision = dec
		if len(dec.Existing) > 0 || content == "" {
			return res, nil
		}
		cr, err := e.ChangeRequests.Create(ctx, CreateChangeRequest{
			UserID:  actor.ID,
			MapCode: p.MapCode,
			Content: content,
		}, false)
		if err != nil {
			return nil, err
		}
		res.ChangeRequest = cr
		return res, nil

	case ActionRequestDeletion:
		_, err := e.Messenger.SendMessage(ctx, threadID, Message{
			Content: fmt.Sprintf("%s\n\n<@%d> has requested deletion of this map.",
				roleMention(e.Settings.ModmailRoleID), actor.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("post deletion request: %w", err)
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// RestoreSessions re-registers the voting handlers of every open
// playtest, so votes keep working after a process restart. Restarting
// playtests stay closed; their details drafts did not survive, so a
// moderator has to restart them again.
func (e *WorkflowEngine) RestoreSessions(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/WorkflowEngine")
	ctx, span := tr.Start(ctx, "RestoreSessions")
	defer span.End()

	rows, err := repo.ListUnresolvedPlaytests(ctx, e.DB)
	if err != nil {
		return 0, err
	}
	for _, p := range rows {
		e.register(p.MessageID, p.ThreadID)
	}
	stuck, err := repo.ListPlaytestsByStatus(ctx, e.DB, domain.PlaytestRestarting)
	if err != nil {
		return len(rows), err
	}
	for _, p := range stuck {
		log.Warn().Int64("thread_id", p.ThreadID).Str("map_code", p.MapCode).
			Msg("playtest is waiting on restarted details; restart it again to re-issue the draft")
	}
	span.SetAttributes(attribute.Int("sessions", len(rows)), attribute.Int("restarting", len(stuck)))
	return len(rows), nil
}

// Sessions returns the number of live voting sessions.
func (e *WorkflowEngine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *WorkflowEngine) resolvePublished(ctx context.Context, p *domain.Playtest, difficulty, status string, res *ActionResult) error {
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.PublishMap(ctx, tx, p.MapCode, difficulty); err != nil {
			return err
		}
		return repo.SetPlaytestStatus(ctx, tx, p.ThreadID, status)
	})
	if err != nil {
		return err
	}
	if res.State, err = transition(res.State, StateResolved); err != nil {
		return err
	}
	res.Status = status
	res.Difficulty = difficulty
	e.unregister(p.MessageID)
	e.closeThread(ctx, p.ThreadID, "Approved")

	creators, err := repo.ListMapCreators(ctx, e.DB, p.MapCode)
	if err != nil {
		log.Warn().Err(err).Str("map_code", p.MapCode).Msg("list creators failed")
	}
	name := p.MapCode
	if m, err := repo.GetMap(ctx, e.DB, p.MapCode); err == nil {
		name = m.Name
	}
	e.publish(ctx, events.TagPlaytestResolved, events.PlaytestResolved{
		ThreadID: p.ThreadID, MapCode: p.MapCode, Status: status,
	})
	e.publish(ctx, events.TagMapPublished, events.MapPublished{
		Code: p.MapCode, Name: name, Creators: creators, Difficulty: difficulty, Official: true,
	})
	e.publish(ctx, events.TagNewsfeed, events.Newsfeed{
		Type:    "map_approved",
		Title:   fmt.Sprintf("Playtest complete: %s", p.MapCode),
		Content: fmt.Sprintf("%s (%s) has been approved as %s.", name, p.MapCode, difficulty),
	})
	return nil
}

func (e *WorkflowEngine) resolveDenied(ctx context.Context, p *domain.Playtest, res *ActionResult) error {
	creators, err := repo.ListMapCreators(ctx, e.DB, p.MapCode)
	if err != nil {
		return err
	}
	if err := repo.DeleteMap(ctx, e.DB, p.MapCode); err != nil {
		return err
	}
	if res.State, err = transition(res.State, StateResolved); err != nil {
		return err
	}
	res.Status = domain.PlaytestDenied
	e.unregister(p.MessageID)

	if err := e.Cache.Maps.RemoveOne(p.MapCode); err != nil && !errors.Is(err, cache.ErrDoesNotExist) {
		log.Error().Err(err).Str("map_code", p.MapCode).Msg("cache out of sync with store")
	}
	for _, id := range creators {
		still, err := repo.IsCreator(ctx, e.DB, id)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("creator lookup failed")
			continue
		}
		if err := e.Cache.Users.SetIsCreator(id, still); err != nil && !errors.Is(err, cache.ErrDoesNotExist) {
			log.Error().Err(err).Int64("user_id", id).Msg("cache out of sync with store")
		}
	}
	e.closeThread(ctx, p.ThreadID, "Denied")
	e.publish(ctx, events.TagPlaytestResolved, events.PlaytestResolved{
		ThreadID: p.ThreadID, MapCode: p.MapCode, Status: domain.PlaytestDenied,
	})
	return nil
}

// restart clears votes and completions, marks the playtest restarting and
// opens a details draft for the author bound to the existing thread.
// Voting stays closed until the draft is confirmed or expires. Any earlier
// restart draft for the thread is dropped.
func (e *WorkflowEngine) restart(ctx context.Context, p *domain.Playtest, res *ActionResult) error {
	sub, err := repo.GetMapSubmission(ctx, e.DB, p.MapCode)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrMapNotFound
	}
	if err != nil {
		return err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !p.Restarting() {
			if err := repo.SwapPlaytestStatus(ctx, tx, p.ThreadID, domain.PlaytestOpen, domain.PlaytestRestarting); err != nil {
				return err
			}
		}
		if _, err := repo.DeleteVotes(ctx, tx, p.ThreadID); err != nil {
			return err
		}
		_, err := repo.DeleteCompletions(ctx, tx, p.MapCode)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPlaytestResolved
	}
	if err != nil {
		return err
	}
	p.Status = domain.PlaytestRestarting
	res.Status = p.Status
	state, err := transition(res.State, StateAwaitingDetails)
	if err != nil {
		return err
	}
	e.unregister(p.MessageID)
	e.refreshVoteDisplay(ctx, p, nil)

	id, err := newDraftID()
	if err != nil {
		return err
	}
	d := &Draft{
		ID:         id,
		UserID:     p.UserID,
		State:      state,
		Submission: *sub,
		ThreadID:   p.ThreadID,
	}
	e.mu.Lock()
	for id, old := range e.drafts {
		if old.ThreadID == p.ThreadID {
			delete(e.drafts, id)
		}
	}
	d.ExpiresAt = e.now().Add(e.Settings.DraftTimeout)
	e.drafts[d.ID] = d
	e.mu.Unlock()

	res.State = state
	res.DraftID = d.ID
	return nil
}

// refreshVoteDisplay recomputes the summary, rewrites the status line and
// re-renders the histogram on the voting post. Display failures are
// logged; the vote itself is already stored.
func (e *WorkflowEngine) refreshVoteDisplay(ctx context.Context, p *domain.Playtest, values []float64) histogram.Summary {
	if values == nil {
		var err error
		if values, err = e.voteValues(ctx, p.ThreadID); err != nil {
			log.Warn().Err(err).Int64("thread_id", p.ThreadID).Msg("load votes failed")
		}
	}
	s, err := histogram.Summarize(values)
	if err != nil {
		log.Warn().Err(err).Int64("thread_id", p.ThreadID).Msg("summarize votes failed")
	}
	if e.Messenger == nil {
		return s
	}

	if err := e.Messenger.EditMessage(ctx, e.Settings.PlaytestChannelID, p.PlaytestMessageID, Message{
		Content: statusLine(s.Total, p.RequiredVotes),
	}); err != nil {
		log.Warn().Err(err).Int64("thread_id", p.ThreadID).Msg("update status line failed")
	}

	png, err := histogram.Render(ctx, values)
	if err != nil {
		log.Warn().Err(err).Int64("thread_id", p.ThreadID).Msg("render histogram failed")
		return s
	}
	if err := e.Messenger.EditMessage(ctx, p.ThreadID, p.MessageID, Message{
		Description: histogram.Title(s),
		File:        &File{Name: "vote_hist.png", Data: png},
		Components: []Component{{
			CustomID: VoteCustomID(p.MessageID),
			Label:    "Rate the difficulty",
			Style:    StyleSelect,
			Options:  domain.DifficultyNames(),
		}},
	}); err != nil {
		log.Warn().Err(err).Int64("thread_id", p.ThreadID).Msg("update histogram failed")
	}
	return s
}

func (e *WorkflowEngine) voteValues(ctx context.Context, threadID int64) ([]float64, error) {
	votes, err := repo.ListVotes(ctx, e.DB, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(votes))
	for i, v := range votes {
		out[i] = v.Value
	}
	return out, nil
}

// openPlaytest loads a session that still accepts votes and actions.
func (e *WorkflowEngine) openPlaytest(ctx context.Context, threadID int64) (*domain.Playtest, error) {
	p, err := e.playtest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if p.Restarting() {
		return nil, ErrPlaytestRestarting
	}
	return p, nil
}

// playtest loads a session that is open or restarting.
func (e *WorkflowEngine) playtest(ctx context.Context, threadID int64) (*domain.Playtest, error) {
	p, err := repo.GetPlaytestByThread(ctx, e.DB, threadID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPlaytestNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Resolved() {
		return nil, ErrPlaytestResolved
	}
	return p, nil
}

func (e *WorkflowEngine) isCreator(ctx context.Context, code string, userID int64) (bool, error) {
	if e.Cache.Maps.IsCreator(code, userID) {
		return true, nil
	}
	ids, err := repo.ListMapCreators(ctx, e.DB, code)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, userID), nil
}

func (e *WorkflowEngine) closeThread(ctx context.Context, threadID int64, tag string) {
	if err := e.Messenger.CloseThread(ctx, threadID, tag); err != nil {
		log.Warn().Err(err).Int64("thread_id", threadID).Msg("close thread failed")
	}
}

func (e *WorkflowEngine) register(messageID, threadID int64) {
	e.mu.Lock()
	e.sessions[messageID] = threadID
	e.mu.Unlock()
}

func (e *WorkflowEngine) unregister(messageID int64) {
	e.mu.Lock()
	delete(e.sessions, messageID)
	e.mu.Unlock()
}

func (e *WorkflowEngine) session(messageID int64) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.sessions[messageID]
	return id, ok
}

// sessionThread maps a voting post to its thread, falling back to the
// store for posts not registered in this process.
func (e *WorkflowEngine) sessionThread(ctx context.Context, messageID int64) (int64, error) {
	if id, ok := e.session(messageID); ok {
		return id, nil
	}
	p, err := repo.GetPlaytestByMessage(ctx, e.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrPlaytestNotFound
	}
	if err != nil {
		return 0, err
	}
	return p.ThreadID, nil
}

// lockThread serializes work on one session; sessions never contend.
func (e *WorkflowEngine) lockThread(threadID int64) func() {
	v, _ := e.voteLocks.LoadOrStore(threadID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func roleMention(roleID string) string {
	if roleID == "" {
		return ""
	}
	return "<@&" + roleID + ">"
}
