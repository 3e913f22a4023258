// Package services – ChangeRequestService
//
// This file implements the change-request side workflow (Open -> Resolved).
// A request for a map that already has open requests is refused unless the
// caller explicitly chooses to continue. Confirmed requests open a forum
// thread that pings the map's creators and carries creator controls
// (confirm, deny, request archive). Only moderators resolve requests, and
// an hourly sweep flags stale requests exactly once.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/repo"
)

// Custom ids of the change-request controls.
const (
	ButtonConfirmChanges = "FCRC"
	ButtonDenyChanges    = "FCRD"
	ButtonRequestArchive = "FCRA"
	ModCloseCustomID     = "CR-ModClose"
)

// ids at or below this are placeholder accounts, never guild members
const fakeUserLimit = 100000

const (
	defaultStaleAfter = 14 * 24 * time.Hour
	summaryLimit      = 5000
)

// ChangeRequestSettings holds the forum and role the workflow uses.
type ChangeRequestSettings struct {
	ForumID       int64
	ModmailRoleID string
	StaleAfter    time.Duration
}

// Decision lists the open requests a new request would duplicate.
type Decision struct {
	MapCode  string                 `json:"map_code"`
	Existing []domain.ChangeRequest `json:"existing"`
	Summary  string                 `json:"summary,omitempty"`
}

// CreateChangeRequest is the input of Create.
type CreateChangeRequest struct {
	UserID  int64  `json:"user_id"`
	MapCode string `json:"map_code"`
	Content string `json:"content"`
}

// ChangeRequestService runs the change-request workflow.
type ChangeRequestService struct {
	DB        *gorm.DB
	Cache     *cache.GenjiCache
	Messenger Messenger
	Perms     Permissions
	Settings  ChangeRequestSettings
	Now       func() time.Time
}

// NewChangeRequestService constructs a service with a 14 day stale window
// unless one is configured.
func NewChangeRequestService(db *gorm.DB, c *cache.GenjiCache, m Messenger, perms Permissions, settings ChangeRequestSettings) *ChangeRequestService {
	if settings.StaleAfter <= 0 {
		settings.StaleAfter = defaultStaleAfter
	}
	return &ChangeRequestService{DB: db, Cache: c, Messenger: m, Perms: perms, Settings: settings, Now: time.Now}
}

func (s *ChangeRequestService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Begin checks the map and returns its open requests. A non-empty
// Existing means the caller must confirm before calling Create with force.
func (s *ChangeRequestService) Begin(ctx context.Context, code string) (*Decision, error) {
	tr := otel.Tracer("services/ChangeRequestService")
	ctx, span := tr.Start(ctx, "Begin", trace.WithAttributes(attribute.String("map.code", code)))
	defer span.End()

	code, err := s.resolveMap(ctx, code)
	if err != nil {
		return nil, err
	}
	open, err := repo.ListOpenChangeRequestsByMap(ctx, s.DB, code)
	if err != nil {
		return nil, err
	}
	d := &Decision{MapCode: code, Existing: open}
	if len(open) > 0 {
		d.Summary = s.Summary(code, open)
	}
	return d, nil
}

// Create opens a change request thread and stores the request. Unless
// force is set, existing open requests make it fail with
// ErrDuplicateChangeRequest and nothing is created.
func (s *ChangeRequestService) Create(ctx context.Context, req CreateChangeRequest, force bool) (*domain.ChangeRequest, error) {
	tr := otel.Tracer("services/ChangeRequestService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("map.code", req.MapCode),
			attribute.Int64("user.id", req.UserID),
			attribute.Bool("force", force),
		),
	)
	defer span.End()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	d, err := s.Begin(ctx, req.MapCode)
	if err != nil {
		return nil, err
	}
	if len(d.Existing) > 0 && !force {
		return nil, ErrDuplicateChangeRequest
	}
	code := d.MapCode

	mentions, err := s.creatorMentions(ctx, code)
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("# %s\n\n## <@%d> is requesting changes for map **%s**\n\n%s", mentions, req.UserID, code, content)
	msg := Message{Content: body, Title: code}
	if sub, err := repo.GetMapSubmission(ctx, s.DB, code); err == nil {
		msg.Title = fmt.Sprintf("%s by %s", sub.Name, code)
		msg.Description = sub.String()
	}

	threadID, messageID, err := s.Messenger.StartForumThread(ctx, s.Settings.ForumID, fmt.Sprintf("CR-%s Discussion", code), msg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create change request thread: %w", err)
	}
	cr := &domain.ChangeRequest{
		ThreadID:        threadID,
		MapCode:         code,
		UserID:          req.UserID,
		Content:         content,
		CreatorMentions: mentions,
		CreatedAt:       s.now(),
	}
	if err := repo.InsertChangeRequest(ctx, s.DB, cr); err != nil {
		return nil, err
	}
	if err := s.Messenger.EditMessage(ctx, threadID, messageID, Message{
		Content:    body,
		Components: ChangeRequestControls(code, threadID),
	}); err != nil {
		log.Warn().Err(err).Int64("thread_id", threadID).Msg("attach change request controls failed")
	}
	return cr, nil
}

// ChangeRequestControls are the creator buttons of a request thread.
func ChangeRequestControls(code string, threadID int64) []Component {
	id := func(prefix string) string {
		return strings.Join([]string{prefix, code, strconv.FormatInt(threadID, 10)}, "-")
	}
	return []Component{
		{CustomID: id(ButtonConfirmChanges), Label: "Confirm changes have been made", Style: StyleSuccess},
		{CustomID: id(ButtonDenyChanges), Label: "Deny changes as non applicable", Style: StyleDanger},
		{CustomID: id(ButtonRequestArchive), Label: "Request Map Archive", Style: StyleDanger},
	}
}

// ModCloseControl is the moderator close button.
func ModCloseControl() Component {
	return Component{CustomID: ModCloseCustomID, Label: "Close (Sensei Only)", Style: StyleDanger}
}

// HandleButton runs a creator control. Only users mentioned on the
// request may use it; the returned text acknowledges the click.
func (s *ChangeRequestService) HandleButton(ctx context.Context, button, code string, threadID, userID int64) (string, error) {
	tr := otel.Tracer("services/ChangeRequestService")
	ctx, span := tr.Start(ctx, "HandleButton",
		trace.WithAttributes(
			attribute.String("button", button),
			attribute.Int64("thread.id", threadID),
			attribute.Int64("user.id", userID),
		),
	)
	defer span.End()

	var ack, notice string
	switch button {
	case ButtonConfirmChanges:
		ack, notice = "Confirming changes have been made.", "has confirmed changes have been made."
	case ButtonDenyChanges:
		ack, notice = "Denying changes.", "is denying changes as non applicable."
	case ButtonRequestArchive:
		ack, notice = "Requesting map archive.", "is requesting map archive."
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, button)
	}

	cr, err := repo.GetChangeRequest(ctx, s.DB, threadID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && cr.MapCode != code) {
		return "", ErrChangeRequestNotFound
	}
	if err != nil {
		return "", err
	}
	if !strings.Contains(cr.CreatorMentions, strconv.FormatInt(userID, 10)) {
		return "", ErrNotCreator
	}
	_, err = s.Messenger.SendMessage(ctx, threadID, Message{
		Content:    fmt.Sprintf("%s\n\n<@%d> %s", roleMention(s.Settings.ModmailRoleID), userID, notice),
		Components: []Component{ModCloseControl()},
	})
	if err != nil {
		return "", fmt.Errorf("post change request notice: %w", err)
	}
	return ack, nil
}

// Close resolves a request. Moderators only.
func (s *ChangeRequestService) Close(ctx context.Context, threadID int64, actor Actor) error {
	tr := otel.Tracer("services/ChangeRequestService")
	ctx, span := tr.Start(ctx, "Close",
		trace.WithAttributes(
			attribute.Int64("thread.id", threadID),
			attribute.Int64("user.id", actor.ID),
		),
	)
	defer span.End()

	if !s.Perms.IsMod(actor) {
		return ErrNotModerator
	}
	if err := repo.MarkChangeRequestResolved(ctx, s.DB, threadID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrChangeRequestNotFound
		}
		return err
	}
	if err := s.Messenger.CloseThread(ctx, threadID, "Resolved"); err != nil {
		return fmt.Errorf("close change request thread: %w", err)
	}
	return nil
}

// SweepStale flags every open request older than the stale window that
// has not been flagged yet, and posts a reminder in its thread. The flag
// is written before the reminder so a request is never flagged twice.
func (s *ChangeRequestService) SweepStale(ctx context.Context, now time.Time) (int, error) {
	tr := otel.Tracer("services/ChangeRequestService")
	ctx, span := tr.Start(ctx, "SweepStale")
	defer span.End()

	rows, err := repo.ListStaleChangeRequests(ctx, s.DB, now.Add(-s.Settings.StaleAfter))
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, cr := range rows {
		ok, err := repo.MarkChangeRequestAlerted(ctx, s.DB, cr.ThreadID)
		if err != nil {
			return flagged, err
		}
		if !ok {
			continue
		}
		flagged++
		_, err = s.Messenger.SendMessage(ctx, cr.ThreadID, Message{
			Content: fmt.Sprintf("<@%d>%s\n# This change request is now stale. "+
				"If you have made the necessary changes, please click the button above to confirm.",
				cr.UserID, roleMention(s.Settings.ModmailRoleID)),
			Components: []Component{ModCloseControl()},
		})
		if err != nil {
			log.Warn().Err(err).Int64("thread_id", cr.ThreadID).Msg("stale reminder failed")
		}
	}
	span.SetAttributes(attribute.Int("flagged", flagged))
	return flagged, nil
}

// ListPage returns a page of requests, optionally for one map and only
// open ones, with the total count.
func (s *ChangeRequestService) ListPage(ctx context.Context, code string, openOnly bool, page, pageSize int) ([]domain.ChangeRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	if code != "" {
		code = domain.NormalizeMapCode(code)
	}

	total, err := repo.CountChangeRequests(ctx, s.DB, code, openOnly)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ChangeRequest{}, 0, nil
	}
	items, err := repo.ListChangeRequests(ctx, s.DB, code, openOnly, offset, pageSize)
	return items, total, err
}

// Summary renders the open requests of a map, stopping before the text
// grows past the embed budget.
func (s *ChangeRequestService) Summary(code string, crs []domain.ChangeRequest) string {
	forum := strconv.FormatInt(s.Settings.ForumID, 10)
	var b strings.Builder
	fmt.Fprintf(&b, "Open Change Requests for %s\n", code)
	for i, cr := range crs {
		label := "Unresolved"
		if cr.Resolved {
			label = "Resolved"
		}
		fmt.Fprintf(&b, "\n%s Change Request %d\n>>> `Request` %s\n%s\n", label, i+1, cr.Content, cr.JumpURL(forum))
		if b.Len() >= summaryLimit {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *ChangeRequestService) resolveMap(ctx context.Context, code string) (string, error) {
	code = domain.NormalizeMapCode(code)
	if err := domain.ValidateMapCode(code); err != nil {
		return "", err
	}
	if s.Cache != nil {
		if _, ok := s.Cache.Maps.Find(code); ok {
			return code, nil
		}
	}
	ok, err := repo.MapExists(ctx, s.DB, code)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMapNotFound, code)
	}
	return code, nil
}

// creatorMentions resolves the creators still in the guild, falling back
// to a modmail ping when none are.
func (s *ChangeRequestService) creatorMentions(ctx context.Context, code string) (string, error) {
	ids, err := repo.ListMapCreators(ctx, s.DB, code)
	if err != nil {
		return "", err
	}
	var mentions []string
	for _, id := range ids {
		if id <= fakeUserLimit {
			continue
		}
		ok, err := s.Messenger.MemberExists(ctx, id)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("member lookup failed")
			continue
		}
		if ok {
			mentions = append(mentions, fmt.Sprintf("<@%d>", id))
		}
	}
	if len(mentions) == 0 {
		return roleMention(s.Settings.ModmailRoleID) + "\n-# The creator of this map is not in this server.", nil
	}
	return strings.Join(mentions, " "), nil
}
