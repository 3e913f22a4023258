package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/http/middleware"
	"github.com/tbourn/genji-bot/internal/repo"
	"github.com/tbourn/genji-bot/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:handlers_%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	return db
}

// stubWorkflow answers from optional funcs and records the last call.
type stubWorkflow struct {
	begin      func(services.Actor, domain.MapSubmission, bool) (*services.Draft, error)
	confirm    func(string, int64) (*services.ConfirmResult, error)
	vote       func(int64, int64, float64) (*services.VoteResult, error)
	votes      func(int64) (*services.VoteSummary, error)
	modAction  func(int64, services.Actor, services.ModAction) (*services.ActionResult, error)
	confirmed  int
	lastDetail services.Details
	cancelled  string
}

func (s *stubWorkflow) Begin(_ context.Context, a services.Actor, sub domain.MapSubmission, mod bool) (*services.Draft, error) {
	return s.begin(a, sub, mod)
}

func (s *stubWorkflow) SetDetails(_ context.Context, draftID string, userID int64, det services.Details) (*services.Draft, error) {
	s.lastDetail = det
	return &services.Draft{ID: draftID, UserID: userID, State: services.StateAwaitingConfirmation}, nil
}

func (s *stubWorkflow) Confirm(_ context.Context, draftID string, userID int64) (*services.ConfirmResult, error) {
	s.confirmed++
	return s.confirm(draftID, userID)
}

func (s *stubWorkflow) Cancel(_ context.Context, draftID string, userID int64) error {
	if userID != 500002 {
		return services.ErrNotDraftOwner
	}
	s.cancelled = draftID
	return nil
}

func (s *stubWorkflow) Vote(_ context.Context, messageID, voterID int64, value float64) (*services.VoteResult, error) {
	return s.vote(messageID, voterID, value)
}

func (s *stubWorkflow) Votes(_ context.Context, threadID int64) (*services.VoteSummary, error) {
	return s.votes(threadID)
}

func (s *stubWorkflow) Histogram(_ context.Context, threadID int64) ([]byte, error) {
	if threadID != 1 {
		return nil, services.ErrPlaytestNotFound
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (s *stubWorkflow) ModAction(_ context.Context, threadID int64, a services.Actor, action services.ModAction) (*services.ActionResult, error) {
	return s.modAction(threadID, a, action)
}

func (s *stubWorkflow) CreatorAction(_ context.Context, _ int64, _ services.Actor, action services.CreatorAction, _ string) (*services.ActionResult, error) {
	return &services.ActionResult{Action: string(action)}, nil
}

type stubChangeRequests struct {
	items    []domain.ChangeRequest
	closed   []int64
	buttons  []string
	lastList struct {
		code     string
		openOnly bool
		page     int
		size     int
	}
}

func (s *stubChangeRequests) Begin(_ context.Context, code string) (*services.Decision, error) {
	if code == "NONE" {
		return nil, services.ErrMapNotFound
	}
	return &services.Decision{MapCode: code, Existing: s.items}, nil
}

func (s *stubChangeRequests) Create(_ context.Context, req services.CreateChangeRequest, force bool) (*domain.ChangeRequest, error) {
	if len(s.items) > 0 && !force {
		return nil, services.ErrDuplicateChangeRequest
	}
	return &domain.ChangeRequest{ThreadID: 77, MapCode: req.MapCode, UserID: req.UserID, Content: req.Content}, nil
}

func (s *stubChangeRequests) HandleButton(_ context.Context, button, code string, threadID, _ int64) (string, error) {
	s.buttons = append(s.buttons, fmt.Sprintf("%s/%s/%d", button, code, threadID))
	return "Confirming changes have been made.", nil
}

func (s *stubChangeRequests) Close(_ context.Context, threadID int64, a services.Actor) error {
	if len(a.Roles) == 0 {
		return services.ErrNotModerator
	}
	s.closed = append(s.closed, threadID)
	return nil
}

func (s *stubChangeRequests) ListPage(_ context.Context, code string, openOnly bool, page, size int) ([]domain.ChangeRequest, int64, error) {
	s.lastList.code, s.lastList.openOnly, s.lastList.page, s.lastList.size = code, openOnly, page, size
	return s.items, int64(len(s.items)), nil
}

type stubCreators struct{}

func (stubCreators) AddCreator(_ context.Context, _ services.Actor, code string, userID int64) (*cache.MapData, error) {
	if userID == 1 {
		return nil, cache.ErrCreatorAlreadyExists
	}
	return &cache.MapData{Code: code, UserIDs: []int64{1, userID}}, nil
}

func (stubCreators) RemoveCreator(_ context.Context, _ services.Actor, code string, _ int64) (*cache.MapData, error) {
	return nil, fmt.Errorf("%w: map %s needs at least one creator", cache.ErrInvalidEntry, code)
}

type stubMembers struct {
	joined map[int64]string
	flags  map[int64]domain.UserFlags
}

func (s *stubMembers) OnJoin(_ context.Context, userID int64, nickname string) (*services.JoinResult, error) {
	s.joined[userID] = nickname
	return &services.JoinResult{Created: true}, nil
}

func (s *stubMembers) ToggleFlag(_ context.Context, userID int64, flag domain.UserFlags) (domain.UserFlags, error) {
	if _, known := s.joined[userID]; !known {
		return 0, services.ErrMemberNotFound
	}
	s.flags[userID] = s.flags[userID].Toggle(flag)
	return s.flags[userID], nil
}

type stubChoices map[string][]cache.Choice

func (s stubChoices) Choices(name, _ string) ([]cache.Choice, bool) {
	c, found := s[name]
	return c, found
}

type recordingTracker struct{ events []string }

func (r *recordingTracker) Track(event string, _ int64, _ time.Time, _ map[string]any) bool {
	r.events = append(r.events, event)
	return true
}

type harness struct {
	r       *gin.Engine
	flow    *stubWorkflow
	crs     *stubChangeRequests
	members *stubMembers
	tracker *recordingTracker
	db      *gorm.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hs := &harness{
		flow:    &stubWorkflow{},
		crs:     &stubChangeRequests{},
		members: &stubMembers{joined: map[int64]string{}, flags: map[int64]domain.UserFlags{}},
		tracker: &recordingTracker{},
		db:      newTestDB(t),
	}
	h := New(Deps{
		DB:             hs.db,
		Workflow:       hs.flow,
		ChangeRequests: hs.crs,
		Creators:       stubCreators{},
		Members:        hs.members,
		Choices:        stubChoices{"maps": {{Name: "ABC01 - Hanamura", Value: "ABC01"}}},
		Tracker:        hs.tracker,
	})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity(),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
			func(ctx context.Context, userID int64, draftID, key string, now time.Time) (bool, error) {
				_, err := repo.GetIdempotency(ctx, hs.db, userID, draftID, key, now)
				return err == nil, nil
			}))
	mount(r, h)
	hs.r = r
	return hs
}

// mount registers every endpoint on r with its production path.
func mount(r *gin.Engine, h *Handlers) {
	r.POST("/submissions", h.BeginSubmission)
	r.PUT("/submissions/:id/details", h.SetDetails)
	r.POST("/submissions/:id/confirm", h.ConfirmSubmission)
	r.DELETE("/submissions/:id", h.CancelSubmission)
	r.POST("/votes/:message_id", h.Vote)
	r.GET("/playtests/:thread_id/votes", h.Votes)
	r.GET("/playtests/:thread_id/histogram", h.Histogram)
	r.POST("/playtests/:thread_id/mod-actions", h.ModAction)
	r.POST("/playtests/:thread_id/creator-actions", h.CreatorAction)
	r.POST("/change-requests/check", h.CheckChangeRequest)
	r.POST("/change-requests", h.CreateChangeRequest)
	r.POST("/change-requests/:thread_id/close", h.CloseChangeRequest)
	r.GET("/change-requests", h.ListChangeRequests)
	r.POST("/interactions/:custom_id", h.Interaction)
	r.POST("/maps/:code/creators", h.AddCreator)
	r.DELETE("/maps/:code/creators/:user_id", h.RemoveCreator)
	r.GET("/autocomplete/:collection", h.Autocomplete)
	r.POST("/members", h.MemberJoined)
	r.POST("/members/flags/:flag", h.ToggleMemberFlag)
}

func newBareEngine(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Identity())
	mount(r, h)
	return r
}

type call struct {
	method, path string
	body         any
	user         string
	roles        string
	hdr          map[string]string
}

func (hs *harness) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if s, isString := c.body.(string); isString {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(middleware.HeaderUserID, c.user)
	}
	if c.roles != "" {
		req.Header.Set(middleware.HeaderUserRoles, c.roles)
	}
	for k, v := range c.hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	hs.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, w).Code
}
