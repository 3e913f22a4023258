package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/http/middleware"
	"github.com/tbourn/genji-bot/internal/interaction"
	"github.com/tbourn/genji-bot/internal/services"
)

// Workflow is the submission and playtest side of the workflow engine.
type Workflow interface {
	Begin(ctx context.Context, actor services.Actor, sub domain.MapSubmission, mod bool) (*services.Draft, error)
	SetDetails(ctx context.Context, draftID string, userID int64, det services.Details) (*services.Draft, error)
	Confirm(ctx context.Context, draftID string, userID int64) (*services.ConfirmResult, error)
	Cancel(ctx context.Context, draftID string, userID int64) error

	Vote(ctx context.Context, messageID, voterID int64, value float64) (*services.VoteResult, error)
	Votes(ctx context.Context, threadID int64) (*services.VoteSummary, error)
	Histogram(ctx context.Context, threadID int64) ([]byte, error)
	ModAction(ctx context.Context, threadID int64, actor services.Actor, action services.ModAction) (*services.ActionResult, error)
	CreatorAction(ctx context.Context, threadID int64, actor services.Actor, action services.CreatorAction, content string) (*services.ActionResult, error)
}

// ChangeRequests is the change-request workflow.
type ChangeRequests interface {
	Begin(ctx context.Context, code string) (*services.Decision, error)
	Create(ctx context.Context, req services.CreateChangeRequest, force bool) (*domain.ChangeRequest, error)
	HandleButton(ctx context.Context, button, code string, threadID, userID int64) (string, error)
	Close(ctx context.Context, threadID int64, actor services.Actor) error
	ListPage(ctx context.Context, code string, openOnly bool, page, pageSize int) ([]domain.ChangeRequest, int64, error)
}

// Creators edits map credits.
type Creators interface {
	AddCreator(ctx context.Context, actor services.Actor, code string, userID int64) (*cache.MapData, error)
	RemoveCreator(ctx context.Context, actor services.Actor, code string, userID int64) (*cache.MapData, error)
}

// Members records guild joins and per-member settings.
type Members interface {
	OnJoin(ctx context.Context, userID int64, nickname string) (*services.JoinResult, error)
	ToggleFlag(ctx context.Context, userID int64, flag domain.UserFlags) (domain.UserFlags, error)
}

// Choices serves autocomplete.
type Choices interface {
	Choices(name, query string) ([]cache.Choice, bool)
}

// Tracker buffers command usage.
type Tracker interface {
	Track(event string, userID int64, at time.Time, args map[string]any) bool
}

// Deps are the collaborators of Handlers. DB backs idempotent confirms and
// the change-request ETag; Tracker may be nil.
type Deps struct {
	DB             *gorm.DB
	Workflow       Workflow
	ChangeRequests ChangeRequests
	Creators       Creators
	Members        Members
	Choices        Choices
	Controls       *interaction.Registry
	Tracker        Tracker
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints of the interaction API.
type Handlers struct {
	db       *gorm.DB
	flow     Workflow
	crs      ChangeRequests
	creators Creators
	members  Members
	choices  Choices
	controls *interaction.Registry
	tracker  Tracker
	idemTTL  time.Duration
}

// New returns handlers bound to d.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	controls := d.Controls
	if controls == nil {
		controls = interaction.NewRegistry()
	}
	return &Handlers{
		db:       d.DB,
		flow:     d.Workflow,
		crs:      d.ChangeRequests,
		creators: d.Creators,
		members:  d.Members,
		choices:  d.Choices,
		controls: controls,
		tracker:  d.Tracker,
		idemTTL:  ttl,
	}
}

// actor returns the invoking member, failing with 401 when the bridge did
// not identify one.
func actor(c *gin.Context) (services.Actor, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+middleware.HeaderUserID)
		return services.Actor{}, false
	}
	return services.Actor{ID: uid, Roles: middleware.Roles(c)}, true
}

func (h *Handlers) track(event string, userID int64, args map[string]any) {
	if h.tracker != nil {
		h.tracker.Track(event, userID, time.Now(), args)
	}
}
