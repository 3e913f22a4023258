package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/http/middleware"
	"github.com/tbourn/genji-bot/internal/repo"
	"github.com/tbourn/genji-bot/internal/services"
	"github.com/tbourn/genji-bot/internal/sysutil"
)

// BeginSubmissionRequest is the submit command's payload. Medal times use
// the HH:MM:SS.ss record format.
type BeginSubmissionRequest struct {
	Code        string  `json:"code" binding:"required" example:"ABC01"`
	Name        string  `json:"name" binding:"required" example:"Hanamura"`
	Checkpoints int     `json:"checkpoints" example:"12"`
	Creators    []int64 `json:"creators,omitempty"`
	Description string  `json:"description,omitempty"`
	GuideURL    string  `json:"guide_url,omitempty"`
	Gold        string  `json:"gold,omitempty" example:"1:02.50"`
	Silver      string  `json:"silver,omitempty"`
	Bronze      string  `json:"bronze,omitempty"`
	Mod         bool    `json:"mod,omitempty"`
}

func (r BeginSubmissionRequest) submission() (domain.MapSubmission, error) {
	sub := domain.MapSubmission{
		Code:        r.Code,
		Name:        r.Name,
		Checkpoints: r.Checkpoints,
		Creators:    r.Creators,
		Description: r.Description,
	}
	if u := strings.TrimSpace(r.GuideURL); u != "" {
		sub.GuideURLs = []string{u}
	}
	for _, m := range []struct {
		raw string
		dst *float64
	}{{r.Gold, &sub.Gold}, {r.Silver, &sub.Silver}, {r.Bronze, &sub.Bronze}} {
		if strings.TrimSpace(m.raw) == "" {
			continue
		}
		v, err := domain.ParseRecord(m.raw)
		if err != nil {
			return sub, err
		}
		*m.dst = v
	}
	return sub, nil
}

// BeginSubmission godoc
// @ID          beginSubmission
// @Summary     Start a map submission
// @Description Validates the map and the caller's quota and opens a draft awaiting details. `mod=true` (query or body) publishes without a playtest and requires a moderator role.
// @Tags        Submissions
// @Accept      json
// @Produce     json
// @Param       X-User-ID     header  string  true  "Invoking member"
// @Param       X-User-Roles  header  string  false "Role ids, comma separated"
// @Param       mod           query   bool    false "Moderator submission"
// @Param       body          body    handlers.BeginSubmissionRequest  true  "Map"
// @Success     201  {object}  services.Draft
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     429  {object}  handlers.ErrorResponse
// @Router      /submissions [post]
func (h *Handlers) BeginSubmission(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	var req BeginSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	sub, err := req.submission()
	if err != nil {
		failErr(c, err)
		return
	}
	mod := req.Mod || sysutil.IsTruthy(c.Query("mod"))

	d, err := h.flow.Begin(c.Request.Context(), a, sub, mod)
	if err != nil {
		failErr(c, err)
		return
	}
	h.track("submit_map", a.ID, map[string]any{"map_code": d.Submission.Code, "mod": mod})
	ok(c, http.StatusCreated, d)
}

// SetDetails godoc
// @ID          setSubmissionDetails
// @Summary     Fill in map details
// @Description Updates any of map types, mechanics, restrictions and difficulty on the caller's draft.
// @Tags        Submissions
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Draft id"
// @Param       body  body  services.Details  true  "Details"
// @Success     200  {object}  services.Draft
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /submissions/{id}/details [put]
func (h *Handlers) SetDetails(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	var det services.Details
	if err := c.ShouldBindJSON(&det); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	d, err := h.flow.SetDetails(c.Request.Context(), c.Param("id"), a.ID, det)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ConfirmSubmission godoc
// @ID          confirmSubmission
// @Summary     Confirm a draft
// @Description Publishes the map or opens its playtest. With an Idempotency-Key a retried confirm returns the first outcome instead of failing on the consumed draft.
// @Tags        Submissions
// @Produce     json
// @Param       id               path    string  true   "Draft id"
// @Param       Idempotency-Key  header  string  false  "Retry key"
// @Success     201  {object}  services.ConfirmResult
// @Success     200  {object}  services.ConfirmResult  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /submissions/{id}/confirm [post]
func (h *Handlers) ConfirmSubmission(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	draftID := c.Param("id")
	key, hasKey := middleware.GetIdempotencyKey(c)

	if hasKey && middleware.IsReplay(c) && h.db != nil {
		rec, err := repo.GetIdempotency(ctx, h.db, a.ID, draftID, key, time.Now().UTC())
		if err == nil {
			c.Header("Idempotent-Replayed", "true")
			ok(c, http.StatusOK, services.ConfirmResult{State: services.State(rec.State), MapCode: rec.MapCode})
			return
		}
	}

	res, err := h.flow.Confirm(ctx, draftID, a.ID)
	if err != nil {
		failErr(c, err)
		return
	}
	if hasKey && h.db != nil {
		_, err := repo.CreateIdempotency(ctx, h.db, a.ID, draftID, key, res.MapCode, string(res.State), h.idemTTL)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("draft_id", draftID).Msg("store idempotency record failed")
		}
	}
	h.track("confirm_submission", a.ID, map[string]any{"map_code": res.MapCode, "state": string(res.State)})
	ok(c, http.StatusCreated, res)
}

// CancelSubmission godoc
// @ID          cancelSubmission
// @Summary     Discard a draft
// @Tags        Submissions
// @Param       id  path  string  true  "Draft id"
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /submissions/{id} [delete]
func (h *Handlers) CancelSubmission(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	if err := h.flow.Cancel(c.Request.Context(), c.Param("id"), a.ID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
