package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/services"
	"github.com/tbourn/genji-bot/internal/utils"
)

// VoteRequest carries either a raw value in [0, 10] or a difficulty name,
// which votes the bucket's midpoint.
type VoteRequest struct {
	Value      *float64 `json:"value,omitempty" example:"6.2"`
	Difficulty string   `json:"difficulty,omitempty" example:"Hard"`
}

// ModActionRequest names a moderator action.
type ModActionRequest struct {
	Action string `json:"action" binding:"required" example:"approve"`
}

// CreatorActionRequest names a creator action; Content is the change
// request text for request_change.
type CreatorActionRequest struct {
	Action  string `json:"action" binding:"required" example:"request_change"`
	Content string `json:"content,omitempty"`
}

// voteValue resolves a select option or free value to a vote.
func voteValue(difficulty string, value *float64) (float64, error) {
	if d := strings.TrimSpace(difficulty); d != "" {
		v, found := domain.DifficultyMidpoint(d)
		if !found {
			return 0, fmt.Errorf("%w: %q", domain.ErrUnknownDifficulty, d)
		}
		return v, nil
	}
	if value == nil {
		return 0, services.ErrInvalidVote
	}
	return *value, nil
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := utils.ParseID(c.Param(name))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+": "+err.Error())
		return 0, false
	}
	return id, true
}

// Vote godoc
// @ID          votePlaytest
// @Summary     Vote on a playtest
// @Description Records or overwrites the caller's difficulty vote on the session whose voting message is message_id.
// @Tags        Playtests
// @Accept      json
// @Produce     json
// @Param       message_id  path  int  true  "Voting message id"
// @Param       body        body  handlers.VoteRequest  true  "Vote"
// @Success     200  {object}  services.VoteResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /votes/{message_id} [post]
func (h *Handlers) Vote(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	messageID, valid := pathID(c, "message_id")
	if !valid {
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	v, err := voteValue(req.Difficulty, req.Value)
	if err != nil {
		failErr(c, err)
		return
	}
	res, err := h.flow.Vote(c.Request.Context(), messageID, a.ID, v)
	if err != nil {
		failErr(c, err)
		return
	}
	h.track("playtest_vote", a.ID, map[string]any{"thread_id": res.ThreadID, "value": v})
	ok(c, http.StatusOK, res)
}

// Votes godoc
// @ID          playtestVotes
// @Summary     Vote summary of a playtest
// @Description Returns the playtest row and its vote summary. Supports a weak ETag via If-None-Match.
// @Tags        Playtests
// @Produce     json
// @Param       thread_id      path    int     true   "Playtest thread id"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  services.VoteSummary
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /playtests/{thread_id}/votes [get]
func (h *Handlers) Votes(c *gin.Context) {
	threadID, valid := pathID(c, "thread_id")
	if !valid {
		return
	}
	s, err := h.flow.Votes(c.Request.Context(), threadID)
	if err != nil {
		failErr(c, err)
		return
	}
	var ts int64
	if s.LastUpdated != nil {
		ts = s.LastUpdated.UnixNano()
	}
	etag := fmt.Sprintf(`W/"votes:%d:%d:%s:%d"`, threadID, s.Summary.Total, s.Playtest.Status, ts)
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, s)
}

// Histogram godoc
// @ID          playtestHistogram
// @Summary     Vote histogram
// @Tags        Playtests
// @Produce     png
// @Param       thread_id  path  int  true  "Playtest thread id"
// @Success     200  {file}  binary
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /playtests/{thread_id}/histogram [get]
func (h *Handlers) Histogram(c *gin.Context) {
	threadID, valid := pathID(c, "thread_id")
	if !valid {
		return
	}
	png, err := h.flow.Histogram(c.Request.Context(), threadID)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/png", png)
}

// ModAction godoc
// @ID          playtestModAction
// @Summary     Moderator action on a playtest
// @Description One of force_accept, force_deny, approve, restart, remove_completions, remove_votes, toggle_finalize.
// @Tags        Playtests
// @Accept      json
// @Produce     json
// @Param       thread_id  path  int  true  "Playtest thread id"
// @Param       body       body  handlers.ModActionRequest  true  "Action"
// @Success     200  {object}  services.ActionResult
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /playtests/{thread_id}/mod-actions [post]
func (h *Handlers) ModAction(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	threadID, valid := pathID(c, "thread_id")
	if !valid {
		return
	}
	var req ModActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.flow.ModAction(c.Request.Context(), threadID, a, services.ModAction(req.Action))
	if err != nil {
		failErr(c, err)
		return
	}
	h.track("playtest_mod_action", a.ID, map[string]any{"thread_id": strconv.FormatInt(threadID, 10), "action": req.Action})
	ok(c, http.StatusOK, res)
}

// CreatorAction godoc
// @ID          playtestCreatorAction
// @Summary     Creator action on a playtest
// @Description request_change opens a change request; request_deletion alerts moderators.
// @Tags        Playtests
// @Accept      json
// @Produce     json
// @Param       thread_id  path  int  true  "Playtest thread id"
// @Param       body       body  handlers.CreatorActionRequest  true  "Action"
// @Success     200  {object}  services.ActionResult
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /playtests/{thread_id}/creator-actions [post]
func (h *Handlers) CreatorAction(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	threadID, valid := pathID(c, "thread_id")
	if !valid {
		return
	}
	var req CreatorActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.flow.CreatorAction(c.Request.Context(), threadID, a, services.CreatorAction(req.Action), req.Content)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
