package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genji-bot/internal/domain"
)

// MemberJoinRequest is a guild join forwarded by the bridge.
type MemberJoinRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	Nickname string `json:"nickname"`
}

// MemberJoined godoc
// @ID          memberJoined
// @Summary     Record a guild join
// @Description Stores the member and re-grants the map maker role to returning creators.
// @Tags        Members
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.MemberJoinRequest  true  "Member"
// @Success     200  {object}  services.JoinResult
// @Router      /members [post]
func (h *Handlers) MemberJoined(c *gin.Context) {
	var req MemberJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}
	res, err := h.members.OnJoin(c.Request.Context(), req.UserID, strings.TrimSpace(req.Nickname))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// MemberFlagsResponse is the caller's settings after a toggle.
type MemberFlagsResponse struct {
	Flags        domain.UserFlags `json:"flags"`
	Verification bool             `json:"verification"`
	Promotion    bool             `json:"promotion"`
}

// ToggleMemberFlag godoc
// @ID          toggleMemberFlag
// @Summary     Toggle one of the caller's settings
// @Tags        Members
// @Produce     json
// @Param       flag  path  string  true  "verification or promotion"
// @Success     200  {object}  handlers.MemberFlagsResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /members/flags/{flag} [post]
func (h *Handlers) ToggleMemberFlag(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	flag, known := domain.ParseUserFlag(strings.ToLower(c.Param("flag")))
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeInvalidInput, "unknown flag "+c.Param("flag"))
		return
	}
	flags, err := h.members.ToggleFlag(c.Request.Context(), a.ID, flag)
	if err != nil {
		failErr(c, err)
		return
	}
	h.track("toggle_flag", a.ID, map[string]any{"flag": c.Param("flag")})
	ok(c, http.StatusOK, MemberFlagsResponse{
		Flags:        flags,
		Verification: flags.Has(domain.FlagVerification),
		Promotion:    flags.Has(domain.FlagPromotion),
	})
}
