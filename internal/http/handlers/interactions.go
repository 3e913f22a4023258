package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genji-bot/internal/interaction"
	"github.com/tbourn/genji-bot/internal/services"
)

// InteractionRequest is a control use forwarded by the bridge. ChannelID
// is the channel or thread the control was clicked in; Values are the
// picked options of a select menu.
type InteractionRequest struct {
	ChannelID int64    `json:"channel_id,omitempty"`
	Values    []string `json:"values,omitempty"`
}

// InteractionResponse is what the bridge shows the member, ephemerally.
type InteractionResponse struct {
	Kind    string               `json:"kind"`
	Message string               `json:"message,omitempty"`
	Vote    *services.VoteResult `json:"vote,omitempty"`
}

// Interaction godoc
// @ID          dispatchInteraction
// @Summary     Handle a persistent control
// @Description Routes a button or select menu by its custom id. Controls survive restarts because the id carries the map code and thread or message id.
// @Tags        Interactions
// @Accept      json
// @Produce     json
// @Param       custom_id  path  string  true  "Control custom id"  example(FCRC-ABC01-1100000000000000000)
// @Param       body       body  handlers.InteractionRequest  false  "Context"
// @Success     200  {object}  handlers.InteractionResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown control"
// @Router      /interactions/{custom_id} [post]
func (h *Handlers) Interaction(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	var req InteractionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	ctl, err := h.controls.Dispatch(c.Param("custom_id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ctx := c.Request.Context()
	resp := InteractionResponse{Kind: ctl.Kind}

	switch ctl.Kind {
	case interaction.KindConfirmChanges, interaction.KindDenyChanges, interaction.KindRequestArchive:
		resp.Message, err = h.crs.HandleButton(ctx, ctl.Button, ctl.MapCode, ctl.ThreadID, a.ID)

	case interaction.KindModClose:
		if req.ChannelID <= 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channel_id is required")
			return
		}
		if err = h.crs.Close(ctx, req.ChannelID, a); err == nil {
			resp.Message = "Change request closed."
		}

	case interaction.KindPlaytestVote:
		if len(req.Values) == 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "values are required")
			return
		}
		var v float64
		if v, err = selectValue(req.Values[0]); err == nil {
			resp.Vote, err = h.flow.Vote(ctx, ctl.MessageID, a.ID, v)
		}
	}
	if err != nil {
		failErr(c, err)
		return
	}
	h.track("interaction", a.ID, map[string]any{"kind": ctl.Kind, "custom_id": ctl.CustomID})
	ok(c, http.StatusOK, resp)
}

// selectValue reads a voting option: a difficulty name or a raw number.
func selectValue(opt string) (float64, error) {
	if f, err := strconv.ParseFloat(strings.TrimSpace(opt), 64); err == nil {
		return f, nil
	}
	return voteValue(opt, nil)
}
