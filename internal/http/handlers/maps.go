package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genji-bot/internal/cache"
)

// AddCreatorRequest credits a member on a map.
type AddCreatorRequest struct {
	UserID int64 `json:"user_id" binding:"required" example:"141372217677053952"`
}

// ChoicesResponse lists autocomplete choices.
type ChoicesResponse struct {
	Choices []cache.Choice `json:"choices"`
}

// AddCreator godoc
// @ID          addMapCreator
// @Summary     Credit a creator
// @Tags        Maps
// @Accept      json
// @Produce     json
// @Param       code  path  string  true  "Map code"
// @Param       body  body  handlers.AddCreatorRequest  true  "Creator"
// @Success     200  {object}  cache.MapData
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /maps/{code}/creators [post]
func (h *Handlers) AddCreator(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	var req AddCreatorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}
	m, err := h.creators.AddCreator(c.Request.Context(), a, c.Param("code"), req.UserID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// RemoveCreator godoc
// @ID          removeMapCreator
// @Summary     Remove a creator
// @Description The last creator of a map cannot be removed.
// @Tags        Maps
// @Produce     json
// @Param       code     path  string  true  "Map code"
// @Param       user_id  path  int     true  "Creator id"
// @Success     200  {object}  cache.MapData
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /maps/{code}/creators/{user_id} [delete]
func (h *Handlers) RemoveCreator(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	userID, valid := pathID(c, "user_id")
	if !valid {
		return
	}
	m, err := h.creators.RemoveCreator(c.Request.Context(), a, c.Param("code"), userID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// Autocomplete godoc
// @ID          autocomplete
// @Summary     Autocomplete choices
// @Description Collections: maps, users, creators, map_names, map_types, mechanics, restrictions, tags. At most 25 choices.
// @Tags        Maps
// @Produce     json
// @Param       collection  path   string  true   "Collection"
// @Param       q           query  string  false  "Typed text"
// @Success     200  {object}  handlers.ChoicesResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /autocomplete/{collection} [get]
func (h *Handlers) Autocomplete(c *gin.Context) {
	name := strings.ToLower(c.Param("collection"))
	choices, known := h.choices.Choices(name, c.Query("q"))
	if !known {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown collection "+name)
		return
	}
	if len(choices) > cache.MaxChoices {
		choices = choices[:cache.MaxChoices]
	}
	if choices == nil {
		choices = []cache.Choice{}
	}
	ok(c, http.StatusOK, ChoicesResponse{Choices: choices})
}
