package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/repo"
	"github.com/tbourn/genji-bot/internal/services"
	"github.com/tbourn/genji-bot/internal/sysutil"
	"github.com/tbourn/genji-bot/internal/utils"
)

// CheckChangeRequest asks which requests are already open on a map.
type CheckChangeRequest struct {
	MapCode string `json:"map_code" binding:"required" example:"ABC01"`
}

// OpenChangeRequest opens a request. Force skips the duplicate check the
// caller already confirmed through the check endpoint.
type OpenChangeRequest struct {
	MapCode string `json:"map_code" binding:"required" example:"ABC01"`
	Content string `json:"content" binding:"required"`
	Force   bool   `json:"force,omitempty"`
}

// Pagination carries list metadata.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChangeRequestsResponse is a page of change requests.
type ListChangeRequestsResponse struct {
	ChangeRequests []domain.ChangeRequest `json:"change_requests"`
	Pagination     Pagination             `json:"pagination"`
}

// CheckChangeRequest godoc
// @ID          checkChangeRequest
// @Summary     Open requests on a map
// @Description Returns the open requests a new request would duplicate, with a rendered summary when there are any.
// @Tags        ChangeRequests
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CheckChangeRequest  true  "Map"
// @Success     200  {object}  services.Decision
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /change-requests/check [post]
func (h *Handlers) CheckChangeRequest(c *gin.Context) {
	var req CheckChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	d, err := h.crs.Begin(c.Request.Context(), req.MapCode)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// CreateChangeRequest godoc
// @ID          createChangeRequest
// @Summary     Open a change request
// @Tags        ChangeRequests
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.OpenChangeRequest  true  "Request"
// @Success     201  {object}  domain.ChangeRequest
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Open requests exist and force was not set"
// @Router      /change-requests [post]
func (h *Handlers) CreateChangeRequest(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	var req OpenChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	cr, err := h.crs.Create(c.Request.Context(), services.CreateChangeRequest{
		UserID:  a.ID,
		MapCode: req.MapCode,
		Content: req.Content,
	}, req.Force)
	if err != nil {
		failErr(c, err)
		return
	}
	h.track("change_request", a.ID, map[string]any{"map_code": cr.MapCode, "force": req.Force})
	ok(c, http.StatusCreated, cr)
}

// CloseChangeRequest godoc
// @ID          closeChangeRequest
// @Summary     Resolve a change request
// @Tags        ChangeRequests
// @Param       thread_id  path  int  true  "Request thread id"
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /change-requests/{thread_id}/close [post]
func (h *Handlers) CloseChangeRequest(c *gin.Context) {
	a, found := actor(c)
	if !found {
		return
	}
	threadID, valid := pathID(c, "thread_id")
	if !valid {
		return
	}
	if err := h.crs.Close(c.Request.Context(), threadID, a); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListChangeRequests godoc
// @ID          listChangeRequests
// @Summary     List change requests
// @Description Paginated, newest first. Supports a weak ETag via If-None-Match.
// @Tags        ChangeRequests
// @Produce     json
// @Param       map_code   query  string  false  "Only this map"
// @Param       open       query  bool    false  "Only unresolved requests"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListChangeRequestsResponse
// @Success     304  {string}  string  "Not Modified"
// @Router      /change-requests [get]
func (h *Handlers) ListChangeRequests(c *gin.Context) {
	ctx := c.Request.Context()
	page, size := utils.ClampPage(c.Query("page"), c.Query("page_size"))
	code := strings.TrimSpace(c.Query("map_code"))
	if code != "" {
		code = domain.NormalizeMapCode(code)
	}
	openOnly := sysutil.IsTruthy(c.Query("open"))

	if h.db != nil {
		count, newest, err := repo.ChangeRequestStats(ctx, h.db, code)
		var open int64
		if err == nil {
			open, err = repo.CountChangeRequests(ctx, h.db, code, true)
		}
		if err == nil {
			var ts int64
			if newest != nil {
				ts = newest.UnixNano()
			}
			etag := fmt.Sprintf(`W/"crs:%s:%t:%d:%d:%d:%d:%d"`, code, openOnly, page, size, count, open, ts)
			c.Header("ETag", etag)
			if c.GetHeader("If-None-Match") == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.crs.ListPage(ctx, code, openOnly, page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	pages := utils.TotalPages(total, size)
	ok(c, http.StatusOK, ListChangeRequestsResponse{
		ChangeRequests: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: pages,
			HasNext:    page < pages,
		},
	})
}
