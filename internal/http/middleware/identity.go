package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Headers set by the gateway bridge for every forwarded interaction.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

const (
	ctxKeyUserID = "userID"
	ctxKeyRoles  = "roles"
)

// Identity reads the invoking member from HeaderUserID and their role ids
// from HeaderUserRoles (comma separated). A request without a user id stays
// anonymous; a malformed one is rejected with 400.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := strings.TrimSpace(c.GetHeader(HeaderUserID)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "bad_request",
					"message":    "invalid " + HeaderUserID,
				})
				return
			}
			c.Set(ctxKeyUserID, id)
		}
		if raw := c.GetHeader(HeaderUserRoles); raw != "" {
			var roles []string
			for _, r := range strings.Split(raw, ",") {
				if r = strings.TrimSpace(r); r != "" {
					roles = append(roles, r)
				}
			}
			c.Set(ctxKeyRoles, roles)
		}
		c.Next()
	}
}

// UserID returns the member id stored by Identity.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// Roles returns the role ids stored by Identity.
func Roles(c *gin.Context) []string {
	v, _ := c.Get(ctxKeyRoles)
	roles, _ := v.([]string)
	return roles
}
