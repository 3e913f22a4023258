package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	r := newEngine(Identity())
	var (
		uid   int64
		ok    bool
		roles []string
	)
	r.GET("/me", func(c *gin.Context) {
		uid, ok = UserID(c)
		roles = Roles(c)
		c.Status(http.StatusNoContent)
	})

	w := do(r, http.MethodGet, "/me", map[string]string{
		HeaderUserID:    " 500001 ",
		HeaderUserRoles: "900, 777,,",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, ok)
	assert.EqualValues(t, 500001, uid)
	assert.Equal(t, []string{"900", "777"}, roles)

	w = do(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, ok)
	assert.Nil(t, roles)

	for _, bad := range []string{"abc", "-4", "0"} {
		w = do(r, http.MethodGet, "/me", map[string]string{HeaderUserID: bad})
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}
