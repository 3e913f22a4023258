package middleware

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type lookupCall struct {
	userID     int64
	scope, key string
}

func TestIdempotencyValidator(t *testing.T) {
	var calls []lookupCall
	lookup := func(_ context.Context, userID int64, scope, key string, _ time.Time) (bool, error) {
		calls = append(calls, lookupCall{userID, scope, key})
		return key == "seen-key", nil
	}

	var replay, bypass bool
	var stashed string
	r := newEngine(Identity(), IdempotencyValidator(IdempotencyOptions{MaxLen: 16}, lookup))
	r.POST("/submissions/:id/confirm", func(c *gin.Context) {
		replay, bypass = IsReplay(c), IsRateBypass(c)
		stashed, _ = GetIdempotencyKey(c)
		c.Status(http.StatusOK)
	})
	post := func(key string, member bool) int {
		hdr := map[string]string{}
		if key != "" {
			hdr[HeaderIdempotencyKey] = key
		}
		if member {
			hdr[HeaderUserID] = "500002"
		}
		return do(r, http.MethodPost, "/submissions/DRAFT1/confirm", hdr).Code
	}

	assert.Equal(t, http.StatusOK, post("", true))
	assert.Empty(t, calls)
	assert.False(t, replay)

	assert.Equal(t, http.StatusBadRequest, post(strings.Repeat("k", 17), true))
	assert.Equal(t, http.StatusBadRequest, post("has space", true))

	assert.Equal(t, http.StatusOK, post("new-key", true))
	assert.Equal(t, "new-key", stashed)
	assert.False(t, replay)

	assert.Equal(t, http.StatusOK, post("seen-key", true))
	assert.True(t, replay)
	assert.True(t, bypass)
	assert.Equal(t, []lookupCall{{500002, "DRAFT1", "new-key"}, {500002, "DRAFT1", "seen-key"}}, calls)

	// anonymous requests never hit the store
	assert.Equal(t, http.StatusOK, post("seen-key", false))
	assert.False(t, replay)
	assert.Len(t, calls, 2)
}
