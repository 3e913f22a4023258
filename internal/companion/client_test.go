package companion

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/tbourn/genji-bot/internal/config"
)

func newTestClient(t *testing.T, h fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, h) }()
	t.Cleanup(func() { _ = ln.Close() })

	c := NewClient(config.CompanionConfig{
		BaseURL: "http://companion.test",
		APIKey:  "secret",
		Timeout: 2 * time.Second,
		RPS:     100,
	})
	c.http.Dial = func(string) (net.Conn, error) { return ln.Dial() }
	return c
}

func TestPostPlaytest_SendsKeyAndPayload(t *testing.T) {
	var (
		gotKey  string
		gotPath string
		gotBody PlaytestMeta
	)
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		gotKey = string(ctx.Request.Header.Peek("X-API-KEY"))
		gotPath = string(ctx.Path())
		_ = json.Unmarshal(ctx.PostBody(), &gotBody)
		ctx.SetStatusCode(fasthttp.StatusCreated)
	})

	err := c.PostPlaytest(context.Background(), PlaytestMeta{ThreadID: 99, MapID: "ABCD", InitialDifficulty: 5.0})
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "/v2/maps/playtests/", gotPath)
	assert.Equal(t, PlaytestMeta{ThreadID: 99, MapID: "ABCD", InitialDifficulty: 5.0}, gotBody)
}

func TestGetPlaytest_DecodesBody(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "/v2/maps/playtests/42", string(ctx.Path()))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"thread_id":42,"map_code":"ABCD","vote_count":3}`)
	})

	info, err := c.GetPlaytest(context.Background(), 42)
	require.NoError(t, err)
	assert.EqualValues(t, 42, info.ThreadID)
	assert.Equal(t, "ABCD", info.MapCode)
	assert.Equal(t, 3, info.VoteCount)
}

func TestNon2xx_ReturnsStatusError(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("bad key")
	})

	_, err := c.GetPlaytest(context.Background(), 1)
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, fasthttp.StatusUnauthorized, se.Status)
	assert.Equal(t, "bad key", se.Body)
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(config.CompanionConfig{RPS: 1, Timeout: time.Second})
	assert.False(t, c.Enabled())
	assert.Error(t, c.PostPlaytest(context.Background(), PlaytestMeta{}))
}
