package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/config"
	"github.com/tbourn/genji-bot/internal/http/handlers"
	"github.com/tbourn/genji-bot/internal/http/middleware"
	"github.com/tbourn/genji-bot/internal/repo"
)

type fakeChoices struct{}

func (fakeChoices) Choices(name, _ string) ([]cache.Choice, bool) {
	if name != "maps" {
		return nil, false
	}
	return []cache.Choice{{Name: "ABC01 - Hanamura", Value: "ABC01"}}, true
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		OTEL:        config.OTELConfig{ServiceName: "genji-bot-test"},
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	RegisterRoutes(r, db, handlers.New(handlers.Deps{DB: db, Choices: fakeChoices{}}), cfg)
	return r, db
}

func serve(r *gin.Engine, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_HealthMetricsFallbacks(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	w := serve(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("GET /health = %d rid=%q", w.Code, w.Header().Get("X-Request-ID"))
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing: %v", w.Header())
	}

	w = serve(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "genji_http_requests_total") {
		t.Fatalf("GET /metrics code=%d", w.Code)
	}

	if w := serve(r, http.MethodGet, "/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health = %d", w.Code)
	}
}

func TestRegisterRoutes_MountsUnderBasePath(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	if w := serve(r, http.MethodGet, "/api/v1/autocomplete/maps?q=han", nil); w.Code != http.StatusOK {
		t.Fatalf("autocomplete = %d body=%s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/autocomplete/maps", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unprefixed route should not exist, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/api/v1/submissions", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous submission = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/health", map[string]string{middleware.HeaderUserID: "nope"}); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed member id = %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerDoc(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	w := serve(r, http.MethodGet, "/swagger/doc.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"basePath": "/api/v1"`, "/votes/{message_id}", "/change-requests/{thread_id}/close"} {
		if !strings.Contains(body, want) {
			t.Fatalf("doc.json missing %q", want)
		}
	}
}

func TestRegisterRoutes_CORS(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	w := serve(r, http.MethodGet, "/health", map[string]string{"Origin": "https://genji.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-all expected '*', got %q", got)
	}

	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://genji.example"}}
	r, _ = newRouter(t, cfg)
	w = serve(r, http.MethodGet, "/health", map[string]string{"Origin": "https://genji.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://genji.example" {
		t.Fatalf("expected origin echo, got %q", got)
	}
	w = serve(r, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("disallowed origin = %d", w.Code)
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	w := serve(r, http.MethodGet, "/api/v1/autocomplete/maps", map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("code=%d encoding=%q", w.Code, w.Header().Get("Content-Encoding"))
	}
}

func TestRegisterRoutes_RateLimitAndReplayBypass(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.01
	cfg.RateBurst = 1
	r, db := newRouter(t, cfg)

	if w := serve(r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w := serve(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second = %d retry=%q", w.Code, w.Header().Get("Retry-After"))
	}

	if _, err := repo.CreateIdempotency(context.Background(), db, 42, "draft-1", "k-1", "ABC01", "playtest_open", time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	hdr := map[string]string{middleware.HeaderUserID: "42", middleware.HeaderIdempotencyKey: "k-1"}
	for i := 0; i < 3; i++ {
		w := serve(r, http.MethodPost, "/api/v1/submissions/draft-1/confirm", hdr)
		if w.Code != http.StatusOK || w.Header().Get("Idempotent-Replayed") != "true" {
			t.Fatalf("replay %d = %d body=%s", i, w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"map_code":"ABC01"`) {
			t.Fatalf("replay body=%s", w.Body.String())
		}
	}
}

func TestRegisterRoutes_BadIdempotencyKey(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	hdr := map[string]string{middleware.HeaderUserID: "42", middleware.HeaderIdempotencyKey: "has spaces"}
	if w := serve(r, http.MethodPost, "/api/v1/submissions/draft-1/confirm", hdr); w.Code != http.StatusBadRequest {
		t.Fatalf("code=%d", w.Code)
	}
}

func Test_limitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}
