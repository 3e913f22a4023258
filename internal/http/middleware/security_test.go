package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	r := newEngine(RequestID(), SecurityHeaders(SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		NoStore:      true,
		EnablePolicy: true,
	}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/health", nil)
	h := w.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", h.Get("Cache-Control"))
	assert.Equal(t, "none", h.Get("X-Permitted-Cross-Domain-Policies"))
	assert.Equal(t, "X-Request-ID", h.Get("Access-Control-Expose-Headers"))
	assert.Empty(t, h.Get("Strict-Transport-Security"), "plain HTTP never gets HSTS")

	w = do(r, http.MethodGet, "/health", map[string]string{"X-Forwarded-Proto": "https"})
	assert.Equal(t, "max-age=86400; includeSubDomains; preload", w.Header().Get("Strict-Transport-Security"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.TLS = &tls.ConnectionState{}
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_DefaultsAreMinimal(t *testing.T) {
	r := newEngine(SecurityHeaders(SecurityOptions{}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	h := do(r, http.MethodGet, "/x", nil).Header()
	assert.Empty(t, h.Get("Cache-Control"))
	assert.Empty(t, h.Get("Permissions-Policy"))
	assert.Empty(t, h.Get("Access-Control-Expose-Headers"))
}
