// Package httpapi mounts the interaction API on a Gin engine. The gateway
// bridge forwards slash commands, control clicks and member events here;
// the middleware chain gives every request tracing, a request id, identity,
// redacted logs, metrics, idempotent confirms and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/config"
	"github.com/tbourn/genji-bot/internal/http/docs"
	"github.com/tbourn/genji-bot/internal/http/handlers"
	"github.com/tbourn/genji-bot/internal/http/middleware"
	"github.com/tbourn/genji-bot/internal/repo"
)

// maxBodyBytes caps request bodies. Change request text is the largest
// payload the bridge forwards.
const maxBodyBytes = 1 << 20

// RegisterRoutes attaches the middleware chain and every endpoint to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. Identity: X-User-ID / X-User-Roles from the bridge
//  4. RedactingLogger (needs the request id and member id)
//  5. Recovery
//  6. Body size limit
//  7. Metrics
//  8. Idempotency validator, before the limiter so replays bypass it
//  9. Rate limiter per member or IP
//  10. CORS and security headers
//  11. gzip
func RegisterRoutes(r *gin.Engine, db *gorm.DB, h *handlers.Handlers, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200, Param: "id"},
		func(ctx context.Context, userID int64, draftID, key string, now time.Time) (bool, error) {
			if db == nil || draftID == "" {
				return false, nil
			}
			_, err := repo.GetIdempotency(ctx, db, userID, draftID, key, now)
			if err == nil {
				return true, nil
			}
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return false, err
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByMemberOrIP())
	r.Use(rl.Handler())

	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	docs.SwaggerInfo.BasePath = basePath(cfg.APIBasePath)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Submissions
		api.POST("/submissions", h.BeginSubmission)
		api.PUT("/submissions/:id/details", h.SetDetails)
		api.POST("/submissions/:id/confirm", h.ConfirmSubmission)
		api.DELETE("/submissions/:id", h.CancelSubmission)

		// Playtests
		api.POST("/votes/:message_id", h.Vote)
		api.GET("/playtests/:thread_id/votes", h.Votes)
		api.GET("/playtests/:thread_id/histogram", h.Histogram)
		api.POST("/playtests/:thread_id/mod-actions", h.ModAction)
		api.POST("/playtests/:thread_id/creator-actions", h.CreatorAction)

		// Change requests
		api.POST("/change-requests/check", h.CheckChangeRequest)
		api.POST("/change-requests", h.CreateChangeRequest)
		api.POST("/change-requests/:thread_id/close", h.CloseChangeRequest)
		api.GET("/change-requests", h.ListChangeRequests)

		// Persistent controls
		api.POST("/interactions/:custom_id", h.Interaction)

		// Maps and members
		api.POST("/maps/:code/creators", h.AddCreator)
		api.DELETE("/maps/:code/creators/:user_id", h.RemoveCreator)
		api.GET("/autocomplete/:collection", h.Autocomplete)
		api.POST("/members", h.MemberJoined)
		api.POST("/members/flags/:flag", h.ToggleMemberFlag)
	}
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			middleware.HeaderUserID, middleware.HeaderUserRoles, middleware.HeaderIdempotencyKey,
			"If-None-Match",
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	return cc
}

// limitBody caps the request body at maxBytes; reads past the cap fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func basePath(prefix string) string {
	if prefix == "" {
		return "/"
	}
	return prefix
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
