package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey deduplicates submission confirms. A retried confirm
// with the same key is answered from the stored outcome.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored outcome exists for this key.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen defaults to 200.
	MaxLen int
	// Pattern defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Param names the route parameter scoping the key; defaults to "id"
	// (the draft id of /submissions/:id/confirm).
	Param string
}

// IdempotencyLookup reports whether an unexpired outcome is stored for
// (userID, scope, key). Lookup errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID int64, scope, key string, now time.Time) (bool, error)

// IdempotencyValidator validates Idempotency-Key when present, stashes it
// and, when lookup finds a stored outcome, flags the request as a replay
// that skips rate limiting. Requests without the header pass through.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	param := opts.Param
	if param == "" {
		param = "id"
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid " + HeaderIdempotencyKey,
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid, ok := UserID(c)
		if lookup != nil && ok {
			exists, err := lookup(c.Request.Context(), uid, c.Param(param), key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			} else if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
