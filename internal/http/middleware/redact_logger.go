package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions lists extra headers whose values are never logged. The
// built-in set is Authorization, Cookie, Set-Cookie and X-API-Key.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	// Bot tokens: base64 user id, timestamp, HMAC.
	botTokenRE = regexp.MustCompile(`[A-Za-z0-9_\-]{23,28}\.[A-Za-z0-9_\-]{6,7}\.[A-Za-z0-9_\-]{27,38}`)
	webhookRE  = regexp.MustCompile(`(?i)(discord(?:app)?\.com/api/webhooks/\d+/)[A-Za-z0-9_\-]+`)
	emailRE    = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	amqpCredRE = regexp.MustCompile(`(?i)(amqps?://[^:/@\s]+:)[^@\s]+@`)
)

// redact scrubs credentials and addresses from a log value. Member and map
// ids stay readable; they are needed to follow a workflow through the logs.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = webhookRE.ReplaceAllString(s, "${1}[REDACTED]")
	s = amqpCredRE.ReplaceAllString(s, "${1}[REDACTED]@")
	s = botTokenRE.ReplaceAllString(s, "[REDACTED:token]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// RedactingLogger attaches a request-scoped logger (request id, member id,
// route) and writes one access log line per request with scrubbed query and
// headers. Bodies are never logged.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-api-key":     {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		ctx := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path)
		if uid, ok := UserID(c); ok {
			ctx = ctx.Int64("user_id", uid)
		}
		lg := ctx.Logger()
		c.Set(loggerKey, &lg)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}
		query := truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)

		c.Next()

		status := c.Writer.Status()
		ev := lg.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", redact(c.Errors.String()))
			}
		case status >= 400:
			ev = lg.Warn()
		}
		ev.Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
