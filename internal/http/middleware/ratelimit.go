package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(*gin.Context) string

// KeyByMemberOrIP keys on the invoking member when Identity found one and
// on the client IP otherwise. The prefixes keep the two spaces apart.
func KeyByMemberOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid, ok := UserID(c); ok {
			return "member:" + strconv.FormatInt(uid, 10)
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per key. Idle buckets are
// dropped during lookups after ttl.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc
	ttl   time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second with the
// given burst (at least 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		ttl:      10 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

const gcEvery = 5000

func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep before the lookup so the requested bucket can be evicted too.
	rl.lookups++
	if rl.lookups >= gcEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay, which is served without spending a token.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler rejects requests over the limit with 429 and a Retry-After
// computed from the bucket's refill rate.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		now := time.Now()
		lim := rl.limiter(rl.keyFn(c), now)
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		rateLimited.WithLabelValues(routeOf(c)).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfter(rl.rps)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfter is the whole seconds until one token refills, at least 1.
func retryAfter(rps rate.Limit) int {
	if rps <= 0 {
		return 1
	}
	s := int(math.Ceil(1 / float64(rps)))
	if s < 1 {
		return 1
	}
	return s
}
