package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Labels use the registered route (":thread_id" rather than the id) so
// cardinality stays bounded by the route table.
var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genji_http_requests_total",
			Help: "Interaction API requests by route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genji_http_request_duration_seconds",
			Help:    "Interaction API latency.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "genji_http_requests_inflight",
		Help: "Interaction API requests being served.",
	})

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "genji_http_response_size_bytes",
			Help: "Interaction API response sizes. Histogram PNGs land in the upper buckets.",
			Buckets: []float64{
				256, 1 << 10, 4 << 10, 16 << 10,
				64 << 10, 256 << 10, 1 << 20,
			},
		},
		[]string{"method", "path"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genji_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, rateLimited)
}

// Metrics records request count, latency, in-flight requests and response
// size.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := routeOf(c)
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// routeOf returns the matched route, or "unmatched" so 404 scans do not
// create a series per URL.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
