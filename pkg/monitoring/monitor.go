package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 队列领取指标，按队列类型统计
	ClaimsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_claims_issued_total",
			Help: "Total number of queue items claimed",
		},
		[]string{"queue"},
	)

	ClaimCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_claim_cache_hits_total",
			Help: "Total number of idempotency cache hits on claim",
		},
		[]string{"queue"},
	)

	ClaimCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_claim_cache_misses_total",
			Help: "Total number of idempotency cache misses on claim",
		},
		[]string{"queue"},
	)

	// 事件去重命中，按事件类型统计
	EventsDeduplicated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learning_events_deduplicated_total",
			Help: "Total number of learning events dropped as duplicates",
		},
		[]string{"event_type"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ClaimsIssued)
	prometheus.MustRegister(ClaimCacheHits)
	prometheus.MustRegister(ClaimCacheMisses)
	prometheus.MustRegister(EventsDeduplicated)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
