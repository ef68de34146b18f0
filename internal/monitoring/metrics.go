package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Authorization metrics
	AuthorizationsTotal *prometheus.CounterVec
	QuotaRejections     prometheus.Counter

	// Rendering metrics
	DocumentsGenerated *prometheus.CounterVec
	DocumentBytes      prometheus.Counter
	RenderDuration     *prometheus.HistogramVec

	// Usage metrics
	UsageEventsTotal *prometheus.CounterVec

	// Billing metrics
	BillingEventsTotal  *prometheus.CounterVec
	AccountsProvisioned *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		AuthorizationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authorizations_total",
				Help: "Authorization gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		QuotaRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quota_rejections_total",
				Help: "Requests refused because the monthly quota was exhausted",
			},
		),

		DocumentsGenerated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_generated_total",
				Help: "Documents rendered by kind and status",
			},
			[]string{"kind", "status"},
		),
		DocumentBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "document_bytes_total",
				Help: "Total bytes of rendered documents",
			},
		),
		RenderDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "render_duration_seconds",
				Help:    "Document render duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),

		UsageEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usage_events_total",
				Help: "Usage ledger events by endpoint",
			},
			[]string{"endpoint"},
		),

		BillingEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_events_total",
				Help: "Billing webhook events by type and outcome",
			},
			[]string{"type", "status"},
		),
		AccountsProvisioned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_provisioned_total",
				Help: "Accounts created by source",
			},
			[]string{"source"},
		),

		RateLimitHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Requests refused by the rate limiter",
			},
		),

		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordAuthorization records a gate decision
func RecordAuthorization(outcome string) {
	Get().AuthorizationsTotal.WithLabelValues(outcome).Inc()
}

// RecordQuotaRejection records a quota refusal
func RecordQuotaRejection() {
	Get().QuotaRejections.Inc()
}

// RecordDocument records a rendered document
func RecordDocument(kind, status string, bytes int64, duration time.Duration) {
	m := Get()
	m.DocumentsGenerated.WithLabelValues(kind, status).Inc()
	if bytes > 0 {
		m.DocumentBytes.Add(float64(bytes))
	}
	m.RenderDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordUsageEvent records a ledger append
func RecordUsageEvent(endpoint string) {
	Get().UsageEventsTotal.WithLabelValues(endpoint).Inc()
}

// RecordBillingEvent records a billing webhook outcome
func RecordBillingEvent(eventType, status string) {
	Get().BillingEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordAccountProvisioned records an account creation by source
func RecordAccountProvisioned(source string) {
	Get().AccountsProvisioned.WithLabelValues(source).Inc()
}

// RecordRateLimitHit records a rate limit refusal
func RecordRateLimitHit() {
	Get().RateLimitHits.Inc()
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int) {
	Get().DBConnectionsActive.Set(float64(active))
	Get().DBConnectionsIdle.Set(float64(idle))
}
