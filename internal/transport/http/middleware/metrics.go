package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/genstudio-auth/internal/infra/telemetry"
)

// unmatchedRoute labels requests that hit no registered route so that
// arbitrary paths cannot blow up label cardinality.
const unmatchedRoute = "unmatched"

var httpLabels = []string{"method", "route", "status"}

// DefaultSkippedRoutes are health and scrape endpoints left out of request metrics.
var DefaultSkippedRoutes = []string{"/healthz", "/readyz", "/metrics"}

type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Buckets    []float64
	// SkipRoutes lists gin route templates that are not instrumented.
	// Nil selects DefaultSkippedRoutes; an empty slice instruments everything.
	SkipRoutes []string
}

type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge

	skip map[string]struct{}
}

// NewHTTPMetrics registers the request collectors under genstudio_http_*.
// Registering twice against the same registerer reuses the existing collectors.
func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	skipRoutes := opts.SkipRoutes
	if skipRoutes == nil {
		skipRoutes = DefaultSkippedRoutes
	}

	m := &HTTPMetrics{skip: make(map[string]struct{}, len(skipRoutes))}
	for _, route := range skipRoutes {
		m.skip[route] = struct{}{}
	}

	var err error
	if m.Requests, err = telemetry.Register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: telemetry.Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Served HTTP requests partitioned by method, route template and status.",
	}, httpLabels)); err != nil {
		return nil, err
	}
	if m.Duration, err = telemetry.Register(opts.Registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: telemetry.Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving HTTP requests, in seconds.",
		Buckets:   buckets,
	}, httpLabels)); err != nil {
		return nil, err
	}
	if m.InFlight, err = telemetry.Register(opts.Registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: telemetry.Namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "HTTP requests being served right now.",
	})); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler instruments every request except the skipped routes. A nil
// receiver yields a pass-through middleware.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, skipped := m.skip[route]; skipped && route != "" {
			c.Next()
			return
		}

		m.InFlight.Inc()
		started := time.Now()
		c.Next()
		elapsed := time.Since(started)
		m.InFlight.Dec()

		if route == "" {
			route = unmatchedRoute
		}
		status := strconv.Itoa(c.Writer.Status())
		m.Requests.WithLabelValues(c.Request.Method, route, status).Inc()
		m.Duration.WithLabelValues(c.Request.Method, route, status).Observe(elapsed.Seconds())
	}
}
