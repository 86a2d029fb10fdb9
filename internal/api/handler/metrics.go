package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

var (
	imaNamespaces = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ima_namespaces",
		Help: "Live measurement namespaces by lifecycle state.",
	}, []string{"state"})

	imaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ima_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	imaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ima_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		imaRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		imaRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// NamespaceGauge returns a lifecycle observer that recounts the live
// namespaces of eng by state on every event.
func NamespaceGauge(eng *measurement.Engine) func(measurement.LifecycleEvent) {
	return func(measurement.LifecycleEvent) {
		counts := map[measurement.State]float64{
			measurement.StateCreated: 0,
			measurement.StateActive:  0,
		}
		for _, ns := range eng.Namespaces() {
			counts[ns.State()]++
		}
		for st, n := range counts {
			imaNamespaces.WithLabelValues(st.String()).Set(n)
		}
	}
}
