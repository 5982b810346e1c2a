package observ

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// AccessDecisions counts gateway outcomes per action. outcome is
	// "granted" or the denial reason code.
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataroom_access_decisions_total",
			Help: "Document access decisions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	LinkValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataroom_link_validations_total",
			Help: "Secure link validation attempts by result.",
		},
		[]string{"result"},
	)

	StorageRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dataroom_storage_retries_total",
		Help: "Retries of storage or object-store calls after a transient failure.",
	})
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AccessDecisions, LinkValidations, StorageRetries,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests, labelled by route template.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		route := routeLabel(c)
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpInFlight.Dec()
	}
}
