package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger's Prometheus collectors on a private registry so
// tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	requestsCreated  *prometheus.CounterVec
	requestsResolved *prometheus.CounterVec
	balanceMutations *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requestsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "requests_created_total",
				Help:      "Requests created, by kind.",
			},
			[]string{"kind"},
		),
		requestsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "requests_resolved_total",
				Help:      "Resolve attempts, by kind, decision and outcome.",
			},
			[]string{"kind", "decision", "outcome"},
		),
		balanceMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Name:      "balance_mutations_total",
				Help:      "Committed balance changes, by cause.",
			},
			[]string{"cause"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}
	m.Registry.MustRegister(
		m.requestsCreated,
		m.requestsResolved,
		m.balanceMutations,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// The recorder methods are safe on a nil *Metrics.

func (m *Metrics) RequestCreated(kind string) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(kind).Inc()
}

// RequestResolved records a resolve attempt. outcome is "ok" or the error
// code that stopped it.
func (m *Metrics) RequestResolved(kind, decision, outcome string) {
	if m == nil {
		return
	}
	m.requestsResolved.WithLabelValues(kind, decision, outcome).Inc()
}

func (m *Metrics) BalanceMutated(cause string) {
	if m == nil {
		return
	}
	m.balanceMutations.WithLabelValues(cause).Inc()
}

// Middleware records count and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
