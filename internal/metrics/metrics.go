// Package metrics collects Prometheus metrics for fortune queries and
// content backends.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements daily.Recorder and content.Observer.
type Collector struct {
	queries         *prometheus.CounterVec
	queryLatency    prometheus.Histogram
	failures        *prometheus.CounterVec
	backendAttempts *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyfortune_queries_total",
			Help: "Fortune queries by outcome state.",
		}, []string{"state"}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dailyfortune_query_duration_seconds",
			Help:    "Time to answer a fortune query.",
			Buckets: prometheus.DefBuckets,
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyfortune_failures_total",
			Help: "Failed operations by operation name.",
		}, []string{"op"}),
		backendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailyfortune_backend_attempts_total",
			Help: "Content backend attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dailyfortune_backend_duration_seconds",
			Help:    "Content backend call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"backend"}),
	}

	reg.MustRegister(
		c.queries,
		c.queryLatency,
		c.failures,
		c.backendAttempts,
		c.backendLatency,
	)
	return c
}

// RecordQuery counts a query outcome.
func (c *Collector) RecordQuery(state string, d time.Duration) {
	c.queries.WithLabelValues(state).Inc()
	c.queryLatency.Observe(d.Seconds())
}

// RecordFailure counts a failed operation.
func (c *Collector) RecordFailure(op string) {
	c.failures.WithLabelValues(op).Inc()
}

// ObserveBackend counts one content backend attempt.
func (c *Collector) ObserveBackend(backend, outcome string, d time.Duration) {
	c.backendAttempts.WithLabelValues(backend, outcome).Inc()
	c.backendLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
