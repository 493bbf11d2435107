// Package metrics is Memorose's Prometheus collector, grounded in
// SuperAgent's internal/observability/metrics.Collector: a struct of
// pre-registered vectors plus an http.Handler for /metrics, trimmed to
// the counters this module's request/propose/consolidation paths need.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the process-wide metrics registry.
type Collector struct {
	RequestDuration *prometheus.HistogramVec
	RequestCount    *prometheus.CounterVec

	ProposeLatency *prometheus.HistogramVec
	SearchLatency  *prometheus.HistogramVec

	ConsolidationBatchSize *prometheus.HistogramVec
	ConsolidationErrors    *prometheus.CounterVec
}

// NewCollector builds and registers every metric against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memorose_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memorose_http_requests_total",
				Help: "Total HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
		ProposeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memorose_propose_latency_seconds",
				Help:    "Raft propose latency by shard and command kind",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"shard", "kind"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memorose_search_latency_seconds",
				Help:    "Hybrid search latency by shard and mode",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"shard", "mode"},
		),
		ConsolidationBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memorose_consolidation_batch_size",
				Help:    "Number of per-stream batches committed per L1 consolidation round",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"shard"},
		),
		ConsolidationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memorose_consolidation_errors_total",
				Help: "Consolidation tick failures by shard and stage",
			},
			[]string{"shard", "stage"},
		),
	}

	prometheus.MustRegister(
		c.RequestDuration, c.RequestCount,
		c.ProposeLatency, c.SearchLatency,
		c.ConsolidationBatchSize, c.ConsolidationErrors,
	)
	return c
}

// Handler exposes the default registry's /metrics output.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}
