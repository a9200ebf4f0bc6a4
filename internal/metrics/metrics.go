// Package metrics registers the toolbox's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftoolbox",
			Name:      "operations_total",
			Help:      "Total engine operations by kind and result",
		},
		[]string{"op", "result"},
	)

	opLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdftoolbox",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations by kind",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	pagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftoolbox",
			Name:      "pages_processed_total",
			Help:      "Pages touched by engine operations, by kind",
		},
		[]string{"op"},
	)

	outputBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdftoolbox",
			Name:      "output_bytes",
			Help:      "Size of produced artifacts by operation kind",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"op"},
	)

	backendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdftoolbox",
			Name:      "backend_failures_total",
			Help:      "External backend failures by tool and kind",
		},
		[]string{"tool", "kind"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pdftoolbox",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(operations, opLatency, pagesProcessed, outputBytes, backendFailures, queueDepth)
}

// Handler returns the http.Handler for /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveOp records one engine operation outcome and its duration.
func ObserveOp(op, result string, dur time.Duration) {
	operations.WithLabelValues(op, result).Inc()
	opLatency.WithLabelValues(op).Observe(dur.Seconds())
}

// AddPages counts pages touched by an operation.
func AddPages(op string, n int) { pagesProcessed.WithLabelValues(op).Add(float64(n)) }

// ObserveOutput records an artifact size.
func ObserveOutput(op string, bytes int64) { outputBytes.WithLabelValues(op).Observe(float64(bytes)) }

// IncBackendFailure counts an external tool failure (unavailable, timeout, exit).
func IncBackendFailure(tool, kind string) { backendFailures.WithLabelValues(tool, kind).Inc() }

// SetQueueDepth publishes a queue depth gauge.
func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
