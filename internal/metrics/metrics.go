// Package metrics exposes Prometheus collectors for the debugflow service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debugflow_pipeline_runs_total",
			Help: "Total number of pipeline runs, labeled by final state and failing stage.",
		},
		[]string{"state", "stage"},
	)

	pipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "debugflow_pipeline_duration_seconds",
			Help:    "Histogram of pipeline run latencies, labeled by final state.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
		[]string{"state"},
	)

	fetchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "debugflow_fetch_bytes",
			Help:    "Size of fetched scripts in bytes.",
			Buckets: []float64{256, 1024, 4096, 8192, 16384, 30000},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePipeline records one pipeline run. stage is empty for runs that did not fail.
func ObservePipeline(state, stage string, duration time.Duration) {
	if stage == "" {
		stage = "none"
	}
	pipelineRunsTotal.WithLabelValues(state, stage).Inc()
	pipelineDurationSeconds.WithLabelValues(state).Observe(duration.Seconds())
}

// ObserveFetchBytes records the size of a fetched script.
func ObserveFetchBytes(n int) {
	fetchBytes.Observe(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
