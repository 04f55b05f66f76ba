// Package metrics defines the Prometheus collectors exported on /metrics.
// All metrics are prefixed with "convertarr_".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convertarr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convertarr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Job metrics
var (
	JobsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convertarr_jobs_enqueued_total",
			Help: "Total number of conversion jobs enqueued",
		},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convertarr_jobs_finished_total",
			Help: "Total number of conversion jobs reaching a terminal state",
		},
		[]string{"status", "error_kind"},
	)

	JobStallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convertarr_job_stalls_total",
			Help: "Total number of stalled jobs detected",
		},
		[]string{"outcome"}, // "requeued", "failed"
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convertarr_jobs_in_flight",
			Help: "Number of conversions currently executing in this process",
		},
	)
)

// Engine metrics
var (
	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convertarr_conversion_duration_seconds",
			Help:    "Wall time of engine runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"container", "result"},
	)

	EnginePeakRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convertarr_engine_peak_rss_bytes",
			Help: "Peak resident memory of the most recent engine run",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "convertarr_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
