// Package metrics exposes Prometheus collectors for the collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Channel outcomes.
const (
	OutcomeCollected  = "collected"
	OutcomeUnresolved = "unresolved"
	OutcomeFailed     = "failed"
)

var (
	channelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_channels_total",
			Help: "Channels processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	videosTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_videos_collected_total",
			Help: "Video snapshots handed to the writer.",
		},
	)

	apiCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_api_calls_total",
			Help: "Stats API calls, labeled by resource and result.",
		},
		[]string{"resource", "result"},
	)

	apiCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_api_call_duration_seconds",
			Help:    "Histogram of Stats API call latencies, labeled by resource.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"resource"},
	)

	retryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_retry_exhausted_total",
			Help: "Units of work abandoned after exhausting retries, labeled by stage.",
		},
		[]string{"stage"},
	)

	rowsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_rows_written_total",
			Help: "Rows persisted by the writer, labeled by table.",
		},
		[]string{"table"},
	)

	rowsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_rows_dropped_total",
			Help: "Rows dropped after write retries were exhausted, labeled by table.",
		},
		[]string{"table"},
	)

	flushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_writer_flushes_total",
			Help: "Buffer flush passes run by the writer.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_active_workers",
			Help: "Number of collector workers currently running.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_rate_limit_delays_seconds",
			Help:    "Histogram of API key pacing waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveChannel counts a processed channel.
func ObserveChannel(outcome string) {
	channelsTotal.WithLabelValues(outcome).Inc()
}

// ObserveVideos counts collected video snapshots.
func ObserveVideos(n int) {
	if n > 0 {
		videosTotal.Add(float64(n))
	}
}

// ObserveAPICall records a Stats API call.
func ObserveAPICall(resource string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	apiCallsTotal.WithLabelValues(resource, result).Inc()
	apiCallDurationSeconds.WithLabelValues(resource).Observe(duration.Seconds())
}

// ObserveRetryExhausted counts an abandoned unit of work.
func ObserveRetryExhausted(stage string) {
	retryExhaustedTotal.WithLabelValues(stage).Inc()
}

// ObserveFlush counts a writer flush pass.
func ObserveFlush() {
	flushesTotal.Inc()
}

// ObserveRowsWritten counts rows persisted to table.
func ObserveRowsWritten(table string, n int) {
	rowsWrittenTotal.WithLabelValues(table).Add(float64(n))
}

// ObserveRowsDropped counts rows discarded for table.
func ObserveRowsDropped(table string, n int) {
	rowsDroppedTotal.WithLabelValues(table).Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}
