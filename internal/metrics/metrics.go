// Package metrics exposes Prometheus collectors for the scan service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanRunsTotal           *prometheus.CounterVec
	scanActiveRuns          prometheus.Gauge
	scanQueuedRuns          prometheus.Gauge
	contributionsTotal      *prometheus.CounterVec
	classificationsTotal    *prometheus.CounterVec
	discardsTotal           *prometheus.CounterVec
	outagePausesTotal       prometheus.Counter
	parliamentRequestsTotal *prometheus.CounterVec
	rateLimitDelaysSeconds  *prometheus.HistogramVec
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scanRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scan_runs_total",
				Help: "Total number of scan runs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		scanActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scan_active_runs",
				Help: "Number of scan runs currently executing.",
			},
		)

		scanQueuedRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scan_queued_runs",
				Help: "Number of scan runs waiting for an admission slot.",
			},
		)

		contributionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scan_contributions_total",
				Help: "Total contributions fetched from Parliament APIs, labeled by source.",
			},
			[]string{"source"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scan_classifications_total",
				Help: "Total classification outcomes, labeled by verdict.",
			},
			[]string{"verdict"},
		)

		discardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scan_discards_total",
				Help: "Total discarded contributions, labeled by category.",
			},
			[]string{"category"},
		)

		outagePausesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scan_outage_pauses_total",
				Help: "Times classification was paused due to a persistent API failure.",
			},
		)

		parliamentRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parliament_requests_total",
				Help: "Total upstream Parliament API requests, labeled by host and status.",
			},
			[]string{"host", "status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parliament_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRunFinished increments the run counter for a terminal status.
func ObserveRunFinished(status string) {
	scanRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveRuns increments the executing-runs gauge.
func IncActiveRuns() { scanActiveRuns.Inc() }

// DecActiveRuns decrements the executing-runs gauge.
func DecActiveRuns() { scanActiveRuns.Dec() }

// SetQueuedRuns records the admission queue depth.
func SetQueuedRuns(n int) { scanQueuedRuns.Set(float64(n)) }

// ObserveContributions adds fetched contributions for a source.
func ObserveContributions(source string, n int) {
	if n > 0 {
		contributionsTotal.WithLabelValues(source).Add(float64(n))
	}
}

// ObserveClassification counts one classification verdict
// (relevant, discarded or deferred).
func ObserveClassification(verdict string) {
	classificationsTotal.WithLabelValues(verdict).Inc()
}

// ObserveDiscard counts one discard by category.
func ObserveDiscard(category string) {
	discardsTotal.WithLabelValues(category).Inc()
}

// ObserveOutagePause counts one transition into the paused state.
func ObserveOutagePause() {
	outagePausesTotal.Inc()
}

// ObserveParliamentRequest counts one upstream API call.
func ObserveParliamentRequest(host string, status int) {
	parliamentRequestsTotal.WithLabelValues(host, strconv.Itoa(status)).Inc()
}

// ObserveRateLimitDelay records how long a request waited for its host slot.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
