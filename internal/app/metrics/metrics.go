package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "training_workflow"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of requested status transitions.",
		},
		[]string{"from", "to", "automated", "result"},
	)

	readinessEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "evaluations_total",
			Help:      "Total number of readiness evaluations.",
		},
		[]string{"can_publish"},
	)

	readinessPercentage = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "percentage",
			Help:      "Distribution of readiness percentages.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	publishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publishing",
			Name:      "attempts_total",
			Help:      "Total number of publish attempts.",
		},
		[]string{"automated", "result"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publishing",
			Name:      "sweep_runs_total",
			Help:      "Total number of scheduled sweeps.",
		},
		[]string{"success"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publishing",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduled sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	contentVersions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "versions_total",
			Help:      "Total number of content versions written.",
		},
		[]string{"operation"},
	)

	sessionsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sessions",
			Help:      "Sessions per status at the last metrics collection.",
		},
		[]string{"status"},
	)

	workflowHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "health",
			Help:      "Workflow health at the last check (0 healthy, 1 degraded, 2 unhealthy).",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transitions,
		readinessEvaluations,
		readinessPercentage,
		publishAttempts,
		sweepRuns,
		sweepDuration,
		contentVersions,
		sessionsByStatus,
		workflowHealth,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// RecordHTTPRequest records one handled request. path should be the route
// template, not the raw URL.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTransition records a transition request and its outcome. result is
// "applied" or an error code.
func RecordTransition(from, to string, automated bool, result string) {
	transitions.WithLabelValues(from, to, strconv.FormatBool(automated), result).Inc()
}

// RecordReadiness records one readiness evaluation.
func RecordReadiness(canPublish bool, percentage int) {
	readinessEvaluations.WithLabelValues(strconv.FormatBool(canPublish)).Inc()
	readinessPercentage.Observe(float64(percentage))
}

// RecordPublishAttempt records a publish attempt.
func RecordPublishAttempt(automated bool, result string) {
	publishAttempts.WithLabelValues(strconv.FormatBool(automated), result).Inc()
}

// RecordSweep records a scheduled sweep run.
func RecordSweep(duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	sweepRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
	sweepDuration.Observe(duration.Seconds())
}

// RecordContentVersion records a content write. operation is "set",
// "restore" or "generate".
func RecordContentVersion(operation string) {
	contentVersions.WithLabelValues(operation).Inc()
}

// SetSessionsByStatus publishes the latest per-status session counts.
func SetSessionsByStatus(counts map[string]int) {
	sessionsByStatus.Reset()
	for status, n := range counts {
		sessionsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// SetHealth publishes the latest health level.
func SetHealth(level int) {
	workflowHealth.Set(float64(level))
}
