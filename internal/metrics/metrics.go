// Package metrics exposes Prometheus metrics for runner requests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation labels.
const (
	OperationProvision = "provision"
	OperationTeardown  = "teardown"
)

// Result labels.
const (
	ResultSuccess      = "success"
	ResultUnauthorized = "unauthorized"
	ResultInvalid      = "invalid"
	ResultError        = "error"
)

var (
	// Registry holds every ghrunner collector plus the Go runtime collectors.
	Registry = prometheus.NewRegistry()

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghrunner",
			Name:      "requests_total",
			Help:      "Total number of runner requests by operation and result",
		},
		[]string{"operation", "result"},
	)

	stepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghrunner",
			Name:      "step_failures_total",
			Help:      "Total number of failed orchestration steps",
		},
		[]string{"step"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ghrunner",
			Name:      "request_duration_seconds",
			Help:      "Duration of runner requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"operation"},
	)
)

func init() {
	Registry.MustRegister(
		requestsTotal,
		stepFailuresTotal,
		requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordRequest records a finished request.
func RecordRequest(operation, result string, duration time.Duration) {
	requestsTotal.WithLabelValues(operation, result).Inc()
	requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStepFailure records the step at which a request failed.
func RecordStepFailure(step string) {
	stepFailuresTotal.WithLabelValues(step).Inc()
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
