package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	gradingRequestsTotal  *prometheus.CounterVec
	gradingFailuresTotal  *prometheus.CounterVec
	gradingLatencySeconds prometheus.Histogram
	gradebookPushesTotal  *prometheus.CounterVec
	syncOperationsTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "astra_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		gradingRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_grading_requests_total",
			Help: "Grading exchanges with the exercise service by outcome.",
		}, []string{"outcome"})

		gradingFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_grading_failures_total",
			Help: "Failed grading exchanges by error kind.",
		}, []string{"kind"})

		gradingLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "astra_grading_latency_seconds",
			Help:    "Duration of grading exchanges with the exercise service.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		})

		gradebookPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_gradebook_pushes_total",
			Help: "Writes sent to the gradebook sink by kind.",
		}, []string{"kind"})

		syncOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astra_sync_operations_total",
			Help: "Learning object operations performed by structure synchronization.",
		}, []string{"operation"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			gradingRequestsTotal,
			gradingFailuresTotal,
			gradingLatencySeconds,
			gradebookPushesTotal,
			syncOperationsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradingRequests counts grading exchanges labelled graded, waiting or failed.
func GradingRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRequestsTotal
}

// GradingFailures counts grading failures by kind (connection, service, validation, timeout).
func GradingFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingFailuresTotal
}

// GradingLatency exposes the grading exchange latency histogram.
func GradingLatency() prometheus.Histogram {
	RegisterMetrics()
	return gradingLatencySeconds
}

// GradebookPushes counts gradebook writes labelled grades or item.
func GradebookPushes() *prometheus.CounterVec {
	RegisterMetrics()
	return gradebookPushesTotal
}

// SyncOperations counts synchronization operations labelled created, updated, hidden, deleted or failed.
func SyncOperations() *prometheus.CounterVec {
	RegisterMetrics()
	return syncOperationsTotal
}
