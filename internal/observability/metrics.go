package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce      sync.Once
	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	gradingOutcomesTotal *prometheus.CounterVec
	gradingStageSeconds  *prometheus.HistogramVec
	gradingInFlight      prometheus.Gauge
	trainingRecordsTotal *prometheus.CounterVec
	errorFeedbackCleared prometheus.Counter
	gradingEventsTotal   *prometheus.CounterVec
	settingsCacheLookups *prometheus.CounterVec
	mlTrainingRunsTotal  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the grading pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		gradingOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_outcomes_total",
			Help: "Grading attempts by terminal state and reason.",
		}, []string{"state", "reason"})

		gradingStageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_stage_duration_seconds",
			Help:    "Time spent in each grading stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"})

		gradingInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_in_flight",
			Help: "Submissions currently being graded by this process.",
		})

		trainingRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "training_records_total",
			Help: "Training data record writes by result.",
		}, []string{"result"})

		mlTrainingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ml_training_runs_total",
			Help: "Model training runs by final status.",
		}, []string{"status"})

		errorFeedbackCleared = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_error_feedback_cleared_total",
			Help: "Submissions reset to pending by the error feedback sweep.",
		})

		gradingEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_events_published_total",
			Help: "Grading events published to the message bus by result.",
		}, []string{"subject", "result"})

		settingsCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_settings_cache_lookups_total",
			Help: "Tenant AI settings lookups by cache result.",
		}, []string{"result"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			gradingOutcomesTotal, gradingStageSeconds, gradingInFlight,
			trainingRecordsTotal, errorFeedbackCleared, gradingEventsTotal,
			settingsCacheLookups, mlTrainingRunsTotal,
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

// GradingOutcomes counts grading attempts by state and reason.
func GradingOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingOutcomesTotal
}

// GradingStageDuration observes time spent per grading stage.
func GradingStageDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingStageSeconds
}

// GradingInFlight tracks submissions currently being graded.
func GradingInFlight() prometheus.Gauge {
	RegisterMetrics()
	return gradingInFlight
}

// TrainingRecords counts training data writes.
func TrainingRecords() *prometheus.CounterVec {
	RegisterMetrics()
	return trainingRecordsTotal
}

// ErrorFeedbackCleared counts submissions reset by the sweep.
func ErrorFeedbackCleared() prometheus.Counter {
	RegisterMetrics()
	return errorFeedbackCleared
}

// GradingEvents counts published grading events.
func GradingEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingEventsTotal
}

// SettingsCacheLookups counts AI settings cache hits and misses.
func SettingsCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return settingsCacheLookups
}

// MLTrainingRuns counts model training runs by status.
func MLTrainingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return mlTrainingRunsTotal
}
