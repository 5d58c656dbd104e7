package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	resultsProcessedTotal *prometheus.CounterVec
	gradingDuration       *prometheus.HistogramVec
	assessmentLocksTotal  *prometheus.CounterVec
	complaintsTotal       *prometheus.CounterVec
	policyPenaltiesTotal  *prometheus.CounterVec
	schedulerTasksTotal   *prometheus.CounterVec
	scheduledTasksActive  prometheus.Gauge
	resultStreamClients   prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors of the grading service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_api_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_api_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		resultsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_results_processed_total",
			Help: "Build results processed, labelled by outcome.",
		}, []string{"outcome"})

		gradingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_duration_seconds",
			Help:    "Time spent grading a build result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"assessment_type"})

		assessmentLocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_assessment_locks_total",
			Help: "Manual assessment lock transitions.",
		}, []string{"transition", "correction_round"})

		complaintsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_complaints_total",
			Help: "Complaints filed and resolved.",
		}, []string{"event"})

		policyPenaltiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_submission_policy_enforcements_total",
			Help: "Submission policy penalties and locks applied while grading.",
		}, []string{"policy_type"})

		schedulerTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_scheduler_tasks_total",
			Help: "Scheduler task events by phase.",
		}, []string{"phase", "event"})

		scheduledTasksActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_scheduler_tasks_active",
			Help: "Timers currently waiting to fire.",
		})

		resultStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_result_stream_clients",
			Help: "Websocket clients following live results.",
		})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			resultsProcessedTotal, gradingDuration, assessmentLocksTotal,
			complaintsTotal, policyPenaltiesTotal, schedulerTasksTotal, scheduledTasksActive,
			resultStreamClients,
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

// ResultsProcessed counts processed build results.
func ResultsProcessed() *prometheus.CounterVec {
	RegisterMetrics()
	return resultsProcessedTotal
}

// GradingDuration observes how long grading takes.
func GradingDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingDuration
}

// AssessmentLocks counts lock, submit and cancel transitions.
func AssessmentLocks() *prometheus.CounterVec {
	RegisterMetrics()
	return assessmentLocksTotal
}

// Complaints counts complaint events.
func Complaints() *prometheus.CounterVec {
	RegisterMetrics()
	return complaintsTotal
}

// PolicyEnforcements counts submission policy penalties and locks.
func PolicyEnforcements() *prometheus.CounterVec {
	RegisterMetrics()
	return policyPenaltiesTotal
}

// SchedulerTasks counts scheduled, cancelled and fired tasks.
func SchedulerTasks() *prometheus.CounterVec {
	RegisterMetrics()
	return schedulerTasksTotal
}

// ScheduledTasksActive tracks the number of pending timers.
func ScheduledTasksActive() prometheus.Gauge {
	RegisterMetrics()
	return scheduledTasksActive
}

// ResultStreamClients tracks connected live result clients.
func ResultStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return resultStreamClients
}
