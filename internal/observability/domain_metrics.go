package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datachat_pipeline_requests_total",
			Help: "Total number of chat pipeline requests by terminal outcome.",
		},
		[]string{"outcome"},
	)
	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datachat_pipeline_duration_seconds",
			Help:    "End-to-end chat pipeline latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
		},
	)
	generationAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datachat_generation_attempts_total",
			Help: "Total number of SQL generation attempts, including retries.",
		},
	)
	validatorRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datachat_validator_rejections_total",
			Help: "Total number of candidate SQL rejections by reason code.",
		},
		[]string{"reason"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datachat_query_cache_lookups_total",
			Help: "Total number of query cache lookups by result.",
		},
		[]string{"result"},
	)
	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datachat_query_execution_duration_seconds",
			Help:    "Warehouse query execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	executorBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datachat_executor_busy_total",
			Help: "Total number of executions rejected because the pool was exhausted.",
		},
	)
	sessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datachat_sessions_started_total",
			Help: "Total number of conversation sessions created.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRequestsTotal,
		pipelineDurationSeconds,
		generationAttemptsTotal,
		validatorRejectionsTotal,
		cacheLookupsTotal,
		executionDurationSeconds,
		executorBusyTotal,
		sessionsStartedTotal,
	)
}

func ObservePipelineRequest(outcome string, elapsed time.Duration) {
	pipelineRequestsTotal.WithLabelValues(outcome).Inc()
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementGenerationAttempt() {
	generationAttemptsTotal.Inc()
}

func IncrementValidatorRejection(reason string) {
	validatorRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

func ObserveExecution(elapsed time.Duration) {
	executionDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementExecutorBusy() {
	executorBusyTotal.Inc()
}

func IncrementSessionStarted() {
	sessionsStartedTotal.Inc()
}
