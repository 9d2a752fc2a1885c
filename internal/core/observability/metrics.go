package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	obsQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obs_queries_total",
			Help: "Observation queries by archive family and outcome.",
		},
		[]string{"family", "outcome"},
	)

	obsQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obs_query_duration_seconds",
			Help:    "Duration of observation queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"family"},
	)

	obsRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obs_records_total",
			Help: "Observation records read from archives.",
		},
		[]string{"family"},
	)

	obsRecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obs_records_skipped_total",
			Help: "Malformed observation records skipped while reading.",
		},
		[]string{"family"},
	)

	processExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "process_executions_total",
			Help: "Process executions by process id and outcome.",
		},
		[]string{"process", "outcome"},
	)

	processDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "process_execution_duration_seconds",
			Help:    "Duration of process executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"process"},
	)

	runtimeAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runtime_available",
			Help: "1 when the foreign runtime and its packages are usable.",
		},
		[]string{"runtime"},
	)

	runtimeBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runtime_breaker_state",
			Help: "Circuit breaker state for runtime calls (0 closed, 1 half-open, 2 open).",
		},
		[]string{"runtime"},
	)

	jobStoreOps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_store_op_duration_seconds",
			Help:    "Job store operation latency by op and result.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend", "op", "result"},
	)

	jobEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_events_total",
			Help: "Job lifecycle events by outcome (sent, error, dropped).",
		},
		[]string{"outcome"},
	)

)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveObs records one observation query. outcome is "ok" or an error kind.
func ObserveObs(family, outcome string, records, skipped int, durationSeconds float64) {
	obsQueriesTotal.WithLabelValues(family, outcome).Inc()
	obsQueryDurationSeconds.WithLabelValues(family).Observe(durationSeconds)
	if records > 0 {
		obsRecordsTotal.WithLabelValues(family).Add(float64(records))
	}
	if skipped > 0 {
		obsRecordsSkippedTotal.WithLabelValues(family).Add(float64(skipped))
	}
}

func ObserveProcess(process, outcome string, durationSeconds float64) {
	processExecutionsTotal.WithLabelValues(process, outcome).Inc()
	processDurationSeconds.WithLabelValues(process).Observe(durationSeconds)
}

func SetRuntimeAvailable(runtime string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	runtimeAvailable.WithLabelValues(runtime).Set(v)
}

func SetBreakerState(runtime string, state int) {
	runtimeBreakerState.WithLabelValues(runtime).Set(float64(state))
}

// ObserveStoreOp records a job store call. A not-found lookup counts as "miss".
func ObserveStoreOp(backend, op string, err error, durationSeconds float64, notFound error) {
	result := "ok"
	switch {
	case err == nil:
	case notFound != nil && errors.Is(err, notFound):
		result = "miss"
	default:
		result = "error"
	}
	jobStoreOps.WithLabelValues(backend, op, result).Observe(durationSeconds)
}

func IncJobEvent(outcome string) {
	jobEventsTotal.WithLabelValues(outcome).Inc()
}
