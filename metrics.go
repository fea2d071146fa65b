package parallelize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSucceeded       = "succeeded"
	outcomeLaunchFailed    = "launch_failed"
	outcomeExecutionFailed = "execution_failed"

	scopeWorker = "worker"
	scopeRoot   = "root"
)

var (
	// PromBatchesStarted counts batches whose workers were launched
	PromBatchesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parallelize_batches_started_total",
			Help: "Number of batches started",
		},
		[]string{"runner"},
	)
	// PromUnits counts units by terminal outcome
	PromUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parallelize_units_total",
			Help: "Number of units that reached a terminal state, by outcome",
		},
		[]string{"runner", "outcome"},
	)
	// PromRollbacks counts rollback hook invocations by scope and result
	PromRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parallelize_rollbacks_total",
			Help: "Number of rollback hook invocations, by scope and result",
		},
		[]string{"runner", "scope", "result"},
	)
	// PromRunDuration observes run durations by final state
	PromRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parallelize_run_duration_seconds",
			Help:    "Duration of batched runs in seconds, by final state",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"runner", "state"},
	)
)

// MetricLabeler records run metrics under one runner label. A nil labeler or
// one with an empty name records nothing.
type MetricLabeler struct {
	runner string
}

// NewMetricLabeler creates a labeler for the named runner
func NewMetricLabeler(runner string) *MetricLabeler {
	return &MetricLabeler{runner: runner}
}

// NewNoopMetricLabeler creates a labeler that doesn't record metrics
func NewNoopMetricLabeler() *MetricLabeler {
	return &MetricLabeler{}
}

func (m *MetricLabeler) enabled() bool {
	return m != nil && m.runner != ""
}

// IncrementBatchesStarted counts one started batch
func (m *MetricLabeler) IncrementBatchesStarted() {
	if !m.enabled() {
		return
	}
	PromBatchesStarted.WithLabelValues(m.runner).Inc()
}

// IncrementUnits counts one unit with the given outcome
func (m *MetricLabeler) IncrementUnits(outcome string) {
	if !m.enabled() {
		return
	}
	PromUnits.WithLabelValues(m.runner, outcome).Inc()
}

// IncrementRollbacks counts one rollback hook invocation
func (m *MetricLabeler) IncrementRollbacks(scope string, ok bool) {
	if !m.enabled() {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	PromRollbacks.WithLabelValues(m.runner, scope, result).Inc()
}

// RecordRunDuration observes the duration of a run that ended in state
func (m *MetricLabeler) RecordRunDuration(duration time.Duration, state State) {
	if !m.enabled() {
		return
	}
	PromRunDuration.WithLabelValues(m.runner, state.String()).Observe(duration.Seconds())
}
