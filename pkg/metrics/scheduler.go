package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics records delayed job executions.
type SchedulerMetrics struct {
	executions *prometheus.CounterVec
	lag        *prometheus.HistogramVec
}

// NewSchedulerMetrics registers the scheduler metrics on the provided registerer.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_executions_total",
		Help:      "Delayed job executions by job name and outcome.",
	}, []string{"job", "outcome"})
	lag := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_lag_seconds",
		Help:      "Delay between a job's due time and its execution.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"job"})
	reg.MustRegister(executions, lag)
	return &SchedulerMetrics{executions: executions, lag: lag}
}

// ObserveExecution counts one job run.
func (s *SchedulerMetrics) ObserveExecution(job, outcome string) {
	if s == nil || s.executions == nil {
		return
	}
	s.executions.WithLabelValues(normalizeLabel(job), normalizeLabel(outcome)).Inc()
}

// ObserveLag records how late a job ran relative to its due time.
func (s *SchedulerMetrics) ObserveLag(job string, lag time.Duration) {
	if s == nil || s.lag == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	s.lag.WithLabelValues(normalizeLabel(job)).Observe(lag.Seconds())
}
