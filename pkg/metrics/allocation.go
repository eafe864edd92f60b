package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AllocationMetrics counts allocation outcomes.
type AllocationMetrics struct {
	results     *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	escalations prometheus.Counter
}

// NewAllocationMetrics registers the allocation metrics on the provided registerer.
func NewAllocationMetrics(reg prometheus.Registerer) *AllocationMetrics {
	if reg == nil {
		return &AllocationMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocation",
		Name:      "results_total",
		Help:      "Allocation attempts by method and result status.",
	}, []string{"method", "status"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocation",
		Name:      "candidate_resolutions_total",
		Help:      "Candidate transitions out of the outstanding state by outcome.",
	}, []string{"outcome"})
	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocation",
		Name:      "escalations_total",
		Help:      "Orders escalated to operators after the expanded retry failed.",
	})
	reg.MustRegister(results, resolutions, escalations)
	return &AllocationMetrics{
		results:     results,
		resolutions: resolutions,
		escalations: escalations,
	}
}

// ObserveResult counts one allocation entry point outcome.
func (a *AllocationMetrics) ObserveResult(method, status string) {
	if a == nil || a.results == nil {
		return
	}
	a.results.WithLabelValues(normalizeLabel(method), normalizeLabel(status)).Inc()
}

// ObserveResolution counts a candidate leaving the outstanding state.
func (a *AllocationMetrics) ObserveResolution(outcome string) {
	if a == nil || a.resolutions == nil {
		return
	}
	a.resolutions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (a *AllocationMetrics) IncEscalation() {
	if a == nil || a.escalations == nil {
		return
	}
	a.escalations.Inc()
}
