package observability

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal counts accepted form submissions.
	SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formgate_submissions_total",
		Help: "Number of form responses accepted for storage.",
	})

	// DecisionsTotal counts workflow decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formgate_decisions_total",
		Help: "Number of workflow decisions taken, labelled by outcome.",
	}, []string{"outcome"})

	// ConditionEvaluationsTotal counts conditional-rule evaluations by type.
	ConditionEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formgate_condition_evaluations_total",
		Help: "Number of question condition evaluations, labelled by conditional type.",
	}, []string{"type"})

	// RoleActionAbortsTotal counts role actions refused by a safety guard.
	RoleActionAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formgate_role_action_aborts_total",
		Help: "Number of role grant/revoke actions aborted by a guard check.",
	})
)

// RegisterMetricsEndpoint exposes Prometheus metrics on /metrics.
func RegisterMetricsEndpoint(router chi.Router) {
	router.Handle("/metrics", promhttp.Handler())
}
