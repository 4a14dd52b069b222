package ticketflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's prometheus collectors. Pass nil as the
// registerer to keep the collectors unregistered (useful in tests).
type Metrics struct {
	AbilityAttempts  *prometheus.CounterVec
	AbilityDuration  *prometheus.HistogramVec
	StageTransitions *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	Escalations      prometheus.Counter
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AbilityAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketflow",
			Name:      "ability_attempts_total",
			Help:      "Ability execution attempts by ability name and outcome.",
		}, []string{"ability", "outcome"}),
		AbilityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketflow",
			Name:      "ability_duration_seconds",
			Help:      "Wall-clock duration of individual ability attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "ability"}),
		StageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketflow",
			Name:      "stage_transitions_total",
			Help:      "Stage transitions by stage name.",
		}, []string{"stage"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketflow",
			Name:      "runs_total",
			Help:      "Workflow runs by terminal status.",
		}, []string{"status"}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketflow",
			Name:      "escalations_total",
			Help:      "Runs routed to human escalation by the DECIDE stage.",
		}),
	}
}

func (m *Metrics) observeAttempt(stage Stage, ability string, outcome OutcomeKind, seconds float64) {
	if m == nil {
		return
	}
	m.AbilityAttempts.WithLabelValues(ability, string(outcome)).Inc()
	m.AbilityDuration.WithLabelValues(string(stage), ability).Observe(seconds)
}

func (m *Metrics) observeTransition(stage Stage) {
	if m == nil {
		return
	}
	m.StageTransitions.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) observeRun(status RunStatus) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
	if status == RunEscalated {
		m.Escalations.Inc()
	}
}
