package metrics

import (
	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// GuardMetrics tracks the components that reject or shed traffic.
//
// Metrics:
//   - chatrelay_session_transitions_total: lifecycle changes by from, to and reason
//   - chatrelay_ratelimit_denied_total: denied requests by scope
//   - chatrelay_breaker_state: 0 closed, 1 half-open, 2 open
//   - chatrelay_breaker_transitions_total: state changes by target state
//   - chatrelay_threat_assessments_total: suspicious and terminated assessments
//   - chatrelay_threat_content_signals_total: advisory bot and spam signals
type GuardMetrics struct {
	sessionTransitions *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	assessments        *prometheus.CounterVec
	contentSignals     *prometheus.CounterVec
}

// NewGuardMetrics creates and registers guard metrics.
func NewGuardMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GuardMetrics {
	gm := &GuardMetrics{
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session lifecycle transitions",
		}, []string{"from", "to", "reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Requests denied by the rate limiter",
		}, []string{"scope"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state changes",
		}, []string{"name", "to"}),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "threat",
			Name:      "assessments_total",
			Help:      "Anomaly assessments above the suspicious threshold",
		}, []string{"outcome"}),
		contentSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "threat",
			Name:      "content_signals_total",
			Help:      "Advisory content signals",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		gm.sessionTransitions,
		gm.rateLimited,
		gm.breakerState,
		gm.breakerTransitions,
		gm.assessments,
		gm.contentSignals,
	)
	return gm
}

func (gm *GuardMetrics) setBreakerState(name string, s breaker.State) {
	var v float64
	switch s {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	gm.breakerState.WithLabelValues(name).Set(v)
}
