// Package metrics exposes the coordinator's observability surface:
// signals processed/rejected by reason, claims granted/denied,
// expirations, exhausted attempt budgets and circuit state transitions.
// Served by whatever HTTP handler the hosting process mounts at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter the coordinator updates. Constructed once
// at process start and passed to each component; never a package global.
type Metrics struct {
	SignalsProcessed  prometheus.Counter
	SignalsRejected   *prometheus.CounterVec
	SignalsAdmitted   prometheus.Counter
	ClaimsGranted     prometheus.Counter
	ClaimsDenied      prometheus.Counter
	Expirations       prometheus.Counter
	AttemptsExhausted prometheus.Counter
	Executions        *prometheus.CounterVec
	CircuitState      *prometheus.CounterVec
	SweepsRun         *prometheus.CounterVec
	StoreDegraded     prometheus.Gauge
}

// New creates and registers the coordinator metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_signals_processed_total",
			Help: "Candidate signals received from producers",
		}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_signals_rejected_total",
			Help: "Candidates filtered out, by reason code",
		}, []string{"reason"}),
		SignalsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_signals_admitted_total",
			Help: "Candidates admitted to the execution queue",
		}),
		ClaimsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_claims_granted_total",
			Help: "Atomic execution claims granted",
		}),
		ClaimsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_claims_denied_total",
			Help: "Atomic execution claims denied to concurrent callers",
		}),
		Expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_signal_expirations_total",
			Help: "Signals dropped after their validity window elapsed",
		}),
		AttemptsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hermes_attempts_exhausted_total",
			Help: "Signals purged after exceeding the attempt budget",
		}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_executions_total",
			Help: "Execution hand-offs by outcome (filled|rejected|error)",
		}, []string{"outcome"}),
		CircuitState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_circuit_transitions_total",
			Help: "Circuit breaker state transitions by endpoint",
		}, []string{"endpoint", "state"}),
		SweepsRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_cleanup_sweeps_total",
			Help: "Background cleanup sweeps by kind (light|deep|forced)",
		}, []string{"kind"}),
		StoreDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hermes_store_degraded",
			Help: "1 when running on the in-process degraded store",
		}),
	}

	reg.MustRegister(
		m.SignalsProcessed, m.SignalsRejected, m.SignalsAdmitted,
		m.ClaimsGranted, m.ClaimsDenied, m.Expirations,
		m.AttemptsExhausted, m.Executions, m.CircuitState,
		m.SweepsRun, m.StoreDegraded,
	)
	return m
}

// NewUnregistered creates metrics bound to a throwaway registry, for
// tests and for components that do not export metrics
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
