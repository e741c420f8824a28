package orders

import "github.com/prometheus/client_golang/prometheus"

// Metrics are optional; a nil *Metrics records nothing.
type Metrics struct {
	created     prometheus.Counter
	transitions *prometheus.CounterVec
	restored    prometheus.Counter
	mismatches  prometheus.Counter
	mirrorErrs  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "orders", Name: "created_total",
			Help: "Orders created through checkout.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "orders", Name: "status_transitions_total",
			Help: "Status writes by target status and outcome.",
		}, []string{"status", "outcome"}),
		restored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "orders", Name: "restored_from_mirror_total",
			Help: "Orders rebuilt from the local mirror during a status change.",
		}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "orders", Name: "verify_mismatch_total",
			Help: "Status re-reads that did not match the written value.",
		}),
		mirrorErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "orders", Name: "mirror_errors_total",
			Help: "Failed best-effort mirror writes.",
		}),
	}
	reg.MustRegister(m.created, m.transitions, m.restored, m.mismatches, m.mirrorErrs)
	return m
}

func (m *Metrics) orderCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *Metrics) transition(s Status, outcome string) {
	if m != nil {
		m.transitions.WithLabelValues(string(s), outcome).Inc()
	}
}

func (m *Metrics) restoredFromMirror() {
	if m != nil {
		m.restored.Inc()
	}
}

func (m *Metrics) verifyMismatch() {
	if m != nil {
		m.mismatches.Inc()
	}
}

func (m *Metrics) mirrorError() {
	if m != nil {
		m.mirrorErrs.Inc()
	}
}
