// Package metrics holds the Prometheus collectors for the payment service.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "umkhondo"

// Metrics groups the service counters.
type Metrics struct {
	paymentsInitiated *prometheus.CounterVec
	callbacks         *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	tokenRefreshes    prometheus.Counter
	upstreamFailures  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		paymentsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_initiated_total",
			Help:      "Payment initiations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Inbound callbacks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Applied terminal status transitions.",
		}, []string{"status"}),
		tokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token handshakes performed.",
		}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Failed calls to the payment network by operation.",
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{
		m.paymentsInitiated, m.callbacks, m.transitions, m.tokenRefreshes, m.upstreamFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) PaymentInitiated(kind, outcome string) {
	if m == nil {
		return
	}
	m.paymentsInitiated.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Callback(kind, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) TokenRefreshed() {
	if m == nil {
		return
	}
	m.tokenRefreshes.Inc()
}

func (m *Metrics) UpstreamFailure(operation string) {
	if m == nil {
		return
	}
	m.upstreamFailures.WithLabelValues(operation).Inc()
}
