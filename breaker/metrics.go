package breaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by a set of breakers.
type Metrics struct {
	Calls        *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
	StateChanges *prometheus.CounterVec
	State        *prometheus.GaugeVec
	CallDuration *prometheus.HistogramVec
}

// NewMetrics registers the breaker collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	const namespace, subsystem = "sagaflow", "breaker"

	return &Metrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "calls_total",
			Help:      "Calls admitted by the circuit breaker, by outcome",
		}, []string{"name", "outcome"}),

		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejections_total",
			Help:      "Calls rejected while the circuit breaker was open or probing",
		}, []string{"name"}),

		StateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_changes_total",
			Help:      "Circuit breaker state transitions, by target state",
		}, []string{"name", "state"}),

		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),

		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "call_duration_seconds",
			Help:      "Duration of calls admitted by the circuit breaker",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "outcome"}),
	}
}

func (m *Metrics) recordCall(name string, o outcome, d time.Duration) {
	m.Calls.WithLabelValues(name, o.String()).Inc()
	m.CallDuration.WithLabelValues(name, o.String()).Observe(d.Seconds())
}

func (m *Metrics) recordRejection(name string) {
	m.Rejections.WithLabelValues(name).Inc()
}

func (m *Metrics) recordStateChange(name string, to State) {
	m.StateChanges.WithLabelValues(name, to.String()).Inc()
	m.setState(name, to)
}

func (m *Metrics) setState(name string, s State) {
	m.State.WithLabelValues(name).Set(float64(s))
}
