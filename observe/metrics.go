package observe

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fortressi/sagaflow"
)

const namespace = "sagaflow"

// MetricsListener records saga and step outcomes as Prometheus metrics.
type MetricsListener struct {
	SagasStarted  *prometheus.CounterVec
	SagasFinished *prometheus.CounterVec
	SagasInFlight *prometheus.GaugeVec
	SagaDuration  *prometheus.HistogramVec
	Steps         *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	Compensations *prometheus.CounterVec
}

// NewMetricsListener registers the saga collectors with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetricsListener(reg prometheus.Registerer) *MetricsListener {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsListener{
		SagasStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_started_total",
			Help:      "Sagas started, by saga name",
		}, []string{"saga"}),

		SagasFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_finished_total",
			Help:      "Sagas finished, by saga name and terminal status",
		}, []string{"saga", "status"}),

		SagasInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "saga_in_flight",
			Help:      "Sagas currently running or compensating",
		}, []string{"saga"}),

		SagaDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "saga_duration_seconds",
			Help:      "Wall time from saga start to terminal status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"saga", "status"}),

		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_total",
			Help:      "Forward step executions, by outcome",
		}, []string{"saga", "step", "outcome"}),

		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of forward step executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"saga", "step"}),

		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_total",
			Help:      "Step compensations, by outcome",
		}, []string{"saga", "step", "outcome"}),
	}
}

// abortedStatus labels sagas that ended on an internal defect.
const abortedStatus = "ABORTED"

// OnEvent implements sagaflow.Listener.
func (m *MetricsListener) OnEvent(_ context.Context, e sagaflow.Event) {
	switch e.Type {
	case sagaflow.EventSagaStarted:
		m.SagasStarted.WithLabelValues(e.SagaName).Inc()
		m.SagasInFlight.WithLabelValues(e.SagaName).Inc()
	case sagaflow.EventStepCompleted:
		m.Steps.WithLabelValues(e.SagaName, e.StepName, "success").Inc()
		m.StepDuration.WithLabelValues(e.SagaName, e.StepName).Observe(e.Duration.Seconds())
	case sagaflow.EventStepFailed:
		m.Steps.WithLabelValues(e.SagaName, e.StepName, "failure").Inc()
		m.StepDuration.WithLabelValues(e.SagaName, e.StepName).Observe(e.Duration.Seconds())
	case sagaflow.EventCompensationStepCompleted:
		m.Compensations.WithLabelValues(e.SagaName, e.StepName, "success").Inc()
	case sagaflow.EventCompensationStepFailed:
		m.Compensations.WithLabelValues(e.SagaName, e.StepName, "failure").Inc()
	case sagaflow.EventSagaCompleted:
		status := e.SagaStatus.String()
		m.SagasFinished.WithLabelValues(e.SagaName, status).Inc()
		m.SagasInFlight.WithLabelValues(e.SagaName).Dec()
		m.SagaDuration.WithLabelValues(e.SagaName, status).Observe(e.Duration.Seconds())
	case sagaflow.EventSagaAborted:
		m.SagasFinished.WithLabelValues(e.SagaName, abortedStatus).Inc()
		m.SagasInFlight.WithLabelValues(e.SagaName).Dec()
	}
}
