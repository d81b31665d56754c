// Package observe provides sagaflow listeners that turn the orchestrator's
// event stream into structured logs, Prometheus metrics and OpenTelemetry
// spans.
//
//	orch := sagaflow.NewOrchestrator(registry,
//		sagaflow.WithListener(observe.NewLogListener(logger)),
//		sagaflow.WithListener(observe.NewMetricsListener(prometheus.DefaultRegisterer)),
//		sagaflow.WithListener(observe.NewTraceListener(otel.Tracer("sagaflow"))),
//	)
package observe
