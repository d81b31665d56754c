package observe

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fortressi/sagaflow"
)

const instrumentationName = "github.com/fortressi/sagaflow"

type spanKey struct {
	sagaID     string
	step       int
	compensate bool
}

// TraceListener turns a saga run into an OpenTelemetry span tree: one span
// for the saga, a child span per forward step and a child span per
// compensation. The saga span is parented on the span in the context given
// to Execute, if any.
type TraceListener struct {
	tracer trace.Tracer
	spans  *xsync.MapOf[spanKey, trace.Span]
}

// NewTraceListener creates a listener that starts spans with tracer. A nil
// tracer uses the global tracer provider.
func NewTraceListener(tracer trace.Tracer) *TraceListener {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &TraceListener{
		tracer: tracer,
		spans:  xsync.NewMapOf[spanKey, trace.Span](),
	}
}

// OnEvent implements sagaflow.Listener.
func (t *TraceListener) OnEvent(ctx context.Context, e sagaflow.Event) {
	sagaKey := spanKey{sagaID: e.SagaID, step: -1}

	switch e.Type {
	case sagaflow.EventSagaStarted:
		_, span := t.tracer.Start(ctx, "saga "+e.SagaName,
			trace.WithTimestamp(e.Time),
			trace.WithAttributes(
				attribute.String("saga.id", e.SagaID),
				attribute.String("saga.name", e.SagaName),
			),
		)
		t.spans.Store(sagaKey, span)

	case sagaflow.EventStepStarted:
		t.startStep(ctx, e, spanKey{sagaID: e.SagaID, step: e.StepIndex}, "step ")

	case sagaflow.EventCompensationStepStarted:
		t.startStep(ctx, e, spanKey{sagaID: e.SagaID, step: e.StepIndex, compensate: true}, "compensate ")

	case sagaflow.EventStepCompleted:
		t.endStep(e, spanKey{sagaID: e.SagaID, step: e.StepIndex})

	case sagaflow.EventCompensationStepCompleted, sagaflow.EventCompensationStepFailed:
		t.endStep(e, spanKey{sagaID: e.SagaID, step: e.StepIndex, compensate: true})

	case sagaflow.EventStepFailed:
		key := spanKey{sagaID: e.SagaID, step: e.StepIndex}
		if _, ok := t.spans.Load(key); ok {
			t.endStep(e, key)
			return
		}
		// The step never started, e.g. the saga was cancelled.
		t.annotate(sagaKey, e)

	case sagaflow.EventCompensationStarted, sagaflow.EventCompensationCompleted:
		t.annotate(sagaKey, e)

	case sagaflow.EventSagaCompleted:
		span, ok := t.spans.LoadAndDelete(sagaKey)
		if !ok {
			return
		}
		span.SetAttributes(attribute.String("saga.status", e.SagaStatus.String()))
		if e.SagaStatus == sagaflow.SagaCompensated {
			span.SetStatus(codes.Error, "saga compensated")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End(trace.WithTimestamp(e.Time))

	case sagaflow.EventSagaAborted:
		t.abort(e)
	}
}

// abort ends every span still open for the saga, children first.
func (t *TraceListener) abort(e sagaflow.Event) {
	var keys []spanKey
	t.spans.Range(func(k spanKey, _ trace.Span) bool {
		if k.sagaID == e.SagaID && k.step >= 0 {
			keys = append(keys, k)
		}
		return true
	})
	keys = append(keys, spanKey{sagaID: e.SagaID, step: -1})

	for _, k := range keys {
		span, ok := t.spans.LoadAndDelete(k)
		if !ok {
			continue
		}
		if e.Err != nil {
			span.RecordError(e.Err, trace.WithTimestamp(e.Time))
		}
		span.SetStatus(codes.Error, "saga aborted")
		span.End(trace.WithTimestamp(e.Time))
	}
}

func (t *TraceListener) startStep(ctx context.Context, e sagaflow.Event, key spanKey, prefix string) {
	if parent, ok := t.spans.Load(spanKey{sagaID: e.SagaID, step: -1}); ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}
	_, span := t.tracer.Start(ctx, prefix+e.StepName,
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(
			attribute.String("saga.id", e.SagaID),
			attribute.Int("saga.step.index", e.StepIndex),
			attribute.String("saga.step.name", e.StepName),
		),
	)
	t.spans.Store(key, span)
}

func (t *TraceListener) endStep(e sagaflow.Event, key spanKey) {
	span, ok := t.spans.LoadAndDelete(key)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("saga.step.status", e.StepStatus.String()))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (t *TraceListener) annotate(key spanKey, e sagaflow.Event) {
	span, ok := t.spans.Load(key)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("saga.status", e.SagaStatus.String())}
	if e.StepIndex >= 0 {
		attrs = append(attrs,
			attribute.Int("saga.step.index", e.StepIndex),
			attribute.String("saga.step.name", e.StepName),
		)
	}
	span.AddEvent(e.Type.String(), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
	if e.Err != nil {
		span.RecordError(e.Err, trace.WithTimestamp(e.Time))
	}
}
