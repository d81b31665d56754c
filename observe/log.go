package observe

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fortressi/sagaflow"
)

// LogListener writes one structured log entry per saga event.
type LogListener struct {
	logger *zap.Logger
}

func NewLogListener(logger *zap.Logger) *LogListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogListener{logger: logger.Named("saga")}
}

// OnEvent implements sagaflow.Listener.
func (l *LogListener) OnEvent(ctx context.Context, e sagaflow.Event) {
	level := eventLevel(e)
	ce := l.logger.Check(level, e.Type.String())
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.String("saga_id", e.SagaID),
		zap.String("saga", e.SagaName),
		zap.Stringer("saga_status", e.SagaStatus),
	}
	if e.StepIndex >= 0 {
		fields = append(fields,
			zap.Int("step_index", e.StepIndex),
			zap.String("step", e.StepName),
			zap.Stringer("step_status", e.StepStatus),
		)
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	ce.Write(fields...)
}

func eventLevel(e sagaflow.Event) zapcore.Level {
	switch e.Type {
	case sagaflow.EventSagaStarted:
		return zapcore.InfoLevel
	case sagaflow.EventSagaCompleted:
		if e.SagaStatus == sagaflow.SagaCompleted {
			return zapcore.InfoLevel
		}
		return zapcore.WarnLevel
	case sagaflow.EventStepFailed, sagaflow.EventCompensationStarted:
		return zapcore.WarnLevel
	case sagaflow.EventCompensationStepFailed, sagaflow.EventSagaAborted:
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}
