package sagaflow

import (
	"context"
	"fmt"
	"time"
)

// EventType identifies a status transition emitted by the orchestrator.
type EventType int

const (
	EventSagaStarted EventType = iota
	EventStepStarted
	EventStepCompleted
	EventStepFailed
	EventCompensationStarted
	EventCompensationStepStarted
	EventCompensationStepCompleted
	EventCompensationStepFailed
	EventCompensationCompleted
	EventSagaCompleted
	// EventSagaAborted closes a saga that Execute gave up on because of an
	// internal defect. No EventSagaCompleted follows it.
	EventSagaAborted
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	switch t {
	case EventSagaStarted:
		return "saga_started"
	case EventStepStarted:
		return "step_started"
	case EventStepCompleted:
		return "step_completed"
	case EventStepFailed:
		return "step_failed"
	case EventCompensationStarted:
		return "compensation_started"
	case EventCompensationStepStarted:
		return "compensation_step_started"
	case EventCompensationStepCompleted:
		return "compensation_step_completed"
	case EventCompensationStepFailed:
		return "compensation_step_failed"
	case EventCompensationCompleted:
		return "compensation_completed"
	case EventSagaCompleted:
		return "saga_completed"
	case EventSagaAborted:
		return "saga_aborted"
	default:
		return fmt.Sprintf("Unknown EventType: %d", int(t))
	}
}

// Event is one entry in the stream of saga status transitions.
//
// StepIndex is -1 for saga-level events. Duration is set on events that
// close a step, a compensation, or the saga itself.
type Event struct {
	Type       EventType
	SagaID     string
	SagaName   string
	StepIndex  int
	StepName   string
	SagaStatus SagaStatus
	StepStatus StepStatus
	Err        error
	Time       time.Time
	Duration   time.Duration
}

// String implements the fmt.Stringer interface for Event.
func (e Event) String() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("%s %s %s", e.SagaID, e.Type, e.SagaStatus)
	}
	return fmt.Sprintf("%s S%03d %s %s", e.SagaID, e.StepIndex, e.StepName, e.Type)
}

// Listener consumes saga events. OnEvent is called synchronously from the
// goroutine running the saga and must not block for long.
type Listener interface {
	OnEvent(ctx context.Context, event Event)
}

// ListenerFunc adapts an ordinary function to the Listener interface.
type ListenerFunc func(ctx context.Context, event Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ctx context.Context, event Event) {
	f(ctx, event)
}

// Listeners fans one event out to several listeners in order.
type Listeners []Listener

// OnEvent implements Listener.
func (ls Listeners) OnEvent(ctx context.Context, event Event) {
	for _, l := range ls {
		l.OnEvent(ctx, event)
	}
}
