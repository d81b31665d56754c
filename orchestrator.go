package sagaflow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/fortressi/sagaflow/set"
)

// Orchestrator runs sagas over a caller-defined context type C.
//
// An Orchestrator holds no per-saga state and may run any number of sagas
// concurrently; each saga itself runs its steps strictly one at a time.
type Orchestrator[C any] struct {
	registry *Registry[C]
	opts     options
}

// NewOrchestrator creates an orchestrator that records its sagas in registry.
func NewOrchestrator[C any](registry *Registry[C], opts ...Option) *Orchestrator[C] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator[C]{
		registry: registry,
		opts:     o,
	}
}

// Registry returns the registry the orchestrator records sagas in.
func (o *Orchestrator[C]) Registry() *Registry[C] {
	return o.registry
}

// Execute runs steps in order, threading the saga context from initial
// through every step.
//
// A failing step never produces an error: the step is recorded as failed,
// every completed step before it is compensated in reverse order, and the
// returned state has status SagaCompensated. Inspect state.Status and the
// per-step errors to detect failure.
//
// The returned error is reserved for defects: invalid input, a closed
// registry, or an illegal internal state transition. In that case the
// state is nil.
//
// ctx is checked before each step. Once it is done the next step fails
// with the context's error and compensation begins. Compensation itself
// ignores cancellation of ctx.
func (o *Orchestrator[C]) Execute(ctx context.Context, name string, steps []Step[C], initial C) (*SagaState[C], error) {
	if err := validateSaga(name, steps); err != nil {
		return nil, err
	}
	if o.registry == nil {
		return nil, bookkeepingError("orchestrator has no registry")
	}

	state := newSagaState(o.opts.newID(), name, steps, initial, o.opts.now())
	entry, err := o.registry.insert(state)
	if err != nil {
		return nil, fmt.Errorf("register saga %q: %w", name, err)
	}

	run := &sagaRun[C]{
		o:       o,
		id:      state.ID,
		name:    name,
		steps:   steps,
		entry:   entry,
		sagaCtx: initial,
		started: state.StartedAt,
	}
	o.warnDuplicateNames(run)

	final, err := run.forward(ctx)
	o.registry.scheduleRemoval(run.id, entry)
	if err != nil {
		o.opts.logger.Error("saga aborted by internal error",
			zap.String("saga_id", run.id),
			zap.String("saga", name),
			zap.Error(err),
		)
		run.emit(context.WithoutCancel(ctx), Event{
			Type:       EventSagaAborted,
			StepIndex:  -1,
			SagaStatus: entry.snapshot().Status,
			Err:        err,
			Duration:   o.opts.now().Sub(run.started),
		})
		return nil, err
	}
	return final, nil
}

func validateSaga[C any](name string, steps []Step[C]) error {
	if name == "" {
		return ErrEmptySagaName
	}
	if len(steps) == 0 {
		return ErrNoSteps
	}
	for i, step := range steps {
		if isNil(step) {
			return fmt.Errorf("%w: index %d", ErrNilStep, i)
		}
	}
	return nil
}

// isNil also catches a nil pointer stored in the Step interface, which
// would otherwise panic on its first method call.
func isNil[C any](step Step[C]) bool {
	if step == nil {
		return true
	}
	v := reflect.ValueOf(step)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (o *Orchestrator[C]) warnDuplicateNames(run *sagaRun[C]) {
	var seen set.Set[string]
	for i, step := range run.steps {
		if !seen.Add(step.Name()) {
			o.opts.logger.Warn("duplicate step name in saga",
				zap.String("saga_id", run.id),
				zap.String("saga", run.name),
				zap.String("step", step.Name()),
				zap.Int("index", i),
			)
		}
	}
}

// sagaRun is the mutable bookkeeping of one Execute call.
type sagaRun[C any] struct {
	o       *Orchestrator[C]
	id      string
	name    string
	steps   []Step[C]
	entry   *registryEntry[C]
	sagaCtx C
	started time.Time
}

func (r *sagaRun[C]) forward(ctx context.Context) (*SagaState[C], error) {
	r.emit(ctx, Event{Type: EventSagaStarted, StepIndex: -1, SagaStatus: SagaRunning})

	for i, step := range r.steps {
		startedAt := r.o.opts.now()
		if err := r.transition(i, StepRunning, func(res *StepResult, s *SagaState[C]) {
			s.CurrentStep = i
			res.StartedAt = startedAt
		}); err != nil {
			return nil, err
		}

		// A cancelled saga still goes through RUNNING so the step's
		// record follows the normal lifecycle.
		if err := ctx.Err(); err != nil {
			return r.failStep(ctx, i, startedAt, err)
		}

		r.emit(ctx, Event{Type: EventStepStarted, StepIndex: i, StepName: step.Name(), StepStatus: StepRunning, SagaStatus: SagaRunning})

		next, err := step.Execute(ctx, r.sagaCtx)
		if err != nil {
			return r.failStep(ctx, i, startedAt, err)
		}

		r.sagaCtx = next
		completedAt := r.o.opts.now()
		if err := r.transition(i, StepCompleted, func(res *StepResult, s *SagaState[C]) {
			res.CompletedAt = &completedAt
			s.Context = next
		}); err != nil {
			return nil, err
		}
		r.emit(ctx, Event{
			Type:       EventStepCompleted,
			StepIndex:  i,
			StepName:   step.Name(),
			StepStatus: StepCompleted,
			SagaStatus: SagaRunning,
			Duration:   completedAt.Sub(startedAt),
		})
	}

	completedAt := r.o.opts.now()
	if err := r.setSagaStatus(SagaCompleted, func(s *SagaState[C]) {
		s.CompletedAt = &completedAt
	}); err != nil {
		return nil, err
	}
	r.emit(ctx, Event{
		Type:       EventSagaCompleted,
		StepIndex:  -1,
		SagaStatus: SagaCompleted,
		Duration:   completedAt.Sub(r.started),
	})
	return r.entry.snapshot(), nil
}

// failStep records the failure of step i and hands over to compensation.
func (r *sagaRun[C]) failStep(ctx context.Context, i int, startedAt time.Time, cause error) (*SagaState[C], error) {
	if err := r.transition(i, StepFailed, func(res *StepResult, _ *SagaState[C]) {
		res.Error = cause.Error()
	}); err != nil {
		return nil, err
	}
	if err := r.setSagaStatus(SagaFailed, nil); err != nil {
		return nil, err
	}
	r.emit(ctx, Event{
		Type:       EventStepFailed,
		StepIndex:  i,
		StepName:   r.steps[i].Name(),
		StepStatus: StepFailed,
		SagaStatus: SagaFailed,
		Err:        &StepError{Index: i, Name: r.steps[i].Name(), Err: cause},
		Duration:   r.o.opts.now().Sub(startedAt),
	})
	return r.compensate(ctx, i)
}

// transition moves step i to status want, applying fn under the entry lock.
func (r *sagaRun[C]) transition(i int, want StepStatus, fn func(*StepResult, *SagaState[C])) error {
	return r.entry.update(func(s *SagaState[C]) error {
		if i < 0 || i >= len(s.Steps) {
			return bookkeepingError("step index %d out of range [0, %d)", i, len(s.Steps))
		}
		res := &s.Steps[i]
		next, err := res.Status.next(want)
		if err != nil {
			return bookkeepingError("saga %s step %d (%s): %v", s.ID, i, res.Name, err)
		}
		res.Status = next
		if fn != nil {
			fn(res, s)
		}
		return nil
	})
}

func (r *sagaRun[C]) setSagaStatus(want SagaStatus, fn func(*SagaState[C])) error {
	return r.entry.update(func(s *SagaState[C]) error {
		next, err := s.Status.next(want)
		if err != nil {
			return bookkeepingError("saga %s: %v", s.ID, err)
		}
		s.Status = next
		if fn != nil {
			fn(s)
		}
		return nil
	})
}

func (r *sagaRun[C]) stepStatus(i int) StepStatus {
	r.entry.mu.RLock()
	defer r.entry.mu.RUnlock()
	return r.entry.state.Steps[i].Status
}

func (r *sagaRun[C]) emit(ctx context.Context, event Event) {
	if len(r.o.opts.listeners) == 0 {
		return
	}
	event.SagaID = r.id
	event.SagaName = r.name
	if event.Time.IsZero() {
		event.Time = r.o.opts.now()
	}
	r.o.opts.listeners.OnEvent(ctx, event)
}
