package sagaflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortressi/sagaflow/set"
)

// compensate undoes the completed steps before failedIndex in reverse order.
//
// A failing compensation is recorded on its step and logged, and the walk
// continues with the earlier steps: an unwind that was attempted in full
// leaves less behind than one that stopped halfway. The saga always ends
// in SagaCompensated; callers tell partial from full rollback through the
// per-step errors.
func (r *sagaRun[C]) compensate(ctx context.Context, failedIndex int) (*SagaState[C], error) {
	ctx = context.WithoutCancel(ctx)
	compensationStarted := r.o.opts.now()

	if err := r.setSagaStatus(SagaCompensating, nil); err != nil {
		return nil, err
	}
	r.emit(ctx, Event{Type: EventCompensationStarted, StepIndex: failedIndex, StepName: r.steps[failedIndex].Name(), SagaStatus: SagaCompensating})

	var compensated set.Set[int]
	var failures int
	for i := failedIndex - 1; i >= 0; i-- {
		if r.stepStatus(i) != StepCompleted || !compensated.Add(i) {
			continue
		}
		ok, err := r.compensateStep(ctx, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			failures++
		}
	}

	completedAt := r.o.opts.now()
	if err := r.setSagaStatus(SagaCompensated, func(s *SagaState[C]) {
		s.CompletedAt = &completedAt
		s.Error = fmt.Sprintf("Saga failed at step %d, compensation completed", failedIndex)
	}); err != nil {
		return nil, err
	}

	r.emit(ctx, Event{
		Type:       EventCompensationCompleted,
		StepIndex:  -1,
		SagaStatus: SagaCompensated,
		Duration:   completedAt.Sub(compensationStarted),
	})
	r.emit(ctx, Event{
		Type:       EventSagaCompleted,
		StepIndex:  -1,
		SagaStatus: SagaCompensated,
		Duration:   completedAt.Sub(r.started),
	})
	if failures > 0 {
		r.o.opts.logger.Warn("saga compensated with failures",
			zap.String("saga_id", r.id),
			zap.String("saga", r.name),
			zap.Int("failed_step", failedIndex),
			zap.Int("compensation_failures", failures),
		)
	}
	return r.entry.snapshot(), nil
}

// compensateStep runs the compensation of step i and reports whether it
// succeeded. The error is only set for bookkeeping defects.
func (r *sagaRun[C]) compensateStep(ctx context.Context, i int) (bool, error) {
	step := r.steps[i]
	startedAt := r.o.opts.now()

	if err := r.transition(i, StepCompensating, nil); err != nil {
		return false, err
	}
	r.emit(ctx, Event{Type: EventCompensationStepStarted, StepIndex: i, StepName: step.Name(), StepStatus: StepCompensating, SagaStatus: SagaCompensating})

	next, err := step.Compensate(ctx, r.sagaCtx)
	if err != nil {
		if terr := r.transition(i, StepCompensated, func(res *StepResult, _ *SagaState[C]) {
			res.Error = compensationFailurePrefix + err.Error()
		}); terr != nil {
			return false, terr
		}
		r.o.opts.logger.Error("saga compensation failed",
			zap.String("severity", "critical"),
			zap.String("operator_action", "manual_remediation"),
			zap.String("saga_id", r.id),
			zap.String("saga", r.name),
			zap.Int("step_index", i),
			zap.String("step", step.Name()),
			zap.Error(err),
		)
		r.emit(ctx, Event{
			Type:       EventCompensationStepFailed,
			StepIndex:  i,
			StepName:   step.Name(),
			StepStatus: StepCompensated,
			SagaStatus: SagaCompensating,
			Err:        &CompensationError{Index: i, Name: step.Name(), Err: err},
			Duration:   r.o.opts.now().Sub(startedAt),
		})
		return false, nil
	}

	r.sagaCtx = next
	if err := r.transition(i, StepCompensated, func(_ *StepResult, s *SagaState[C]) {
		s.Context = next
	}); err != nil {
		return false, err
	}
	r.emit(ctx, Event{
		Type:       EventCompensationStepCompleted,
		StepIndex:  i,
		StepName:   step.Name(),
		StepStatus: StepCompensated,
		SagaStatus: SagaCompensating,
		Duration:   r.o.opts.now().Sub(startedAt),
	})
	return true, nil
}
