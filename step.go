package sagaflow

import (
	"context"
	"fmt"
)

// Step is one forward/backward operation pair in a saga.
//
// Execute receives the saga context produced by the previous step and
// returns the context to hand to the next one. Compensate semantically
// undoes a completed Execute; it is called with the latest context and
// must make a best-effort attempt even when other compensations failed.
type Step[C any] interface {
	Name() string
	Execute(ctx context.Context, sagaCtx C) (C, error)
	Compensate(ctx context.Context, sagaCtx C) (C, error)
}

// StepFunc transforms a saga context. Both directions of a step share it.
type StepFunc[C any] func(ctx context.Context, sagaCtx C) (C, error)

// FuncStep is an implementation of Step that uses ordinary functions.
type FuncStep[C any] struct {
	name       string
	execute    StepFunc[C]
	compensate StepFunc[C]
}

// NewStep constructs a new FuncStep from a pair of functions.
func NewStep[C any](name string, execute, compensate StepFunc[C]) *FuncStep[C] {
	return &FuncStep[C]{
		name:       name,
		execute:    execute,
		compensate: compensate,
	}
}

// NoOpCompensate returns the context unchanged.
func NoOpCompensate[C any](_ context.Context, sagaCtx C) (C, error) {
	return sagaCtx, nil
}

// NewStepWithNoOpCompensate constructs a FuncStep that has nothing to undo.
func NewStepWithNoOpCompensate[C any](name string, execute StepFunc[C]) *FuncStep[C] {
	return NewStep(name, execute, NoOpCompensate[C])
}

// Name implements the Step interface for FuncStep.
func (s *FuncStep[C]) Name() string {
	return s.name
}

// Execute implements the Step interface for FuncStep.
func (s *FuncStep[C]) Execute(ctx context.Context, sagaCtx C) (C, error) {
	if s.execute == nil {
		return sagaCtx, fmt.Errorf("step %q has no execute function", s.name)
	}
	return s.execute(ctx, sagaCtx)
}

// Compensate implements the Step interface for FuncStep.
func (s *FuncStep[C]) Compensate(ctx context.Context, sagaCtx C) (C, error) {
	if s.compensate == nil {
		return sagaCtx, nil
	}
	return s.compensate(ctx, sagaCtx)
}

// String implements the fmt.Stringer interface for FuncStep.
func (s *FuncStep[C]) String() string {
	return fmt.Sprintf("FuncStep[%s]", s.name)
}
