package sagaflow

import (
	"errors"
	"fmt"
)

// Errors returned by Execute for programmer or bookkeeping defects.
// Business failures of a step are never returned; they are recorded in
// the SagaState instead.
var (
	ErrEmptySagaName = errors.New("saga name must not be empty")
	ErrNoSteps       = errors.New("saga must have at least one step")
	ErrNilStep       = errors.New("saga step must not be nil")
	ErrBookkeeping   = errors.New("saga bookkeeping failed")
)

// StepError represents an error produced by a step's Execute.
type StepError struct {
	Index int
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CompensationError represents an error produced by a step's Compensate.
type CompensationError struct {
	Index int
	Name  string
	Err   error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation of step %d (%s) failed: %v", e.Index, e.Name, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

func bookkeepingError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBookkeeping, fmt.Sprintf(format, args...))
}
