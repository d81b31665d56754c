package sagaflow

import (
	"strings"
	"time"
)

// compensationFailurePrefix starts the Error of a step whose compensation failed.
const compensationFailurePrefix = "Compensation failed: "

// StepResult is the execution record of one step in one saga run.
type StepResult struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// CompensationFailed reports whether the step's compensation returned an error.
func (r StepResult) CompensationFailed() bool {
	return r.Status == StepCompensated && strings.HasPrefix(r.Error, compensationFailurePrefix)
}

// SagaState is the full record of a saga run. Steps is index-aligned
// with the step list passed to Execute.
type SagaState[C any] struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Status      SagaStatus   `json:"status"`
	Context     C            `json:"context"`
	Steps       []StepResult `json:"steps"`
	CurrentStep int          `json:"current_step"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func newSagaState[C any](id, name string, steps []Step[C], initial C, now time.Time) *SagaState[C] {
	results := make([]StepResult, len(steps))
	for i, step := range steps {
		results[i] = StepResult{Name: step.Name(), Status: StepPending}
	}
	return &SagaState[C]{
		ID:        id,
		Name:      name,
		Status:    SagaRunning,
		Context:   initial,
		Steps:     results,
		StartedAt: now,
	}
}

// Clone returns a copy that shares nothing mutable with s except the
// Context value itself, which is copied by assignment.
func (s *SagaState[C]) Clone() *SagaState[C] {
	if s == nil {
		return nil
	}
	out := *s
	out.Steps = make([]StepResult, len(s.Steps))
	for i, r := range s.Steps {
		if r.CompletedAt != nil {
			t := *r.CompletedAt
			r.CompletedAt = &t
		}
		out.Steps[i] = r
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// CompensationFailures returns the steps whose compensation returned an error.
func (s *SagaState[C]) CompensationFailures() []StepResult {
	var failed []StepResult
	for _, r := range s.Steps {
		if r.CompensationFailed() {
			failed = append(failed, r)
		}
	}
	return failed
}

// FullyCompensated reports whether the saga rolled back and every
// compensation it attempted succeeded.
func (s *SagaState[C]) FullyCompensated() bool {
	return s.Status == SagaCompensated && len(s.CompensationFailures()) == 0
}

// Duration returns how long the saga ran, or zero while it is still running.
func (s *SagaState[C]) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
