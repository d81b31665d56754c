package sagaflow

import (
	"encoding/json"
	"fmt"
)

// StepStatus represents the execution state of a single saga step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepCompleted
	StepFailed
	StepCompensating
	StepCompensated
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "PENDING"
	case StepRunning:
		return "RUNNING"
	case StepCompleted:
		return "COMPLETED"
	case StepFailed:
		return "FAILED"
	case StepCompensating:
		return "COMPENSATING"
	case StepCompensated:
		return "COMPENSATED"
	default:
		return fmt.Sprintf("Unknown StepStatus: %d", int(s))
	}
}

// next returns the status reached from s when moving to want, or an error
// if the move is not a legal step transition.
func (s StepStatus) next(want StepStatus) (StepStatus, error) {
	switch s {
	case StepPending:
		if want == StepRunning {
			return want, nil
		}
	case StepRunning:
		if want == StepCompleted || want == StepFailed {
			return want, nil
		}
	case StepCompleted:
		if want == StepCompensating {
			return want, nil
		}
	case StepCompensating:
		if want == StepCompensated {
			return want, nil
		}
	}
	return s, fmt.Errorf("illegal step transition %s -> %s", s, want)
}

// MarshalJSON implements the json.Marshaler interface for StepStatus.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for StepStatus.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "PENDING":
		*s = StepPending
	case "RUNNING":
		*s = StepRunning
	case "COMPLETED":
		*s = StepCompleted
	case "FAILED":
		*s = StepFailed
	case "COMPENSATING":
		*s = StepCompensating
	case "COMPENSATED":
		*s = StepCompensated
	default:
		return fmt.Errorf("invalid StepStatus: %s", str)
	}
	return nil
}

// SagaStatus represents the lifecycle state of a saga run.
//
// SagaFailed is transient: it marks the moment a step failed and
// compensation is about to begin. A finished saga is always either
// SagaCompleted or SagaCompensated.
type SagaStatus int

const (
	SagaRunning SagaStatus = iota
	SagaCompleted
	SagaFailed
	SagaCompensating
	SagaCompensated
)

func (s SagaStatus) String() string {
	switch s {
	case SagaRunning:
		return "RUNNING"
	case SagaCompleted:
		return "COMPLETED"
	case SagaFailed:
		return "FAILED"
	case SagaCompensating:
		return "COMPENSATING"
	case SagaCompensated:
		return "COMPENSATED"
	default:
		return fmt.Sprintf("Unknown SagaStatus: %d", int(s))
	}
}

// Terminal reports whether a saga in this status will not change again.
func (s SagaStatus) Terminal() bool {
	return s == SagaCompleted || s == SagaCompensated
}

// next returns the status reached from s when moving to want, or an error
// if the move is not a legal saga transition.
func (s SagaStatus) next(want SagaStatus) (SagaStatus, error) {
	switch s {
	case SagaRunning:
		if want == SagaCompleted || want == SagaFailed {
			return want, nil
		}
	case SagaFailed:
		if want == SagaCompensating {
			return want, nil
		}
	case SagaCompensating:
		if want == SagaCompensated {
			return want, nil
		}
	}
	return s, fmt.Errorf("illegal saga transition %s -> %s", s, want)
}

// MarshalJSON implements the json.Marshaler interface for SagaStatus.
func (s SagaStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for SagaStatus.
func (s *SagaStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseSagaStatus(str)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ParseSagaStatus converts the upper-case name of a status back into a SagaStatus.
func ParseSagaStatus(str string) (SagaStatus, error) {
	switch str {
	case "RUNNING":
		return SagaRunning, nil
	case "COMPLETED":
		return SagaCompleted, nil
	case "FAILED":
		return SagaFailed, nil
	case "COMPENSATING":
		return SagaCompensating, nil
	case "COMPENSATED":
		return SagaCompensated, nil
	default:
		return SagaRunning, fmt.Errorf("invalid SagaStatus: %s", str)
	}
}
