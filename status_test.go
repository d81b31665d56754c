package sagaflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepStatusTransitions(t *testing.T) {
	legal := map[StepStatus][]StepStatus{
		StepPending:      {StepRunning},
		StepRunning:      {StepCompleted, StepFailed},
		StepCompleted:    {StepCompensating},
		StepCompensating: {StepCompensated},
	}
	all := []StepStatus{StepPending, StepRunning, StepCompleted, StepFailed, StepCompensating, StepCompensated}

	for _, from := range all {
		for _, to := range all {
			got, err := from.next(to)
			allowed := false
			for _, l := range legal[from] {
				allowed = allowed || l == to
			}
			if allowed {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
			} else {
				assert.Error(t, err, "%s -> %s", from, to)
				assert.Equal(t, from, got)
			}
		}
	}
}

func TestSagaStatusTransitions(t *testing.T) {
	_, err := SagaRunning.next(SagaCompleted)
	assert.NoError(t, err)
	_, err = SagaRunning.next(SagaFailed)
	assert.NoError(t, err)
	_, err = SagaFailed.next(SagaCompensating)
	assert.NoError(t, err)
	_, err = SagaCompensating.next(SagaCompensated)
	assert.NoError(t, err)

	_, err = SagaRunning.next(SagaCompensated)
	assert.Error(t, err)
	_, err = SagaCompleted.next(SagaFailed)
	assert.Error(t, err)
	_, err = SagaCompensated.next(SagaRunning)
	assert.Error(t, err)

	assert.True(t, SagaCompleted.Terminal())
	assert.True(t, SagaCompensated.Terminal())
	assert.False(t, SagaFailed.Terminal())
	assert.False(t, SagaCompensating.Terminal())
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(StepResult{Name: "charge", Status: StepCompensated})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"charge","status":"COMPENSATED","started_at":"0001-01-01T00:00:00Z"}`, string(data))

	var status SagaStatus
	require.NoError(t, json.Unmarshal([]byte(`"COMPENSATING"`), &status))
	assert.Equal(t, SagaCompensating, status)
	assert.Error(t, json.Unmarshal([]byte(`"DONE"`), &status))

	var step StepStatus
	assert.Error(t, json.Unmarshal([]byte(`"SKIPPED"`), &step))
	assert.Equal(t, "Unknown StepStatus: 42", StepStatus(42).String())
}
