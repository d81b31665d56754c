package sagaflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Test saga: Checkout
// Flow: ReserveInventory -> ChargePayment -> CreateShipment

type checkoutCtx struct {
	OrderID     string   `json:"order_id"`
	Reservation string   `json:"reservation,omitempty"`
	PaymentID   string   `json:"payment_id,omitempty"`
	ShipmentID  string   `json:"shipment_id,omitempty"`
	Trail       []string `json:"trail"`
}

func (c checkoutCtx) with(entry string) checkoutCtx {
	c.Trail = append(slices.Clone(c.Trail), entry)
	return c
}

// callLog records the order in which step functions are invoked.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

type stepBehavior struct {
	executeErr    error
	compensateErr error
}

func checkoutSteps(log *callLog, behavior map[string]stepBehavior) []Step[checkoutCtx] {
	reserve := NewStep("reserveInventory",
		func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			log.add("execute:reserveInventory")
			if err := behavior["reserveInventory"].executeErr; err != nil {
				return c, err
			}
			c.Reservation = "res-" + c.OrderID
			return c.with("+inventory"), nil
		},
		func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			log.add("compensate:reserveInventory")
			if err := behavior["reserveInventory"].compensateErr; err != nil {
				return c, err
			}
			c.Reservation = ""
			return c.with("-inventory"), nil
		},
	)
	charge := NewStep("chargePayment",
		func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			log.add("execute:chargePayment")
			if err := behavior["chargePayment"].executeErr; err != nil {
				return c, err
			}
			c.PaymentID = "pay-" + c.OrderID
			return c.with("+payment"), nil
		},
		func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			log.add("compensate:chargePayment")
			if err := behavior["chargePayment"].compensateErr; err != nil {
				return c, err
			}
			c.PaymentID = ""
			return c.with("-payment"), nil
		},
	)
	ship := NewStep("createShipment",
		func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			log.add("execute:createShipment")
			if err := behavior["createShipment"].executeErr; err != nil {
				return c, err
			}
			c.ShipmentID = "ship-" + c.OrderID
			return c.with("+shipment"), nil
		},
		func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			log.add("compensate:createShipment")
			if err := behavior["createShipment"].compensateErr; err != nil {
				return c, err
			}
			c.ShipmentID = ""
			return c.with("-shipment"), nil
		},
	)
	return []Step[checkoutCtx]{reserve, charge, ship}
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator[checkoutCtx], *Registry[checkoutCtx]) {
	t.Helper()
	registry := NewRegistry[checkoutCtx]()
	t.Cleanup(registry.Close)
	return NewOrchestrator(registry, opts...), registry
}

func TestExecuteAllStepsSucceed(t *testing.T) {
	orch, registry := newTestOrchestrator(t)
	log := &callLog{}

	state, err := orch.Execute(context.Background(), "checkout", checkoutSteps(log, nil), checkoutCtx{OrderID: "o-1"})
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, SagaCompleted, state.Status)
	assert.Equal(t, 2, state.CurrentStep)
	assert.Empty(t, state.Error)
	require.NotNil(t, state.CompletedAt)
	for _, r := range state.Steps {
		assert.Equal(t, StepCompleted, r.Status, "step %s", r.Name)
		assert.NotNil(t, r.CompletedAt)
		assert.Empty(t, r.Error)
	}

	assert.Equal(t, []string{
		"execute:reserveInventory",
		"execute:chargePayment",
		"execute:createShipment",
	}, log.list())

	// Scenario B: the context carries every transform, applied in order.
	assert.Equal(t, "res-o-1", state.Context.Reservation)
	assert.Equal(t, "pay-o-1", state.Context.PaymentID)
	assert.Equal(t, "ship-o-1", state.Context.ShipmentID)
	assert.Equal(t, []string{"+inventory", "+payment", "+shipment"}, state.Context.Trail)

	stored, ok := registry.Get(state.ID)
	require.True(t, ok)
	assert.Equal(t, state, stored)
}

func TestExecuteStepFailureCompensates(t *testing.T) {
	// Scenario A: chargePayment is declined.
	orch, _ := newTestOrchestrator(t)
	log := &callLog{}
	steps := checkoutSteps(log, map[string]stepBehavior{
		"chargePayment": {executeErr: errors.New("card declined")},
	})

	state, err := orch.Execute(context.Background(), "checkout", steps, checkoutCtx{OrderID: "o-2"})
	require.NoError(t, err)

	assert.Equal(t, SagaCompensated, state.Status)
	assert.Equal(t, 1, state.CurrentStep)
	assert.Contains(t, state.Error, "step 1")
	assert.Equal(t, "Saga failed at step 1, compensation completed", state.Error)

	assert.Equal(t, StepCompensated, state.Steps[0].Status)
	assert.Empty(t, state.Steps[0].Error)
	assert.Equal(t, StepFailed, state.Steps[1].Status)
	assert.Equal(t, "card declined", state.Steps[1].Error)
	assert.Equal(t, StepPending, state.Steps[2].Status)
	assert.True(t, state.Steps[2].StartedAt.IsZero())

	assert.Equal(t, []string{
		"execute:reserveInventory",
		"execute:chargePayment",
		"compensate:reserveInventory",
	}, log.list())

	assert.Empty(t, state.Context.Reservation)
	assert.Equal(t, []string{"+inventory", "-inventory"}, state.Context.Trail)
	assert.True(t, state.FullyCompensated())
}

func TestExecuteCompensationFailureContinues(t *testing.T) {
	// Scenario C: shipment fails and the inventory release also fails.
	orch, _ := newTestOrchestrator(t)
	log := &callLog{}
	steps := checkoutSteps(log, map[string]stepBehavior{
		"createShipment":   {executeErr: errors.New("no carrier available")},
		"reserveInventory": {compensateErr: errors.New("warehouse unreachable")},
	})

	state, err := orch.Execute(context.Background(), "checkout", steps, checkoutCtx{OrderID: "o-3"})
	require.NoError(t, err)

	assert.Equal(t, SagaCompensated, state.Status)
	assert.Equal(t, "Saga failed at step 2, compensation completed", state.Error)

	assert.Equal(t, StepCompensated, state.Steps[0].Status)
	assert.Equal(t, "Compensation failed: warehouse unreachable", state.Steps[0].Error)
	assert.Equal(t, StepCompensated, state.Steps[1].Status)
	assert.Empty(t, state.Steps[1].Error)
	assert.Equal(t, StepFailed, state.Steps[2].Status)

	assert.Equal(t, []string{
		"execute:reserveInventory",
		"execute:chargePayment",
		"execute:createShipment",
		"compensate:chargePayment",
		"compensate:reserveInventory",
	}, log.list())

	// The failed compensation does not contribute to the context.
	assert.Equal(t, []string{"+inventory", "+payment", "-payment"}, state.Context.Trail)
	assert.Equal(t, "res-o-3", state.Context.Reservation)

	assert.False(t, state.FullyCompensated())
	failures := state.CompensationFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, "reserveInventory", failures[0].Name)
}

func TestExecuteFailureAtEachIndex(t *testing.T) {
	const n = 5
	for k := 0; k < n; k++ {
		t.Run(fmt.Sprintf("fail_at_%d", k), func(t *testing.T) {
			orch, _ := newTestOrchestrator(t)
			log := &callLog{}

			steps := make([]Step[checkoutCtx], n)
			for i := range steps {
				name := fmt.Sprintf("step-%d", i)
				steps[i] = NewStep(name,
					func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
						log.add("execute:" + name)
						if i == k {
							return c, errors.New("boom")
						}
						return c.with("+" + name), nil
					},
					func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
						log.add("compensate:" + name)
						return c.with("-" + name), nil
					},
				)
			}

			state, err := orch.Execute(context.Background(), "indexed", steps, checkoutCtx{})
			require.NoError(t, err)
			assert.Equal(t, SagaCompensated, state.Status)
			assert.Equal(t, k, state.CurrentStep)
			assert.Contains(t, state.Error, fmt.Sprintf("step %d", k))

			var want []string
			for i := 0; i <= k; i++ {
				want = append(want, fmt.Sprintf("execute:step-%d", i))
			}
			for i := k - 1; i >= 0; i-- {
				want = append(want, fmt.Sprintf("compensate:step-%d", i))
			}
			assert.Equal(t, want, log.list(), "each completed step is compensated exactly once, newest first")

			for i, r := range state.Steps {
				switch {
				case i < k:
					assert.Equal(t, StepCompensated, r.Status, "step %d", i)
				case i == k:
					assert.Equal(t, StepFailed, r.Status, "step %d", i)
				default:
					assert.Equal(t, StepPending, r.Status, "step %d", i)
				}
			}
		})
	}
}

func TestExecuteInvalidInput(t *testing.T) {
	orch, registry := newTestOrchestrator(t)
	steps := checkoutSteps(&callLog{}, nil)

	_, err := orch.Execute(context.Background(), "", steps, checkoutCtx{})
	assert.ErrorIs(t, err, ErrEmptySagaName)

	_, err = orch.Execute(context.Background(), "checkout", nil, checkoutCtx{})
	assert.ErrorIs(t, err, ErrNoSteps)

	_, err = orch.Execute(context.Background(), "checkout", []Step[checkoutCtx]{steps[0], nil}, checkoutCtx{})
	assert.ErrorIs(t, err, ErrNilStep)

	assert.Zero(t, registry.Len(), "rejected sagas must not be registered")
}

func TestExecuteClosedRegistry(t *testing.T) {
	registry := NewRegistry[checkoutCtx]()
	registry.Close()
	orch := NewOrchestrator(registry)

	state, err := orch.Execute(context.Background(), "checkout", checkoutSteps(&callLog{}, nil), checkoutCtx{})
	assert.Nil(t, state)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestExecuteDuplicateIDIsBookkeepingError(t *testing.T) {
	orch, _ := newTestOrchestrator(t, WithIDGenerator(func() string { return "fixed-id" }))
	log := &callLog{}

	_, err := orch.Execute(context.Background(), "checkout", checkoutSteps(log, nil), checkoutCtx{})
	require.NoError(t, err)

	state, err := orch.Execute(context.Background(), "checkout", checkoutSteps(log, nil), checkoutCtx{})
	assert.Nil(t, state)
	assert.ErrorIs(t, err, ErrBookkeeping)
	assert.Len(t, log.list(), 3, "second saga must not run any step")
}

func TestExecuteTypedNilStep(t *testing.T) {
	orch, registry := newTestOrchestrator(t)
	var missing *FuncStep[checkoutCtx]
	steps := checkoutSteps(&callLog{}, nil)
	steps[1] = missing

	state, err := orch.Execute(context.Background(), "checkout", steps, checkoutCtx{})
	assert.Nil(t, state)
	assert.ErrorIs(t, err, ErrNilStep)
	assert.Zero(t, registry.Len())
}

func TestExecuteBookkeepingDefectEmitsSagaAborted(t *testing.T) {
	var events []Event
	orch, registry := newTestOrchestrator(t,
		WithIDGenerator(func() string { return "corrupted" }),
		WithListener(ListenerFunc(func(_ context.Context, e Event) {
			events = append(events, e)
		})),
	)
	// The step marks itself completed behind the orchestrator's back, so
	// the orchestrator's own RUNNING -> COMPLETED move becomes illegal.
	corrupt := NewStepWithNoOpCompensate("reserveInventory", func(_ context.Context, c checkoutCtx) (checkoutCtx, error) {
		entry, ok := registry.entries.Load("corrupted")
		require.True(t, ok)
		entry.mu.Lock()
		entry.state.Steps[0].Status = StepCompleted
		entry.mu.Unlock()
		return c, nil
	})

	state, err := orch.Execute(context.Background(), "checkout", []Step[checkoutCtx]{corrupt}, checkoutCtx{})
	assert.Nil(t, state)
	require.ErrorIs(t, err, ErrBookkeeping)

	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	assert.Equal(t, []EventType{EventSagaStarted, EventStepStarted, EventSagaAborted}, types)

	aborted := events[len(events)-1]
	assert.Equal(t, "corrupted", aborted.SagaID)
	assert.Equal(t, -1, aborted.StepIndex)
	assert.Equal(t, SagaRunning, aborted.SagaStatus)
	assert.ErrorIs(t, aborted.Err, ErrBookkeeping)
}

func TestExecuteContextCancelledBetweenSteps(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var compensateCtxErrs []error
	record := func(name string) StepFunc[checkoutCtx] {
		return func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			compensateCtxErrs = append(compensateCtxErrs, ctx.Err())
			return c.with("-" + name), nil
		}
	}

	executed := map[string]bool{}
	steps := []Step[checkoutCtx]{
		NewStep("first", func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			executed["first"] = true
			return c.with("+first"), nil
		}, record("first")),
		NewStep("second", func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			executed["second"] = true
			cancel()
			return c.with("+second"), nil
		}, record("second")),
		NewStep("third", func(ctx context.Context, c checkoutCtx) (checkoutCtx, error) {
			executed["third"] = true
			return c.with("+third"), nil
		}, record("third")),
	}

	state, err := orch.Execute(ctx, "cancellable", steps, checkoutCtx{})
	require.NoError(t, err)

	assert.False(t, executed["third"])
	assert.Equal(t, SagaCompensated, state.Status)
	assert.Equal(t, StepFailed, state.Steps[2].Status)
	assert.Equal(t, context.Canceled.Error(), state.Steps[2].Error)
	assert.Equal(t, StepCompensated, state.Steps[1].Status)
	assert.Equal(t, StepCompensated, state.Steps[0].Status)
	assert.Equal(t, []error{nil, nil}, compensateCtxErrs, "compensation runs detached from cancellation")
	assert.Equal(t, []string{"+first", "+second", "-second", "-first"}, state.Context.Trail)
}

func TestExecuteEmitsEvents(t *testing.T) {
	var events []Event
	orch, _ := newTestOrchestrator(t, WithListener(ListenerFunc(func(_ context.Context, e Event) {
		events = append(events, e)
	})))
	steps := checkoutSteps(&callLog{}, map[string]stepBehavior{
		"chargePayment": {executeErr: errors.New("card declined")},
	})

	state, err := orch.Execute(context.Background(), "checkout", steps, checkoutCtx{})
	require.NoError(t, err)

	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
		assert.Equal(t, state.ID, e.SagaID)
		assert.Equal(t, "checkout", e.SagaName)
		assert.False(t, e.Time.IsZero())
	}
	assert.Equal(t, []EventType{
		EventSagaStarted,
		EventStepStarted,
		EventStepCompleted,
		EventStepStarted,
		EventStepFailed,
		EventCompensationStarted,
		EventCompensationStepStarted,
		EventCompensationStepCompleted,
		EventCompensationCompleted,
		EventSagaCompleted,
	}, types)

	failed := events[4]
	var stepErr *StepError
	require.ErrorAs(t, failed.Err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, "chargePayment", stepErr.Name)
	assert.EqualError(t, errors.Unwrap(failed.Err), "card declined")

	last := events[len(events)-1]
	assert.Equal(t, -1, last.StepIndex)
	assert.Equal(t, SagaCompensated, last.SagaStatus)
}

func TestExecuteLogsCriticalCompensationFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	orch, _ := newTestOrchestrator(t, WithLogger(zap.New(core)))
	steps := checkoutSteps(&callLog{}, map[string]stepBehavior{
		"createShipment":   {executeErr: errors.New("no carrier available")},
		"reserveInventory": {compensateErr: errors.New("warehouse unreachable")},
	})

	_, err := orch.Execute(context.Background(), "checkout", steps, checkoutCtx{})
	require.NoError(t, err)

	critical := logs.FilterMessage("saga compensation failed").All()
	require.Len(t, critical, 1)
	assert.Equal(t, zapcore.ErrorLevel, critical[0].Level)
	fields := critical[0].ContextMap()
	assert.Equal(t, "critical", fields["severity"])
	assert.Equal(t, "reserveInventory", fields["step"])
	assert.Equal(t, int64(0), fields["step_index"])
}

func TestExecuteWarnsOnDuplicateStepNames(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	orch, _ := newTestOrchestrator(t, WithLogger(zap.New(core)))
	same := NewStepWithNoOpCompensate("same", func(_ context.Context, c checkoutCtx) (checkoutCtx, error) {
		return c, nil
	})

	state, err := orch.Execute(context.Background(), "dupes", []Step[checkoutCtx]{same, same}, checkoutCtx{})
	require.NoError(t, err)
	assert.Equal(t, SagaCompleted, state.Status)
	assert.Equal(t, 1, logs.FilterMessage("duplicate step name in saga").Len())
}

func TestExecuteConcurrentSagas(t *testing.T) {
	orch, registry := newTestOrchestrator(t)
	const n = 25

	var wg sync.WaitGroup
	states := make([]*SagaState[checkoutCtx], n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			behavior := map[string]stepBehavior{}
			if i%2 == 1 {
				behavior["createShipment"] = stepBehavior{executeErr: errors.New("no carrier")}
			}
			state, err := orch.Execute(context.Background(), "checkout", checkoutSteps(&callLog{}, behavior), checkoutCtx{OrderID: fmt.Sprint(i)})
			assert.NoError(t, err)
			states[i] = state
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, registry.Len())
	for i, state := range states {
		require.NotNil(t, state)
		if i%2 == 1 {
			assert.Equal(t, SagaCompensated, state.Status)
		} else {
			assert.Equal(t, SagaCompleted, state.Status)
		}
	}
	assert.Len(t, registry.Filter(SagaCompensated), n/2)
}

func TestExecuteStateVisibleWhileRunning(t *testing.T) {
	orch, registry := newTestOrchestrator(t)
	entered := make(chan struct{})
	release := make(chan struct{})

	steps := []Step[checkoutCtx]{
		NewStepWithNoOpCompensate("fast", func(_ context.Context, c checkoutCtx) (checkoutCtx, error) {
			return c.with("+fast"), nil
		}),
		NewStepWithNoOpCompensate("slow", func(_ context.Context, c checkoutCtx) (checkoutCtx, error) {
			close(entered)
			<-release
			return c.with("+slow"), nil
		}),
	}

	done := make(chan *SagaState[checkoutCtx])
	go func() {
		state, err := orch.Execute(context.Background(), "slow", steps, checkoutCtx{})
		assert.NoError(t, err)
		done <- state
	}()

	<-entered
	running := registry.Filter(SagaRunning)
	require.Len(t, running, 1)
	assert.Equal(t, 1, running[0].CurrentStep)
	assert.Equal(t, StepCompleted, running[0].Steps[0].Status)
	assert.Equal(t, StepRunning, running[0].Steps[1].Status)
	assert.Equal(t, []string{"+fast"}, running[0].Context.Trail)

	close(release)
	select {
	case state := <-done:
		assert.Equal(t, SagaCompleted, state.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("saga did not finish")
	}
}
