// Package breaker implements a rolling-window circuit breaker for calls
// made from saga steps to remote dependencies.
//
// A Breaker starts closed and counts call outcomes over a bucketed rolling
// window. Once enough calls have been seen and the failure rate reaches
// the threshold it opens and rejects calls with ErrOpen. After the reset
// timeout a single trial call is admitted; its outcome closes the breaker
// or opens it again.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fortressi/sagaflow"
)

var (
	// ErrOpen is returned without calling the function while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrHalfOpenBusy is returned while the half-open trial call is in flight.
	ErrHalfOpenBusy = errors.New("circuit breaker trial call in progress")

	// ErrTimeout is returned when a call exceeds Config.Timeout.
	ErrTimeout = errors.New("circuit breaker call timed out")
)

// State is the position of a breaker in its state machine.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("Unknown State: %d", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler for State.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name            string  `json:"name"`
	State           State   `json:"state"`
	Requests        uint64  `json:"requests"`
	Failures        uint64  `json:"failures"`
	ErrorPercentage float64 `json:"error_percentage"`
	Rejected        uint64  `json:"rejected_total"`
	Timeouts        uint64  `json:"timeouts_total"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	// outcomeIgnored is a call abandoned by its caller; it does not count.
	outcomeIgnored
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeFailure:
		return "failure"
	case outcomeTimeout:
		return "timeout"
	default:
		return "ignored"
	}
}

type stateChange struct {
	from, to State
}

// Breaker is a circuit breaker guarding one dependency. It is safe for
// concurrent use.
type Breaker struct {
	name string
	cfg  Config
	opts options

	mu          sync.Mutex
	state       State
	generation  uint64
	window      *window
	openedAt    time.Time
	trialActive bool
	rejected    uint64
	timeouts    uint64
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newBreaker(name, cfg, newOptions(opts)), nil
}

func newBreaker(name string, cfg Config, o options) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		opts:   o,
		window: newWindow(cfg.RollingWindow, cfg.Buckets),
	}
	if o.metrics != nil {
		o.metrics.setState(name, StateClosed)
	}
	return b
}

// Name returns the dependency name the breaker was created for.
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the breaker's thresholds.
func (b *Breaker) Config() Config {
	return b.cfg
}

// Execute calls fn through the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := ExecuteValue(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Wrap returns fn guarded by the breaker.
func (b *Breaker) Wrap(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return b.Execute(ctx, fn)
	}
}

// ExecuteValue calls fn through b and returns its value.
//
// fn runs on its own goroutine so that a call ignoring its context still
// returns ErrTimeout to the caller once Config.Timeout elapses. A call
// abandoned because the caller's ctx ended is not counted.
func ExecuteValue[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	gen, err := b.allow()
	if err != nil {
		return zero, err
	}

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if b.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeoutCause(ctx, b.cfg.Timeout, ErrTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	started := b.opts.now()
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil:
			b.finish(gen, outcomeSuccess, started)
			return r.v, nil
		case errors.Is(context.Cause(callCtx), ErrTimeout):
			b.finish(gen, outcomeTimeout, started)
			return zero, b.timeoutError()
		case ctx.Err() != nil:
			b.finish(gen, outcomeIgnored, started)
			return zero, r.err
		default:
			b.finish(gen, outcomeFailure, started)
			return zero, r.err
		}
	case <-callCtx.Done():
		if errors.Is(context.Cause(callCtx), ErrTimeout) {
			b.finish(gen, outcomeTimeout, started)
			return zero, b.timeoutError()
		}
		b.finish(gen, outcomeIgnored, started)
		return zero, ctx.Err()
	}
}

// WrapStep guards a saga step function with b.
func WrapStep[C any](b *Breaker, fn sagaflow.StepFunc[C]) sagaflow.StepFunc[C] {
	return func(ctx context.Context, sagaCtx C) (C, error) {
		out, err := ExecuteValue(ctx, b, func(ctx context.Context) (C, error) {
			return fn(ctx, sagaCtx)
		})
		if err != nil {
			return sagaCtx, err
		}
		return out, nil
	}
}

func (b *Breaker) timeoutError() error {
	return fmt.Errorf("%w: %s after %s", ErrTimeout, b.name, b.cfg.Timeout)
}

// State returns the current state, moving an open breaker to half-open
// once its reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	change := b.refresh(b.opts.now())
	state := b.state
	b.mu.Unlock()

	b.notify(change)
	return state
}

// Stats returns the breaker's counters.
func (b *Breaker) Stats() Stats {
	now := b.opts.now()
	b.mu.Lock()
	change := b.refresh(now)
	requests, failures := b.window.totals(now)
	s := Stats{
		Name:            b.name,
		State:           b.state,
		Requests:        requests,
		Failures:        failures,
		ErrorPercentage: percentage(failures, requests),
		Rejected:        b.rejected,
		Timeouts:        b.timeouts,
	}
	b.mu.Unlock()

	b.notify(change)
	return s
}

// Reset closes the breaker and clears its window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.setState(StateClosed)
	b.mu.Unlock()

	b.notify(change)
}

// allow admits a call or returns the reason it is rejected, along with
// the generation the call's outcome belongs to.
func (b *Breaker) allow() (uint64, error) {
	b.mu.Lock()
	change := b.refresh(b.opts.now())

	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.trialActive {
			err = ErrHalfOpenBusy
		} else {
			b.trialActive = true
		}
	}
	if err != nil {
		b.rejected++
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(change)
	if err != nil {
		if b.opts.metrics != nil {
			b.opts.metrics.recordRejection(b.name)
		}
		return gen, fmt.Errorf("%w: %s", err, b.name)
	}
	return gen, nil
}

func (b *Breaker) finish(gen uint64, o outcome, started time.Time) {
	now := b.opts.now()
	if b.opts.metrics != nil {
		b.opts.metrics.recordCall(b.name, o, now.Sub(started))
	}

	b.mu.Lock()
	if o == outcomeTimeout {
		b.timeouts++
	}
	var change *stateChange
	if gen == b.generation {
		change = b.record(now, o)
	}
	b.mu.Unlock()

	b.notify(change)
}

func (b *Breaker) record(now time.Time, o outcome) *stateChange {
	switch b.state {
	case StateClosed:
		if o == outcomeIgnored {
			return nil
		}
		b.window.record(now, o == outcomeSuccess)
		requests, failures := b.window.totals(now)
		if requests >= uint64(b.cfg.VolumeThreshold) && percentage(failures, requests) > b.cfg.ErrorThresholdPercentage {
			return b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.trialActive = false
		switch o {
		case outcomeSuccess:
			return b.setState(StateClosed)
		case outcomeFailure, outcomeTimeout:
			return b.setState(StateOpen)
		}
	}
	return nil
}

func (b *Breaker) refresh(now time.Time) *stateChange {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.cfg.ResetTimeout)) {
		return b.setState(StateHalfOpen)
	}
	return nil
}

// setState must be called with b.mu held. Every call starts a new
// generation so late outcomes from an earlier state are dropped.
func (b *Breaker) setState(to State) *stateChange {
	from := b.state
	b.generation++
	b.trialActive = false
	switch to {
	case StateClosed:
		b.window.reset()
	case StateOpen:
		b.openedAt = b.opts.now()
	}
	b.state = to
	if from == to {
		return nil
	}
	return &stateChange{from: from, to: to}
}

func (b *Breaker) notify(change *stateChange) {
	if change == nil {
		return
	}
	level := zap.InfoLevel
	if change.to == StateOpen {
		level = zap.WarnLevel
	}
	b.opts.logger.Log(level, "circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.Stringer("from", change.from),
		zap.Stringer("to", change.to),
	)
	if b.opts.metrics != nil {
		b.opts.metrics.recordStateChange(b.name, change.to)
	}
	if b.opts.onStateChange != nil {
		b.opts.onStateChange(b.name, change.from, change.to)
	}
}

func percentage(failures, requests uint64) float64 {
	if requests == 0 {
		return 0
	}
	return float64(failures) / float64(requests) * 100
}
