// Package retry re-runs failing operations according to a Policy.
//
// The final error of an exhausted retry is returned unchanged, so callers
// can still match it with errors.Is and errors.As. Wrap and WrapStep turn
// a policy into a decorator for plain functions and for saga step
// functions respectively.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/fortressi/sagaflow"
)

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// maxShift bounds the exponent so backoff never overflows time.Duration.
const maxShift = 62

// Policy describes how often and how fast an operation is retried.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. Zero disables retrying.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff" json:"initial_backoff"`

	// Exponential doubles the delay after every retry.
	Exponential bool `mapstructure:"exponential" json:"exponential"`

	// MaxBackoff caps the delay. Zero means no cap.
	MaxBackoff time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
}

// Default returns three exponential retries starting at one second.
func Default() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		Exponential:    true,
	}
}

// Validate checks the policy for negative values.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidPolicy, p.MaxRetries)
	case p.InitialBackoff < 0:
		return fmt.Errorf("%w: initial backoff must not be negative, got %s", ErrInvalidPolicy, p.InitialBackoff)
	case p.MaxBackoff < 0:
		return fmt.Errorf("%w: max backoff must not be negative, got %s", ErrInvalidPolicy, p.MaxBackoff)
	}
	return nil
}

// Delay returns the wait before retry number attempt, counting from 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialBackoff
	if p.Exponential && delay > 0 {
		shift := min(attempt-1, maxShift)
		if delay > time.Duration(math.MaxInt64>>shift) {
			delay = time.Duration(math.MaxInt64)
		} else {
			delay <<= shift
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

// Option configures a single retried call.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	onRetry   func(attempt int, err error, delay time.Duration)
	retryable func(error) bool
	name      string
}

// WithLogger logs every retry at Info level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// OnRetry registers a callback invoked before each retry.
func OnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// RetryIf limits retrying to errors for which fn returns true. Other
// errors are returned immediately.
func RetryIf(fn func(error) bool) Option {
	return func(o *options) {
		o.retryable = fn
	}
}

// WithName labels log entries with the operation being retried.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Do calls fn until it succeeds or the policy is exhausted and returns
// fn's last error unchanged.
//
// If ctx is done while waiting for the next attempt, Do stops and returns
// an error that wraps both ctx.Err() and fn's last error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// Wrap returns fn decorated with the policy.
func (p Policy) Wrap(fn func(context.Context) error, opts ...Option) func(context.Context) error {
	return func(ctx context.Context) error {
		return p.Do(ctx, fn, opts...)
	}
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	o := newOptions(opts)

	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				o.logger.Debug("retry succeeded", zap.String("operation", o.name), zap.Int("retries", attempt))
			}
			return v, nil
		}
		if attempt >= p.MaxRetries || (o.retryable != nil && !o.retryable(err)) {
			return zero, err
		}

		delay := p.Delay(attempt + 1)
		o.logger.Info("retrying after error",
			zap.String("operation", o.name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if o.onRetry != nil {
			o.onRetry(attempt+1, err, delay)
		}
		if cerr := sleep(ctx, delay); cerr != nil {
			return zero, fmt.Errorf("retry aborted: %w: %w", cerr, err)
		}
	}
}

// WrapStep hardens a saga step function with the policy. The saga context
// passed to each attempt is the one the step was called with.
func WrapStep[C any](p Policy, fn sagaflow.StepFunc[C], opts ...Option) sagaflow.StepFunc[C] {
	return func(ctx context.Context, sagaCtx C) (C, error) {
		return DoValue(ctx, p, func(ctx context.Context) (C, error) {
			return fn(ctx, sagaCtx)
		}, opts...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
