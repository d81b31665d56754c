package breaker

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Breaker or every breaker of a Registry.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	metrics       *Metrics
	onStateChange func(name string, from, to State)
	now           func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger logs state changes.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records calls, rejections and state in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// OnStateChange registers a hook called after every state transition. The
// hook runs outside the breaker's lock.
func OnStateChange(fn func(name string, from, to State)) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
