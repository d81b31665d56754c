package sagaflow

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	listeners Listeners
	newID     func() string
	now       func() time.Time
}

func defaultOptions() options {
	return options{
		logger: zap.NewNop(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// WithLogger sets the logger used for orchestrator diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithListener adds a listener for saga events. It may be given several times.
func WithListener(l Listener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithIDGenerator replaces the default UUID generator for saga IDs.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock replaces time.Now for timestamps recorded in saga state.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
