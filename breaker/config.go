package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid circuit breaker config")

// Config holds the thresholds of a circuit breaker.
type Config struct {
	// Timeout bounds a single call. Zero disables the per-call timeout.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`

	// ErrorThresholdPercentage is the failure rate, in percent, that must be
	// exceeded for the breaker to open. A rate equal to it keeps the breaker
	// closed, so the value must stay below 100.
	ErrorThresholdPercentage float64 `mapstructure:"error_threshold_percentage" json:"error_threshold_percentage"`

	// ResetTimeout is how long the breaker stays open before admitting a
	// trial call.
	ResetTimeout time.Duration `mapstructure:"reset_timeout" json:"reset_timeout"`

	// RollingWindow is the period outcomes are counted over, split into
	// Buckets equal slices.
	RollingWindow time.Duration `mapstructure:"rolling_window" json:"rolling_window"`
	Buckets       int           `mapstructure:"buckets" json:"buckets"`

	// VolumeThreshold is the minimum number of calls in the window before
	// the breaker may open. It is a sagaflow addition to the plain error-rate
	// rule: with the default of 5 a lone failing call never trips the
	// breaker. Set it to 0 to judge the error rate from the first call.
	VolumeThreshold int `mapstructure:"volume_threshold" json:"volume_threshold"`
}

// Default returns the stock breaker thresholds.
func Default() Config {
	return Config{
		Timeout:                  3 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             10 * time.Second,
		RollingWindow:            10 * time.Second,
		Buckets:                  10,
		VolumeThreshold:          5,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout)
	case c.ErrorThresholdPercentage < 0 || c.ErrorThresholdPercentage >= 100:
		return fmt.Errorf("%w: error threshold must be in [0, 100), got %v", ErrInvalidConfig, c.ErrorThresholdPercentage)
	case c.ResetTimeout <= 0:
		return fmt.Errorf("%w: reset timeout must be positive, got %s", ErrInvalidConfig, c.ResetTimeout)
	case c.Buckets <= 0:
		return fmt.Errorf("%w: buckets must be positive, got %d", ErrInvalidConfig, c.Buckets)
	case c.RollingWindow < time.Duration(c.Buckets):
		return fmt.Errorf("%w: rolling window %s too short for %d buckets", ErrInvalidConfig, c.RollingWindow, c.Buckets)
	case c.VolumeThreshold < 0:
		return fmt.Errorf("%w: volume threshold must not be negative, got %d", ErrInvalidConfig, c.VolumeThreshold)
	}
	return nil
}
