// Package config loads sagaflow settings from defaults, an optional YAML
// file and SAGAFLOW_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fortressi/sagaflow"
	"github.com/fortressi/sagaflow/breaker"
	"github.com/fortressi/sagaflow/retry"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SAGAFLOW_SAGA_RETENTION overrides saga.retention.
const EnvPrefix = "SAGAFLOW"

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Saga    SagaConfig    `mapstructure:"saga"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Development switches to the console encoder with stack traces on warnings.
	Development bool `mapstructure:"development"`
}

type SagaConfig struct {
	// Retention is how long finished sagas stay queryable in the registry.
	Retention time.Duration `mapstructure:"retention"`
}

type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	Exponential    bool          `mapstructure:"exponential"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type BreakerConfig struct {
	Timeout                  time.Duration `mapstructure:"timeout"`
	ErrorThresholdPercentage float64       `mapstructure:"error_threshold_percentage"`
	ResetTimeout             time.Duration `mapstructure:"reset_timeout"`
	RollingWindow            time.Duration `mapstructure:"rolling_window"`
	Buckets                  int           `mapstructure:"buckets"`
	VolumeThreshold          int           `mapstructure:"volume_threshold"`
}

type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := retry.Default()
	b := breaker.Default()
	return Config{
		Log:  LogConfig{Level: "info"},
		Saga: SagaConfig{Retention: sagaflow.DefaultRetention},
		Retry: RetryConfig{
			MaxRetries:     p.MaxRetries,
			InitialBackoff: p.InitialBackoff,
			Exponential:    p.Exponential,
			MaxBackoff:     p.MaxBackoff,
		},
		Breaker: BreakerConfig{
			Timeout:                  b.Timeout,
			ErrorThresholdPercentage: b.ErrorThresholdPercentage,
			ResetTimeout:             b.ResetTimeout,
			RollingWindow:            b.RollingWindow,
			Buckets:                  b.Buckets,
			VolumeThreshold:          b.VolumeThreshold,
		},
		Admin: AdminConfig{Addr: ":8080"},
	}
}

// Load reads the configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can override it on Unmarshal.
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("saga.retention", d.Saga.Retention)
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("retry.exponential", d.Retry.Exponential)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("breaker.timeout", d.Breaker.Timeout)
	v.SetDefault("breaker.error_threshold_percentage", d.Breaker.ErrorThresholdPercentage)
	v.SetDefault("breaker.reset_timeout", d.Breaker.ResetTimeout)
	v.SetDefault("breaker.rolling_window", d.Breaker.RollingWindow)
	v.SetDefault("breaker.buckets", d.Breaker.Buckets)
	v.SetDefault("breaker.volume_threshold", d.Breaker.VolumeThreshold)
	v.SetDefault("admin.addr", d.Admin.Addr)
	return v
}

// Validate checks every section and joins the errors found.
func (c Config) Validate() error {
	var errs []error
	if c.Saga.Retention <= 0 {
		errs = append(errs, fmt.Errorf("saga.retention must be positive, got %s", c.Saga.Retention))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.BreakerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Admin.Addr == "" {
		errs = append(errs, errors.New("admin.addr must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:     c.Retry.MaxRetries,
		InitialBackoff: c.Retry.InitialBackoff,
		Exponential:    c.Retry.Exponential,
		MaxBackoff:     c.Retry.MaxBackoff,
	}
}

// BreakerConfig converts the breaker section.
func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		Timeout:                  c.Breaker.Timeout,
		ErrorThresholdPercentage: c.Breaker.ErrorThresholdPercentage,
		ResetTimeout:             c.Breaker.ResetTimeout,
		RollingWindow:            c.Breaker.RollingWindow,
		Buckets:                  c.Breaker.Buckets,
		VolumeThreshold:          c.Breaker.VolumeThreshold,
	}
}
