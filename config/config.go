// Package config loads a toolkit configuration from a YAML file and builds
// the configured primitives into a runner chain.
//
// Only the sections present in the file are built. Durations are written as
// Go duration strings ("250ms", "1s", "2m").
//
// Example:
//
//	rate_limit:
//	  limit: 10
//	  interval: 1s
//	concurrency_limit:
//	  permits: 8
//	circuit_breaker:
//	  failure_threshold: 5
//	  reset_timeout: 30s
//	queue:
//	  capacity: 100
//	  concurrency: 4
//	  overflow: slide
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairgate/fairgate"
	"github.com/fairgate/fairgate/circuitbreaker"
	"github.com/fairgate/fairgate/concurrencylimit"
	"github.com/fairgate/fairgate/ratelimit"
	"github.com/fairgate/fairgate/taskqueue"
)

// Duration is a time.Duration that unmarshals from a YAML duration string.
type Duration time.Duration

// UnmarshalYAML satisfies yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation of the duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ConcurrencyLimitConfig is the configuration of the concurrency limiter
// section.
type ConcurrencyLimitConfig struct {
	Permits int `yaml:"permits"`
}

// QueueConfig is the configuration of the bounded task queue section.
type QueueConfig struct {
	Capacity    int                      `yaml:"capacity"`
	Concurrency int                      `yaml:"concurrency"`
	Overflow    taskqueue.OverflowPolicy `yaml:"overflow"`
	MaxWait     Duration                 `yaml:"max_wait"`
}

// RateLimitConfig is the configuration of the sliding window rate limiter
// section.
type RateLimitConfig struct {
	Limit    int      `yaml:"limit"`
	Interval Duration `yaml:"interval"`
}

// CircuitBreakerConfig is the configuration of the circuit breaker section.
type CircuitBreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
}

// Config is the complete toolkit configuration. Nil sections are not built.
type Config struct {
	ConcurrencyLimit *ConcurrencyLimitConfig `yaml:"concurrency_limit"`
	Queue            *QueueConfig            `yaml:"queue"`
	RateLimit        *RateLimitConfig        `yaml:"rate_limit"`
	CircuitBreaker   *CircuitBreakerConfig   `yaml:"circuit_breaker"`
}

// Load loads a configuration from a YAML file at the received path and
// validates it by building every present section.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file %q: %w", path, err)
	}

	return Unmarshal(data)
}

// Unmarshal parses a YAML configuration and validates it by building every
// present section.
func Unmarshal(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse configuration: %w", err)
	}

	// Validation is the same as building, throw away the result.
	if _, err := cfg.Build(nil); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Queue != nil {
		if _, err := cfg.BuildQueue(nil); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &cfg, nil
}

// Build composes the configured runnable primitives into a single runner
// chain wrapping next: the rate limiter admits outermost, then the
// concurrency limiter, then the circuit breaker closest to the work. The
// queue is not part of the chain, it has its own entry point (see
// BuildQueue).
func (c *Config) Build(next fairgate.Runner) (fairgate.Runner, error) {
	runner := fairgate.SanitizeRunner(next)

	if c.CircuitBreaker != nil {
		b, err := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			ResetTimeout:     c.CircuitBreaker.ResetTimeout.Std(),
		}, runner)
		if err != nil {
			return nil, fmt.Errorf("could not build circuit breaker: %w", err)
		}
		runner = b
	}

	if c.ConcurrencyLimit != nil {
		l, err := concurrencylimit.New(concurrencylimit.Config{
			Permits: c.ConcurrencyLimit.Permits,
		}, runner)
		if err != nil {
			return nil, fmt.Errorf("could not build concurrency limiter: %w", err)
		}
		runner = l
	}

	if c.RateLimit != nil {
		l, err := ratelimit.New(ratelimit.Config{
			Limit:    c.RateLimit.Limit,
			Interval: c.RateLimit.Interval.Std(),
		}, runner)
		if err != nil {
			return nil, fmt.Errorf("could not build rate limiter: %w", err)
		}
		runner = l
	}

	return runner, nil
}

// BuildQueue builds the bounded task queue section wrapping next. It fails
// if the section is missing.
func (c *Config) BuildQueue(next fairgate.Runner) (*taskqueue.Queue, error) {
	if c.Queue == nil {
		return nil, fmt.Errorf("queue section is not configured")
	}

	q, err := taskqueue.New(taskqueue.Config{
		Capacity:    c.Queue.Capacity,
		Concurrency: c.Queue.Concurrency,
		Overflow:    c.Queue.Overflow,
		MaxWait:     c.Queue.MaxWait.Std(),
	}, next)
	if err != nil {
		return nil, fmt.Errorf("could not build queue: %w", err)
	}

	return q, nil
}
