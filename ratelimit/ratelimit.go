package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairgate/fairgate"
	"github.com/fairgate/fairgate/errors"
	"github.com/fairgate/fairgate/metrics"
)

// Config is the configuration of the sliding window rate limiter.
type Config struct {
	// Limit is the maximum number of task starts within the rolling
	// interval. It must be a positive number, there is no default.
	Limit int
	// Interval is the rolling window duration. It must be a positive
	// duration, there is no default.
	Interval time.Duration
}

func (c *Config) validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be a positive number, got %d", c.Limit)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be a positive duration, got %s", c.Interval)
	}
	return nil
}

// Limiter bounds the number of task starts within a rolling time window,
// independent of how long each task runs. Use New to create one.
//
// Admission records the start timestamp, prunes the timestamps that aged out
// of the window, and either admits immediately when fewer than Limit remain
// or suspends the caller until the oldest one ages out, then retries the
// admission. A cleared limiter is poisoned: every subsequent admission fails
// immediately with the cancellation error until the limiter is discarded and
// recreated.
type Limiter struct {
	cfg    Config
	runner fairgate.Runner

	mu       sync.Mutex
	starts   []time.Time
	pending  int
	canceled error
	clearC   chan struct{}

	now func() time.Time
}

// New returns a new sliding window rate limiter runner wrapping next (nil
// next means the work is executed directly). It fails on construction if the
// configuration is not valid.
func New(cfg Config, next fairgate.Runner) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Limiter{
		cfg:    cfg,
		runner: fairgate.SanitizeRunner(next),
		clearC: make(chan struct{}),
		now:    time.Now,
	}, nil
}

// NewMiddleware returns a middleware with the runner that is returned by New
// (see that for more information). An invalid configuration panics instead of
// being deferred to the first execution.
func NewMiddleware(cfg Config) fairgate.Middleware {
	return func(next fairgate.Runner) fairgate.Runner {
		l, err := New(cfg, next)
		if err != nil {
			panic(err)
		}
		return l
	}
}

// Run satisfies fairgate.Runner interface. The caller counts as pending for
// the whole duration of the call, admission wait included. The result of the
// work is returned unchanged.
func (l *Limiter) Run(ctx context.Context, f fairgate.Func) error {
	metricsRecorder, _ := metrics.RecorderFromContext(ctx)

	l.mu.Lock()
	l.pending++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.pending--
		l.mu.Unlock()
	}()

	waited := false
	for {
		l.mu.Lock()
		if l.canceled != nil {
			err := l.canceled
			l.mu.Unlock()
			metricsRecorder.IncCanceledExecutions(1)
			return err
		}

		now := l.now()
		l.pruneLocked(now)

		if len(l.starts) < l.cfg.Limit {
			l.starts = append(l.starts, now)
			l.mu.Unlock()
			return l.runner.Run(ctx, f)
		}

		// Wait until the oldest start ages out of the window, then retry the
		// admission: other starts may also have aged out, or concurrent
		// callers may have taken the slots meanwhile.
		wait := l.cfg.Interval - now.Sub(l.starts[0])
		clearC := l.clearC
		l.mu.Unlock()

		if !waited {
			waited = true
			metricsRecorder.IncRateLimitWaited()
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-clearC:
			timer.Stop()
			// The loop will observe the cancellation error.
		case <-ctx.Done():
			timer.Stop()
			return errors.ErrContextCanceled
		}
	}
}

// Pending returns the number of callers inside Run at this moment, the ones
// actively waiting to be admitted included.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Clear wakes every waiting caller with a cancellation error carrying the
// received reason and poisons every future admission with the same error. A
// cleared limiter cannot be reset, discard it and create a fresh one.
func (l *Limiter) Clear(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.canceled != nil {
		return
	}
	l.canceled = errors.NewCanceled(reason)
	close(l.clearC)
}

// pruneLocked drops the start timestamps that aged out of the rolling
// window. Callers must hold the lock.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Interval)
	i := 0
	for i < len(l.starts) && !l.starts[i].After(cutoff) {
		i++
	}
	l.starts = l.starts[i:]
}
