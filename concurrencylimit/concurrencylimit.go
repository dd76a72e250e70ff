package concurrencylimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/fairgate/fairgate"
	"github.com/fairgate/fairgate/errors"
	"github.com/fairgate/fairgate/metrics"
)

// Config is the configuration of the concurrency limiter.
type Config struct {
	// Permits is the maximum number of tasks executing concurrently. It must
	// be a positive number, there is no default.
	Permits int
}

func (c *Config) validate() error {
	if c.Permits <= 0 {
		return fmt.Errorf("permits must be a positive number, got %d", c.Permits)
	}
	return nil
}

// Limiter bounds the number of concurrently executing tasks to a fixed
// number of permits. Callers over the bound wait in FIFO order for a permit
// released by a completing task. Use New to create one.
type Limiter struct {
	cfg    Config
	runner fairgate.Runner

	mu      sync.Mutex
	active  int
	waiters []chan error
}

// New returns a new concurrency limiter runner wrapping next (nil next means
// the work is executed directly). It fails on construction if the permits are
// not a positive number.
func New(cfg Config, next fairgate.Runner) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Limiter{
		cfg:    cfg,
		runner: fairgate.SanitizeRunner(next),
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

// Run satisfies fairgate.Runner interface. If a permit is available the work
// runs immediately, otherwise the caller waits FIFO until a completing task
// releases one, the limiter is cleared, or the context is canceled. The
// result of the work is returned unchanged.
func (l *Limiter) Run(ctx context.Context, f fairgate.Func) error {
	metricsRecorder, _ := metrics.RecorderFromContext(ctx)

	if err := l.acquire(ctx, metricsRecorder); err != nil {
		return err
	}

	// The permit is released even if the task panics.
	defer l.release(metricsRecorder)

	return l.runner.Run(ctx, f)
}

// Active returns the number of tasks executing at this moment.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Pending returns the number of callers waiting for a permit at this moment.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Clear rejects every caller currently waiting for a permit with a
// cancellation error carrying the received reason. It never cancels tasks
// that already started executing.
func (l *Limiter) Clear(reason string) {
	l.mu.Lock()
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	err := errors.NewCanceled(reason)
	for _, w := range waiters {
		w <- err
	}
}

func (l *Limiter) acquire(ctx context.Context, metricsRec metrics.Recorder) error {
	l.mu.Lock()
	if l.active < l.cfg.Permits {
		l.active++
		metricsRec.SetConcurrencyLimitInflightExecutions(l.active)
		l.mu.Unlock()
		return nil
	}

	// One-shot buffered channel so the releaser never blocks on a waiter
	// that already gave up.
	waitC := make(chan error, 1)
	l.waiters = append(l.waiters, waitC)
	metricsRec.SetConcurrencyLimitQueuedExecutions(len(l.waiters))
	l.mu.Unlock()

	select {
	case err := <-waitC:
		// A nil result means the permit has been transferred to us by the
		// releasing task, anything else is a clear sweep rejection.
		if err != nil {
			metricsRec.IncCanceledExecutions(1)
		}
		return err
	case <-ctx.Done():
		if !l.removeWaiter(waitC) {
			// The permit was already granted or the waiter canceled while we
			// were giving up, consume the signal and undo the grant.
			if err := <-waitC; err == nil {
				l.release(metricsRec)
			}
		}
		return errors.ErrContextCanceled
	}
}

func (l *Limiter) release(metricsRec metrics.Recorder) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		// Transfer the permit to the oldest waiter, active stays the same.
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		metricsRec.SetConcurrencyLimitQueuedExecutions(len(l.waiters))
		w <- nil
		return
	}

	l.active--
	metricsRec.SetConcurrencyLimitInflightExecutions(l.active)
}

func (l *Limiter) removeWaiter(waitC chan error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, w := range l.waiters {
		if w == waitC {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return true
		}
	}
	return false
}
