package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairgate/fairgate"
	"github.com/fairgate/fairgate/errors"
	"github.com/fairgate/fairgate/metrics"
)

// State is the state of the circuit breaker.
type State string

const (
	// StateClosed lets every execution through and counts failures.
	StateClosed State = "closed"
	// StateOpen rejects every execution without invoking the work.
	StateOpen State = "open"
	// StateHalfOpen lets exactly one probe execution through to test
	// downstream recovery.
	StateHalfOpen State = "half-open"
)

// Config is the configuration of the circuit breaker.
type Config struct {
	// FailureThreshold is the number of accumulated failures in closed state
	// that will trip the circuit to open state. Failures accumulate only while
	// closed and an interleaved success does not clear them.
	FailureThreshold int
	// ResetTimeout is how long the circuit will be in open state before
	// admitting a probe in half-open state. The transition is checked lazily
	// on state query or on the next execution, there is no background timer.
	ResetTimeout time.Duration
}

func (c *Config) defaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}

	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold must be a positive number, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout < 0 {
		return fmt.Errorf("reset timeout must be a positive duration, got %s", c.ResetTimeout)
	}
	return nil
}

// Stats is a point-in-time snapshot of the circuit breaker counters. The
// counters are rolling counts since the last reset (or the last half-open
// recovery, which also resets them).
type Stats struct {
	State         State
	Failures      int
	Successes     int
	LastFailureAt time.Time
}

// Breaker is a circuit breaker runner. Use New to create one.
//
// The circuit starts in closed state, every failure recorded while closed
// accumulates, and when the accumulated failures reach FailureThreshold the
// circuit moves to open state. While open, every execution is rejected with
// errors.ErrCircuitOpen without invoking the work. After ResetTimeout has
// elapsed since entering open state the circuit moves to half-open and admits
// exactly one probe: if the probe succeeds the circuit closes with all
// counters reset, if it fails the circuit opens again and the reset timer
// restarts from that failure.
type Breaker struct {
	cfg    Config
	runner fairgate.Runner

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time
	stateStarted  time.Time
	probing       bool

	now func() time.Time
}

// New returns a new circuit breaker runner wrapping next (nil next means the
// work is executed directly).
func New(cfg Config, next fairgate.Runner) (*Breaker, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Breaker{
		cfg:          cfg,
		runner:       fairgate.SanitizeRunner(next),
		state:        StateClosed,
		stateStarted: time.Now(),
		now:          time.Now,
	}, nil
}

// NewMiddleware returns a middleware with the runner that is returned by New
// (see that for more information). The configuration must be valid, an
// invalid one panics instead of being deferred to the first execution.
func NewMiddleware(cfg Config) fairgate.Middleware {
	return func(next fairgate.Runner) fairgate.Runner {
		b, err := New(cfg, next)
		if err != nil {
			panic(err)
		}
		return b
	}
}

// Run satisfies fairgate.Runner interface. On a short circuit it returns
// errors.ErrCircuitOpen and the work is never invoked; otherwise the result
// of the work is recorded and propagated to the caller unchanged.
func (b *Breaker) Run(ctx context.Context, f fairgate.Func) error {
	metricsRecorder, _ := metrics.RecorderFromContext(ctx)

	if err := b.admit(metricsRecorder); err != nil {
		return err
	}

	err := b.runner.Run(ctx, f)

	b.record(err, metricsRecorder)

	return err
}

// Execute runs a value-producing computation through the breaker with
// identical state semantics to Run. A short circuit is delivered through the
// returned error as errors.ErrCircuitOpen, the failure of the work itself is
// returned unchanged.
func Execute[T any](ctx context.Context, b *Breaker, f func(ctx context.Context) (T, error)) (T, error) {
	var v T
	err := b.Run(ctx, func(ctx context.Context) error {
		var err error
		v, err = f(ctx)
		return err
	})
	return v, err
}

// admit decides whether the execution can go through based on the current
// state, moving open to half-open when the reset timeout has elapsed.
func (b *Breaker) admit(metricsRec metrics.Recorder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshStateLocked(metricsRec)

	switch b.state {
	case StateOpen:
		return errors.ErrCircuitOpen
	case StateHalfOpen:
		// Only one probe at a time while half-open.
		if b.probing {
			return errors.ErrCircuitOpen
		}
		b.probing = true
	}

	return nil
}

// record measures the result of a non short-circuited execution and decides
// the next state.
func (b *Breaker) record(err error, metricsRec metrics.Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err != nil {
			b.failures++
			b.lastFailureAt = b.now()
			if b.failures >= b.cfg.FailureThreshold {
				b.moveStateLocked(StateOpen, metricsRec)
			}
		} else {
			// An interleaved success does not clear accumulated failures,
			// the threshold counts strictly.
			b.successes++
		}
	case StateHalfOpen:
		b.probing = false
		if err != nil {
			b.lastFailureAt = b.now()
			b.moveStateLocked(StateOpen, metricsRec)
		} else {
			b.failures = 0
			b.successes = 0
			b.lastFailureAt = time.Time{}
			b.moveStateLocked(StateClosed, metricsRec)
		}
	}
}

// State returns the current state, moving open to half-open first if the
// reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStateLocked(metrics.Dummy)
	return b.state
}

// Stats returns a point-in-time snapshot of the state and counters. A zero
// LastFailureAt means no failure has been recorded since the last reset.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStateLocked(metrics.Dummy)
	return Stats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		LastFailureAt: b.lastFailureAt,
	}
}

// Reset forces the circuit to closed state with all counters zeroed. Usable
// by operators or tests to force recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.stateStarted = b.now()
	b.failures = 0
	b.successes = 0
	b.lastFailureAt = time.Time{}
	b.probing = false
}

func (b *Breaker) refreshStateLocked(metricsRec metrics.Recorder) {
	if b.state == StateOpen && b.now().Sub(b.stateStarted) >= b.cfg.ResetTimeout {
		b.moveStateLocked(StateHalfOpen, metricsRec)
	}
}

func (b *Breaker) moveStateLocked(state State, metricsRec metrics.Recorder) {
	if b.state == state {
		return
	}

	metricsRec.IncCircuitbreakerState(string(state))
	b.state = state
	b.stateStarted = b.now()
	if state == StateHalfOpen {
		b.probing = false
	}
}
