package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairgate/fairgate"
	"github.com/fairgate/fairgate/errors"
	"github.com/fairgate/fairgate/metrics"
)

// OverflowPolicy decides what happens to an admission when the queue is at
// full capacity.
type OverflowPolicy string

const (
	// OverflowBackpressure suspends the producer until a completing task
	// frees a slot, then re-checks capacity. This is the default policy.
	OverflowBackpressure OverflowPolicy = "backpressure"
	// OverflowDrop rejects the new admission immediately with
	// errors.ErrQueueOverflow, the task never runs.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowSlide evicts the single oldest queued (not running) entry,
	// rejecting it with errors.ErrQueueOverflow, and admits the new task in
	// its place.
	OverflowSlide OverflowPolicy = "slide"
)

// Config is the configuration of the bounded task queue.
type Config struct {
	// Capacity bounds queued plus executing tasks. It must be a positive
	// number, there is no default.
	Capacity int
	// Concurrency is the number of tasks executing concurrently. Defaults
	// to 1.
	Concurrency int
	// Overflow is the policy applied when the queue is at full capacity.
	// Defaults to OverflowBackpressure.
	Overflow OverflowPolicy
	// MaxWait bounds how long a producer blocked by the backpressure policy
	// will wait for a slot before being rejected with
	// errors.ErrQueueOverflow. Zero means waiting indefinitely.
	MaxWait time.Duration
}

func (c *Config) defaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}

	if c.Overflow == "" {
		c.Overflow = OverflowBackpressure
	}
}

func (c *Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be a positive number, got %d", c.Capacity)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be a positive number, got %d", c.Concurrency)
	}
	switch c.Overflow {
	case OverflowBackpressure, OverflowDrop, OverflowSlide:
	default:
		return fmt.Errorf("unknown overflow policy %q", c.Overflow)
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("max wait must be a positive duration, got %s", c.MaxWait)
	}
	return nil
}

// entry is the queued representation of a task awaiting a permit. Its result
// channel is completed exactly once: with the run result when the task
// started, or with the rejection error when it was evicted or cleared.
type entry struct {
	ctx   context.Context
	f     fairgate.Func
	doneC chan error
}

// Queue is a bounded task queue runner with a configurable overflow policy.
// Use New to create one.
type Queue struct {
	cfg    Config
	runner fairgate.Runner

	mu      sync.Mutex
	queued  []*entry
	active  int
	// reserved counts capacity slots handed to woken backpressure producers
	// that have not re-enqueued yet, so a newly arrived admission cannot jump
	// ahead of an already-waiting one.
	reserved int
	waiters  []chan error
}

// New returns a new bounded task queue wrapping next (nil next means the work
// is executed directly). It fails on construction if the configuration is not
// valid.
func New(cfg Config, next fairgate.Runner) (*Queue, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Queue{
		cfg:    cfg,
		runner: fairgate.SanitizeRunner(next),
	}, nil
}

// Enqueue admits the task into the queue and blocks the caller until the task
// completed, was rejected by the overflow policy, or was swept by Clear. The
// result of the work itself is returned unchanged.
func (q *Queue) Enqueue(ctx context.Context, f fairgate.Func) error {
	metricsRecorder, _ := metrics.RecorderFromContext(ctx)

	e := &entry{
		ctx:   ctx,
		f:     f,
		doneC: make(chan error, 1),
	}

	q.mu.Lock()
	for q.sizeLocked() >= q.cfg.Capacity {
		switch q.cfg.Overflow {
		case OverflowDrop:
			q.mu.Unlock()
			metricsRecorder.IncQueueOverflow(string(OverflowDrop))
			return errors.ErrQueueOverflow

		case OverflowSlide:
			metricsRecorder.IncQueueOverflow(string(OverflowSlide))
			if len(q.queued) == 0 {
				// Every slot is held by running work, there is nothing that
				// can slide out.
				q.mu.Unlock()
				return errors.ErrQueueOverflow
			}
			oldest := q.queued[0]
			q.queued = q.queued[1:]
			oldest.doneC <- errors.ErrQueueOverflow

		case OverflowBackpressure:
			waitC := make(chan error, 1)
			q.waiters = append(q.waiters, waitC)
			q.mu.Unlock()

			if err := q.waitForSlot(ctx, waitC, metricsRecorder); err != nil {
				return err
			}

			// The granted slot is reserved for us, consume the reservation
			// and admit without re-checking capacity.
			q.mu.Lock()
			q.reserved--
		}

		break // Slide or the reservation made room for exactly this admission.
	}

	q.queued = append(q.queued, e)
	q.dispatchLocked(metricsRecorder)
	q.mu.Unlock()

	err := <-e.doneC
	if _, ok := err.(*errors.CanceledError); ok {
		metricsRecorder.IncCanceledExecutions(1)
	}
	return err
}

// Size returns the number of tasks in the queue at this moment, queued plus
// executing.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

// Active returns the number of tasks executing at this moment.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Pending returns the number of tasks queued and not yet started, plus the
// producers blocked by the backpressure policy.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued) + len(q.waiters)
}

// Clear rejects every queued (not yet started) entry with a cancellation
// error carrying the received reason, and wakes every producer blocked by the
// backpressure policy with the same error so they fail fast instead of
// hanging. It never interrupts tasks that already started executing.
func (q *Queue) Clear(reason string) {
	q.mu.Lock()
	queued := q.queued
	waiters := q.waiters
	q.queued = nil
	q.waiters = nil
	q.mu.Unlock()

	err := errors.NewCanceled(reason)
	for _, e := range queued {
		e.doneC <- err
	}
	for _, w := range waiters {
		w <- err
	}
}

func (q *Queue) sizeLocked() int {
	return len(q.queued) + q.active + q.reserved
}

// dispatchLocked starts queued entries while there is concurrency budget.
// Callers must hold the lock.
func (q *Queue) dispatchLocked(metricsRec metrics.Recorder) {
	for q.active < q.cfg.Concurrency && len(q.queued) > 0 {
		e := q.queued[0]
		q.queued = q.queued[1:]
		q.active++
		go q.run(e, metricsRec)
	}
	metricsRec.SetConcurrencyLimitInflightExecutions(q.active)
	metricsRec.SetConcurrencyLimitQueuedExecutions(len(q.queued))
}

func (q *Queue) run(e *entry, metricsRec metrics.Recorder) {
	defer func() {
		q.mu.Lock()
		q.active--
		// Capacity is reclaimed right now, not when the queue is next
		// touched: the freed slot is reserved for the oldest blocked
		// producer so a newcomer cannot jump ahead of it, and the
		// concurrency budget is refilled.
		if len(q.waiters) > 0 {
			w := q.waiters[0]
			q.waiters = q.waiters[1:]
			q.reserved++
			w <- nil
		}
		q.dispatchLocked(metricsRec)
		q.mu.Unlock()
	}()

	err := q.runner.Run(e.ctx, e.f)
	e.doneC <- err
}

func (q *Queue) waitForSlot(ctx context.Context, waitC chan error, metricsRec metrics.Recorder) error {
	var timeoutC <-chan time.Time
	if q.cfg.MaxWait > 0 {
		timer := time.NewTimer(q.cfg.MaxWait)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-waitC:
		// A nil result means a slot was granted, anything else is a clear
		// sweep rejection.
		if err != nil {
			metricsRec.IncCanceledExecutions(1)
		}
		return err
	case <-timeoutC:
		if !q.removeWaiter(waitC) {
			// Lost the race against a slot grant or a clear sweep.
			err := <-waitC
			if err != nil {
				metricsRec.IncCanceledExecutions(1)
			}
			return err
		}
		metricsRec.IncQueueOverflow(string(OverflowBackpressure))
		return errors.ErrQueueOverflow
	case <-ctx.Done():
		if !q.removeWaiter(waitC) {
			if err := <-waitC; err != nil {
				return errors.ErrContextCanceled
			}
			// A reserved slot was granted while we were giving up, hand it
			// to the next blocked producer or release it.
			q.mu.Lock()
			if len(q.waiters) > 0 {
				w := q.waiters[0]
				q.waiters = q.waiters[1:]
				w <- nil
			} else {
				q.reserved--
			}
			q.mu.Unlock()
		}
		return errors.ErrContextCanceled
	}
}

func (q *Queue) removeWaiter(waitC chan error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiters {
		if w == waitC {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}
