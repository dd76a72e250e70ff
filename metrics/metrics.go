package metrics

import "time"

// Recorder knows how to measure the different kinds of events the
// concurrency-control primitives produce.
type Recorder interface {
	// WithID will set the ID name to the recorder and every metric
	// measured with the obtained recorder will be identified with
	// the name.
	WithID(id string) Recorder
	// ObserveCommandExecution will measure the execution of the runner chain.
	ObserveCommandExecution(start time.Time, success bool)
	// SetConcurrencyLimitInflightExecutions sets the number of tasks executing
	// at this moment under a concurrency limiter or a queue.
	SetConcurrencyLimitInflightExecutions(q int)
	// SetConcurrencyLimitQueuedExecutions sets the number of tasks waiting for
	// a permit at this moment.
	SetConcurrencyLimitQueuedExecutions(q int)
	// IncQueueOverflow increments the number of admissions rejected or
	// evicted by an overflow policy.
	IncQueueOverflow(policy string)
	// IncCanceledExecutions increments the number of executions rejected by a
	// clear sweep, the admissions a cleared rate limiter poisons included.
	IncCanceledExecutions(q int)
	// IncRateLimitWaited increments the number of times a caller had to wait
	// for a window opening before being admitted.
	IncRateLimitWaited()
	// IncCircuitbreakerState increments the number of state changes.
	IncCircuitbreakerState(state string)
	// IncStaleResult increments the number of results suppressed because a
	// newer call superseded them.
	IncStaleResult()
}

// Dummy is a recorder that doesn't measure anything, safe to use when no
// recorder has been set on the context.
var Dummy Recorder = dummy{}

type dummy struct{}

func (dummy) WithID(id string) Recorder                        { return Dummy }
func (dummy) ObserveCommandExecution(start time.Time, ok bool) {}
func (dummy) SetConcurrencyLimitInflightExecutions(q int)      {}
func (dummy) SetConcurrencyLimitQueuedExecutions(q int)        {}
func (dummy) IncQueueOverflow(policy string)                   {}
func (dummy) IncCanceledExecutions(q int)                      {}
func (dummy) IncRateLimitWaited()                              {}
func (dummy) IncCircuitbreakerState(state string)              {}
func (dummy) IncStaleResult()                                  {}
