package fairgate

import (
	"context"

	"github.com/fairgate/fairgate/errors"
)

// Func is the unit of asynchronous work regulated by the primitives of this
// library. It is invoked at most once per admission and either returns nil
// on success or the failure of the work itself. The primitives never wrap
// nor retry the returned error.
type Func func(ctx context.Context) error

// Command is the terminal unit of execution at the end of a runner chain.
type Command struct{}

// Run satisfies Runner interface.
func (Command) Run(ctx context.Context, f Func) error {
	// Only execute if we reached the execution and the context has not been cancelled.
	select {
	case <-ctx.Done():
		return errors.ErrContextCanceled
	default:
		return f(ctx)
	}
}

// Runner knows how to admit and execute a unit of work, and returns an error
// if the work failed or the runner declined to run it.
type Runner interface {
	// Run will run the unit of execution passed on f.
	Run(ctx context.Context, f Func) error
}

// RunnerFunc is a helper that satisfies Runner interface by using a function.
type RunnerFunc func(ctx context.Context, f Func) error

// Run satisfies Runner interface.
func (r RunnerFunc) Run(ctx context.Context, f Func) error {
	// Only execute if we reached the execution and the context has not been cancelled.
	select {
	case <-ctx.Done():
		return errors.ErrContextCanceled
	default:
		return r(ctx, f)
	}
}

// Middleware represents a middleware for a runner, it takes a runner and
// returns a runner wrapping it.
type Middleware func(Runner) Runner

// RunnerChain will get N middlewares and create a Runner chain with them
// in the order that they have been passed.
func RunnerChain(middlewares ...Middleware) Runner {
	// Due to the nature of a chain we need to start wrapping from the last
	// one to the first one.
	var runner Runner
	for i := len(middlewares) - 1; i >= 0; i-- {
		runner = middlewares[i](runner)
	}
	return SanitizeRunner(runner)
}

// SanitizeRunner returns a safe runner if the received one is not valid.
func SanitizeRunner(r Runner) Runner {
	// In case of end of execution chain.
	if r == nil {
		return &Command{}
	}
	return r
}
