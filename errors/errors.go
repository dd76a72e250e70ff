// Package errors contains the error taxonomy shared by every primitive of
// the library. Overflow, cancellation and short-circuit errors are local to
// the admission that was rejected; failures of the work itself are always
// propagated to the caller unchanged.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrContextCanceled will be used when the work has not been executed due to the
	// context cancelation.
	ErrContextCanceled = errors.New("context canceled, work not executed")
	// ErrCircuitOpen will be used when the work has been rejected because the
	// circuit breaker is in open state. The wrapped work is never invoked.
	ErrCircuitOpen = errors.New("circuit breaker is open, work not executed")
	// ErrQueueOverflow will be used when a queue at capacity rejects a new
	// admission (drop policy) or evicts the oldest pending one (slide policy).
	ErrQueueOverflow = errors.New("queue is at full capacity, work rejected")
	// ErrCanceled will be used for every pending entry rejected by an explicit
	// clear call. Check against it with errors.Is, the concrete error may be a
	// CanceledError carrying the clear reason.
	ErrCanceled = errors.New("pending work canceled")
)

// CanceledError is the error delivered to pending or waiting entries swept by
// a clear call. It carries the optional human readable reason given by the
// caller that cleared the primitive.
type CanceledError struct {
	Reason string
}

// NewCanceled returns the cancellation error for a clear sweep with the
// received reason.
func NewCanceled(reason string) error {
	return &CanceledError{Reason: reason}
}

// Error satisfies error interface.
func (e *CanceledError) Error() string {
	if e.Reason == "" {
		return ErrCanceled.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCanceled.Error(), e.Reason)
}

// Is makes every CanceledError match ErrCanceled.
func (e *CanceledError) Is(target error) bool {
	return target == ErrCanceled
}
