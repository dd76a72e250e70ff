// Package latest supersedes in-flight asynchronous results: a guard issues
// monotonically increasing tokens and a run helper discards the result of a
// call once a newer call on the same guard has started.
package latest

import (
	"context"
	"sync"

	"github.com/fairgate/fairgate/metrics"
)

// Token is an opaque guard token. A token is current for a caller iff it
// equals the guard's latest value at check time.
type Token uint64

// Guard issues monotonically increasing tokens. Use NewGuard to create one.
type Guard struct {
	mu      sync.Mutex
	current Token
}

// NewGuard returns a new guard with a zero current token.
func NewGuard() *Guard {
	return &Guard{}
}

// Issue advances the counter and returns the new token, permanently staling
// every previously issued one.
func (g *Guard) Issue() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	return g.current
}

// Current returns the latest token without mutating the guard.
func (g *Guard) Current() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// IsCurrent returns true iff no Invalidate or newer Issue has occurred since
// the received token was issued.
func (g *Guard) IsCurrent(t Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current == t
}

// Invalidate advances the counter, permanently staling every previously
// issued token.
func (g *Guard) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
}

// Result is the outcome of a guarded run. When Stale is true a newer call
// started while this one was in flight and Value must be discarded.
type Result[T any] struct {
	Stale bool
	Value T
}

// Run executes f guarded by g. The call issues a fresh token before invoking
// f, so an older and slower call recognizes it has been superseded once a
// newer one begins; the superseded call does not fail, it completes and
// reports staleness through the result. A failure of f always propagates to
// the caller unchanged, independent of staleness detection: staleness only
// suppresses delivery of values, never of failures.
func Run[T any](ctx context.Context, g *Guard, f func(ctx context.Context) (T, error)) (Result[T], error) {
	tok := g.Issue()

	v, err := f(ctx)
	if err != nil {
		return Result[T]{}, err
	}

	if !g.IsCurrent(tok) {
		metricsRecorder, _ := metrics.RecorderFromContext(ctx)
		metricsRecorder.IncStaleResult()
		return Result[T]{Stale: true}, nil
	}

	return Result[T]{Value: v}, nil
}
