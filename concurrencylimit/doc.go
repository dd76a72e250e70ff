package concurrencylimit

// concurrencylimit bounds the number of tasks executing concurrently with a
// fixed number of permits, the way a counting semaphore does.
//
// The runner keeps two pieces of state:
//
// - The active counter: the number of permits currently held by executing
//   tasks. The invariant active <= permits holds at every moment, a permit is
//   taken when the task is dispatched and given back when the task completes,
//   regardless of whether it succeeded or failed.
//
// - The waiter queue: callers that arrived while every permit was held. They
//   wait in FIFO order, a released permit is always transferred to the oldest
//   waiter and a newly arrived caller can never jump ahead of one that is
//   already waiting.
//
// Clearing the limiter rejects every waiter with a cancellation error but
// never interrupts tasks that already started, a caller that wants to cancel
// in-flight work has to build that into the work itself (usually through its
// context) and the limiter will simply stop accounting for it when it
// returns.
