package metrics

import (
	"context"
	"time"

	"github.com/fairgate/fairgate"
)

var ctxRecorderKey contextKey = "recorder"

type contextKey string

func (c contextKey) String() string {
	return "metrics-ctx-key" + string(c)
}

// RecorderFromContext will get the metrics recorder from the context.
// If there is no recorder it will return also a dummy recorder that is
// safe to use.
func RecorderFromContext(ctx context.Context) (recorder Recorder, ok bool) {
	rec, ok := ctx.Value(ctxRecorderKey).(Recorder)

	if !ok {
		return Dummy, false
	}

	return rec, true
}

// SetRecorderOnContext returns a copy of the context carrying the recorder.
// NewMeasuredRunner does this for runner chains; entry points that are not
// runners (the task queue's Enqueue) receive the recorder this way.
func SetRecorderOnContext(ctx context.Context, r Recorder) context.Context {
	return context.WithValue(ctx, ctxRecorderKey, r)
}

// NewMeasuredRunner is a decorator that will measure the execution of the
// wrapped runner chain and set the received recorder on the context so every
// primitive below it records against the same id.
func NewMeasuredRunner(id string, rec Recorder, r fairgate.Runner) fairgate.Runner {
	if rec == nil {
		rec = Dummy
	}
	rec = rec.WithID(id)

	r = fairgate.SanitizeRunner(r)

	return fairgate.RunnerFunc(func(ctx context.Context, f fairgate.Func) (err error) {
		defer func(start time.Time) {
			rec.ObserveCommandExecution(start, err == nil)
		}(time.Now())

		ctx = SetRecorderOnContext(ctx, rec)

		err = r.Run(ctx, f)

		return err
	})
}
