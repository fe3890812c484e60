package middleware

import "context"

type holdKey struct{}

// HoldFunc extends the life of the job that runs a handler past the handler's
// return. Each call returns a release func that must be called exactly once.
type HoldFunc func() (release func())

// WithHold attaches hold to ctx. The endpoint does this for every dispatched
// job, so a job slot stays taken while any goroutine spawned for it still runs.
func WithHold(ctx context.Context, hold HoldFunc) context.Context {
	return context.WithValue(ctx, holdKey{}, hold)
}

// Hold keeps the current job alive until release is called. Outside a
// dispatched job it does nothing.
func Hold(ctx context.Context) (release func()) {
	if hold, ok := ctx.Value(holdKey{}).(HoldFunc); ok {
		return hold()
	}
	return func() {}
}
