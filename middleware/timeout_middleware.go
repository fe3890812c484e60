package middleware

import (
	"context"
	"errors"
	"time"

	"msgpack-rpc/message"
)

type timeoutError struct{}

func (*timeoutError) Error() string { return "request timed out" }
func (*timeoutError) Timeout() bool { return true }
func (*timeoutError) Unwrap() error { return context.DeadlineExceeded }

// ErrTimeout is returned by Timeout when next did not finish in time.
//
// It is a local error matching context.DeadlineExceeded, not an application
// error: on the serving side the peer receives its text "request timed out",
// on the calling side it tells a slow call apart from a peer's error.
var ErrTimeout error = &timeoutError{}

// Timeout bounds next with a deadline. next keeps running in the background
// after the deadline, it is expected to observe ctx and return. The job slot
// of a dispatched request stays held until it does.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result message.Value
				err    error
			}
			done := make(chan outcome, 1)
			release := Hold(ctx)
			go func() {
				defer release()
				defer func() {
					if r := recover(); r != nil {
						done <- outcome{err: message.Errorf("internal error in %s", req.Method)}
					}
				}()
				result, err := next(ctx, req)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, ErrTimeout
				}
				return nil, ctx.Err()
			}
		}
	}
}
