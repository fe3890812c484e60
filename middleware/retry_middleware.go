package middleware

import (
	"context"
	"errors"
	"time"

	"msgpack-rpc/message"
)

// Retry re-runs next when it timed out, with exponential backoff starting at baseDelay.
// Other errors, including application errors, are returned immediately.
func Retry(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			result, err := next(ctx, req)
			for i := 0; i < maxRetries && retryable(err); i++ {
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				result, err = next(ctx, req)
			}
			return result, err
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
