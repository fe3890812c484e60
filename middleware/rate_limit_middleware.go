package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"msgpack-rpc/message"
)

// ErrRateLimited is returned by RateLimit when no token is available.
var ErrRateLimited = message.NewError("rate limit exceeded")

// RateLimit rejects calls above r per second with a token bucket of the given burst.
// The limiter is shared by every handler the middleware wraps.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
