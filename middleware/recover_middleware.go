package middleware

import (
	"context"

	"go.uber.org/zap"

	"msgpack-rpc/message"
)

// Recover turns a panic in next into an application error so one bad handler
// cannot take the process down.
func Recover(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (result message.Value, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.Error("handler panicked", zap.String("method", req.Method), zap.Any("panic", r))
				result, err = nil, message.Errorf("internal error in %s", req.Method)
			}()
			return next(ctx, req)
		}
	}
}
