package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"msgpack-rpc/message"
)

// Logging logs the method, duration and error of every call at debug level.
// Application errors are logged at info level, other failures at warn.
func Logging(log *zap.Logger) Middleware {
	log = log.Named("rpc")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			start := time.Now()
			result, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Uint32("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}

			switch err.(type) {
			case nil:
				log.Debug("call done", fields...)
			case *message.Error:
				log.Info("call returned error", append(fields, zap.Error(err))...)
			default:
				log.Warn("call failed", append(fields, zap.Error(err))...)
			}
			return result, err
		}
	}
}
