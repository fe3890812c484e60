// Package service defines the contract an application implements to answer
// incoming requests and notifications, plus a method router built on it.
//
// Handlers run on their own goroutine per call, so they may block, do I/O, or
// call back into the peer through transport.ClientFromContext(ctx).
package service

import (
	"context"
	"errors"

	"msgpack-rpc/message"
)

// Service answers the calls arriving on one connection.
//
// HandleRequest returns the value sent back to the caller. Returning a
// *message.Error sends its Value as the error payload; any other error sends
// its Error() string. Either way the connection stays up.
//
// HandleNotification has no reply. Returning from it is the completion signal
// that releases the job slot the notification held.
type Service interface {
	HandleRequest(ctx context.Context, req *message.Request) (message.Value, error)
	HandleNotification(ctx context.Context, n *message.Notification)
}

// Factory builds the Service bound to a newly accepted connection.
type Factory func() Service

// Shared returns a Factory handing every connection the same instance.
// The instance must be safe for concurrent use.
func Shared(svc Service) Factory {
	return func() Service { return svc }
}

// Func adapts a request handler into a Service that ignores notifications.
type Func func(ctx context.Context, req *message.Request) (message.Value, error)

func (f Func) HandleRequest(ctx context.Context, req *message.Request) (message.Value, error) {
	return f(ctx, req)
}

func (f Func) HandleNotification(context.Context, *message.Notification) {}

// ErrorValue converts a handler error into the payload sent on the wire.
func ErrorValue(err error) message.Value {
	var appErr *message.Error
	if errors.As(err, &appErr) {
		if appErr.Value == nil {
			return ""
		}
		return appErr.Value
	}
	return err.Error()
}
