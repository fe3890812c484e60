// Package middleware provides the onion-style handler chain shared by the serving
// side (service.Mux) and the calling side (client.Client).
//
// A HandlerFunc has the shape of one request/response exchange, so the same
// middleware can wrap a local handler or an outbound call:
//
//	Chain(A, B, C)(h) == A(B(C(h)))
//
// Execution order: A.before → B.before → C.before → h → C.after → B.after → A.after
package middleware

import (
	"context"

	"msgpack-rpc/message"
)

// HandlerFunc handles one request and returns its result or error.
type HandlerFunc func(ctx context.Context, req *message.Request) (message.Value, error)

// Middleware wraps a HandlerFunc with extra behaviour.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one. The first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
