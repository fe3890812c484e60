// Package calculator is a small stateful msgpack-rpc service and its typed
// client. The server remembers the last result per connection.
//
//	add(a, b, ...)  → a + b + ...       (stored)
//	sub(a, b, ...)  → a - b - ...       (stored)
//	res()           → last result
//	clear()         → last result, then forgets it
//
// The stored result is never an operand, so sub(1) is 1 whatever came before.
package calculator

import (
	"context"
	"errors"
	"sync"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/service"
)

var (
	ErrNoResult  = message.NewError("no result available")
	ErrSubNoArgs = message.NewError("sub requires at least one argument")
	ErrOverflow  = message.NewError("result overflows int64")
)

// Calculator holds the state of one connection.
type Calculator struct {
	mu   sync.Mutex
	last int64
	set  bool
}

// NewService returns a fresh calculator ready to be served, with mws wrapped
// around every method.
func NewService(mws ...middleware.Middleware) service.Service {
	mux := service.NewMux()
	for _, mw := range mws {
		mux.Use(mw)
	}
	if _, err := mux.Register(&Calculator{}); err != nil {
		panic(err)
	}
	return mux
}

// Factory gives every connection its own calculator.
func Factory(mws ...middleware.Middleware) service.Factory {
	return func() service.Service {
		return NewService(mws...)
	}
}

// Add sums every argument, 0 for none.
func (c *Calculator) Add(ctx context.Context, params []message.Value) (message.Value, error) {
	ns, err := operands(params)
	if err != nil {
		return nil, err
	}
	var sum int64
	for _, n := range ns {
		if sum, err = add(sum, n); err != nil {
			return nil, err
		}
	}
	return c.store(sum), nil
}

// Sub subtracts the remaining arguments from the first one.
func (c *Calculator) Sub(ctx context.Context, params []message.Value) (message.Value, error) {
	if len(params) == 0 {
		return nil, ErrSubNoArgs
	}
	ns, err := operands(params)
	if err != nil {
		return nil, err
	}
	diff := ns[0]
	for _, n := range ns[1:] {
		if diff, err = sub(diff, n); err != nil {
			return nil, err
		}
	}
	return c.store(diff), nil
}

// Res returns the stored result.
func (c *Calculator) Res(ctx context.Context, params []message.Value) (message.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil, ErrNoResult
	}
	return c.last, nil
}

// Clear forgets the stored result and returns it, 0 if there was none.
func (c *Calculator) Clear(ctx context.Context, params []message.Value) (message.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.last
	c.last, c.set = 0, false
	return last, nil
}

func (c *Calculator) store(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last, c.set = n, true
	return n
}

func operands(params []message.Value) ([]int64, error) {
	ns := make([]int64, len(params))
	for i, p := range params {
		n, err := codec.AsInt64(p)
		if err != nil {
			var parseErr *codec.ParseError
			if errors.As(err, &parseErr) && parseErr.Err != nil {
				return nil, message.Errorf("argument %d overflows int64", i)
			}
			return nil, message.Errorf("argument %d is not an integer", i)
		}
		ns[i] = n
	}
	return ns, nil
}

func add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

func sub(a, b int64) (int64, error) {
	s := a - b
	if (b > 0 && s > a) || (b < 0 && s < a) {
		return 0, ErrOverflow
	}
	return s, nil
}
