package calculator

import (
	"context"
	"errors"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
)

// Caller is anything that can make a call: *client.Client, *client.Pool or
// *transport.Client.
type Caller interface {
	Call(ctx context.Context, method string, params ...message.Value) (message.Value, error)
}

// Client is the typed calculator client.
//
// Errors come in three kinds: a lost connection (wrapping transport.ErrClosed),
// a server error (*message.Error carrying a string), and a response that is not
// what the calculator promises (*codec.ParseError). Local failures of the
// caller's middleware, such as middleware.ErrTimeout, are returned as is.
type Client struct {
	rpc Caller
}

// NewClient wraps rpc, typically a *client.Client or a *client.Pool.
func NewClient(rpc Caller) *Client {
	return &Client{rpc: rpc}
}

// Add sums values on the server and stores the sum.
func (c *Client) Add(ctx context.Context, values ...int64) (int64, error) {
	return c.call(ctx, "add", values)
}

// Sub subtracts values[1:] from values[0] on the server and stores the result.
func (c *Client) Sub(ctx context.Context, values ...int64) (int64, error) {
	return c.call(ctx, "sub", values)
}

// Res returns the stored result.
func (c *Client) Res(ctx context.Context) (int64, error) {
	return c.call(ctx, "res", nil)
}

// Clear resets the stored result and returns the old one.
func (c *Client) Clear(ctx context.Context) (int64, error) {
	return c.call(ctx, "clear", nil)
}

func (c *Client) call(ctx context.Context, method string, values []int64) (int64, error) {
	params := make([]message.Value, len(values))
	for i, v := range values {
		params[i] = v
	}

	res, err := c.rpc.Call(ctx, method, params...)
	if err != nil {
		var appErr *message.Error
		if errors.As(err, &appErr) {
			if _, perr := codec.AsString(appErr.Value); perr != nil {
				return 0, perr
			}
		}
		return 0, err
	}
	return codec.AsInt64(res)
}
