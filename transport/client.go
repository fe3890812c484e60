package transport

import (
	"context"

	"msgpack-rpc/message"
	"msgpack-rpc/protocol"
)

// Client issues requests and notifications to the peer of an Endpoint.
// It is safe for concurrent use.
type Client struct {
	ep *Endpoint
}

// Request sends a request and returns a Call that completes when the matching
// response arrives or the connection goes away. The returned error covers only
// the send itself: encoding failures, a closed endpoint or ctx expiring while
// the outbound queue is full.
func (c *Client) Request(ctx context.Context, method string, params ...message.Value) (*Call, error) {
	call := newCall(method)
	id, err := c.ep.pending.register(call)
	if err != nil {
		return nil, err
	}

	frame, err := protocol.Marshal(message.NewRequest(id, method, params...))
	if err != nil {
		c.ep.pending.remove(id, call)
		return nil, err
	}
	if err := c.ep.send(ctx, frame); err != nil {
		c.ep.pending.remove(id, call)
		return nil, err
	}
	return call, nil
}

// Call sends a request and waits for its outcome.
func (c *Client) Call(ctx context.Context, method string, params ...message.Value) (message.Value, error) {
	call, err := c.Request(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Notify sends a notification. No response is ever sent for it.
func (c *Client) Notify(ctx context.Context, method string, params ...message.Value) error {
	frame, err := protocol.Marshal(message.NewNotification(method, params...))
	if err != nil {
		return err
	}
	return c.ep.send(ctx, frame)
}

// Endpoint returns the endpoint the client belongs to.
func (c *Client) Endpoint() *Endpoint {
	return c.ep
}

// Call is an outstanding request. It completes exactly once.
type Call struct {
	ID     uint32
	Method string

	done   chan struct{}
	result message.Value
	err    error
}

func newCall(method string) *Call {
	return &Call{Method: method, done: make(chan struct{})}
}

// Done is closed when the outcome is known.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It must only be called after Done is closed.
//
// The error is a *message.Error when the peer answered with an error value,
// or wraps ErrClosed when the connection went away first.
func (c *Call) Result() (message.Value, error) {
	return c.result, c.err
}

// Wait blocks until the outcome is known or ctx is done. Giving up does not
// cancel anything on the peer; a late response is discarded.
func (c *Call) Wait(ctx context.Context) (message.Value, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) resolve(resp *message.Response) {
	c.result, c.err = resp.Outcome()
	close(c.done)
}

func (c *Call) fail(err error) {
	c.err = err
	close(c.done)
}

type clientKey struct{}

func withClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFromContext returns the client of the endpoint that is running the
// current handler, so a handler can call back into its peer.
func ClientFromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(clientKey{}).(*Client)
	return c, ok
}
