// Package client dials a msgpack-rpc server and runs the connection's
// transport.Endpoint in the background.
//
// Calls made through Client pass through caller-side middleware (logging,
// timeouts, retries) before reaching the endpoint:
//
//	Call → Middleware Chain → Endpoint.Client().Call → [0, id, method, params] → server
//
// The same connection can also serve calls initiated by the server when a
// service is attached with WithService.
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"msgpack-rpc/loadbalance"
	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/service"
	"msgpack-rpc/transport"
)

const defaultDialTimeout = 5 * time.Second

type config struct {
	log          *zap.Logger
	svc          service.Service
	middlewares  []middleware.Middleware
	dialTimeout  time.Duration
	endpointOpts []transport.Option
	balancer     loadbalance.Balancer
}

// Option configures Dial, New and DialPool.
type Option func(*config)

// WithLogger sets the logger of the connection. A nil log keeps the nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithService serves requests and notifications sent by the peer.
func WithService(svc service.Service) Option {
	return func(c *config) { c.svc = svc }
}

// WithMiddleware wraps every Call. The first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *config) { c.middlewares = append(c.middlewares, mws...) }
}

// WithDialTimeout bounds connection setup, 5s by default.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithEndpointOptions passes options through to the connection's transport.Endpoint.
func WithEndpointOptions(opts ...transport.Option) Option {
	return func(c *config) { c.endpointOpts = append(c.endpointOpts, opts...) }
}

// WithBalancer sets how Pool.Pick spreads calls, round robin by default.
// Other clients ignore it.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *config) {
		if b != nil {
			c.balancer = b
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		log:         zap.NewNop(),
		dialTimeout: defaultDialTimeout,
		balancer:    &loadbalance.RoundRobin{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Client is a connection to one server. It is safe for concurrent use.
type Client struct {
	ep      *transport.Endpoint
	handler middleware.HandlerFunc
	stopped chan struct{}
}

// Dial connects to address over TCP.
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	cfg := newConfig(opts)

	dialer := net.Dialer{Timeout: cfg.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", address, err)
	}
	return newClient(conn, cfg), nil
}

// New runs a client over an already established connection.
func New(conn io.ReadWriteCloser, opts ...Option) *Client {
	return newClient(conn, newConfig(opts))
}

func newClient(conn io.ReadWriteCloser, cfg config) *Client {
	opts := append([]transport.Option{transport.WithLogger(cfg.log.Named("client"))}, cfg.endpointOpts...)

	c := &Client{
		ep:      transport.NewEndpoint(conn, cfg.svc, opts...),
		stopped: make(chan struct{}),
	}
	c.handler = middleware.Chain(cfg.middlewares...)(c.invoke)

	go func() {
		defer close(c.stopped)
		// the endpoint logs its own failure
		_ = c.ep.Run(context.Background())
	}()
	return c
}

func (c *Client) invoke(ctx context.Context, req *message.Request) (message.Value, error) {
	return c.ep.Client().Call(ctx, req.Method, req.Params...)
}

// Call sends a request and waits for its outcome. An application error from
// the server is returned as *message.Error, a lost connection as an error
// wrapping transport.ErrClosed.
//
// Middleware sees the request before it has an id; the id is assigned when
// the request is sent.
func (c *Client) Call(ctx context.Context, method string, params ...message.Value) (message.Value, error) {
	return c.handler(ctx, message.NewRequest(0, method, params...))
}

// Notify sends a notification and returns once it is queued.
func (c *Client) Notify(ctx context.Context, method string, params ...message.Value) error {
	return c.ep.Client().Notify(ctx, method, params...)
}

// Handle returns the raw handle of the connection, for callers that want the
// Call future instead of blocking.
func (c *Client) Handle() *transport.Client {
	return c.ep.Client()
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.stopped
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	return c.ep.Err()
}

// Close closes the connection. Calls still waiting fail with transport.ErrClosed.
func (c *Client) Close() error {
	err := c.ep.Close()
	<-c.stopped
	return err
}
