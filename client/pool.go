package client

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"msgpack-rpc/loadbalance"
	"msgpack-rpc/message"
)

// ErrNoConnection is returned by Pick when every connection of the pool is gone.
var ErrNoConnection = errors.New("client: no live connection in pool")

// Pool holds several connections to one address and spreads calls over them
// with a loadbalance.Balancer, round robin unless WithBalancer says otherwise.
// Connections are multiplexed, so they are shared rather than borrowed.
//
// Services that keep state per connection can pin a session to one
// connection with PickKey and CallKey.
type Pool struct {
	clients  []*Client
	balancer loadbalance.Balancer
	ring     *loadbalance.Ring
}

// DialPool opens size connections to address. If any dial fails, the ones
// already open are closed.
func DialPool(ctx context.Context, address string, size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, errors.New("client: pool size must be positive")
	}

	cfg := newConfig(opts)
	clients := make([]*Client, size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range clients {
		i := i
		g.Go(func() error {
			c, err := Dial(gctx, address, opts...)
			clients[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range clients {
			if c != nil {
				_ = c.Close()
			}
		}
		return nil, err
	}
	cfg.log.Debug("pool ready", zap.String("address", address), zap.Int("size", size), zap.String("balancer", cfg.balancer.Name()))
	return &Pool{clients: clients, balancer: cfg.balancer, ring: loadbalance.NewRing(size, 0)}, nil
}

// Pick returns the connection chosen by the balancer, or the next live one
// after it when that connection is gone.
func (p *Pool) Pick() (*Client, error) {
	start, err := p.balancer.Pick(len(p.clients))
	if err != nil {
		return nil, ErrNoConnection
	}
	return p.live(start)
}

// PickKey returns the connection owning key. While that connection is alive,
// the same key always gets it.
func (p *Pool) PickKey(key string) (*Client, error) {
	start, err := p.ring.Lookup(key)
	if err != nil {
		return nil, ErrNoConnection
	}
	return p.live(start)
}

// live returns the first connection still running, probing from start.
func (p *Pool) live(start int) (*Client, error) {
	n := len(p.clients)
	for i := 0; i < n; i++ {
		c := p.clients[(start+i)%n]
		select {
		case <-c.Done():
			continue
		default:
			return c, nil
		}
	}
	return nil, ErrNoConnection
}

// Call runs one call on the connection returned by Pick.
func (p *Pool) Call(ctx context.Context, method string, params ...message.Value) (message.Value, error) {
	c, err := p.Pick()
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, method, params...)
}

// CallKey is Call on the connection owning key.
func (p *Pool) CallKey(ctx context.Context, key, method string, params ...message.Value) (message.Value, error) {
	c, err := p.PickKey(key)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, method, params...)
}

// Notify sends a notification on the connection returned by Pick.
func (p *Pool) Notify(ctx context.Context, method string, params ...message.Value) error {
	c, err := p.Pick()
	if err != nil {
		return err
	}
	return c.Notify(ctx, method, params...)
}

// Size returns the number of connections, live or not.
func (p *Pool) Size() int {
	return len(p.clients)
}

// Close closes every connection and reports all failures.
func (p *Pool) Close() error {
	var err error
	for _, c := range p.clients {
		err = multierr.Append(err, c.Close())
	}
	return err
}
