// Package server is the connection acceptor: it listens, and gives every
// accepted connection its own transport.Endpoint and service instance.
//
//	Accept conn → factory() → NewEndpoint(conn, svc) → go Run
//	                              │
//	                              └─ own pending table, job limiter and handlers;
//	                                 a failing connection never touches the others
//	                                 or the accept loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"msgpack-rpc/service"
	"msgpack-rpc/transport"
)

var (
	ErrServing         = errors.New("server: already serving")
	ErrShutdownTimeout = errors.New("server: timeout waiting for connections to finish")
)

// Server accepts connections and serves each one with a fresh service
// instance from its factory.
type Server struct {
	factory      service.Factory
	log          *zap.Logger
	endpointOpts []transport.Option

	mu        sync.Mutex
	listener  net.Listener
	endpoints map[*transport.Endpoint]struct{}
	wg        sync.WaitGroup // running endpoints
	shutdown  atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the server and its endpoints.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithJobLimit caps concurrently handled calls per connection. 0 means unlimited.
func WithJobLimit(limit int) Option {
	return WithEndpointOptions(transport.WithJobLimit(limit))
}

// WithEndpointOptions passes options to every endpoint the server creates.
func WithEndpointOptions(opts ...transport.Option) Option {
	return func(s *Server) {
		s.endpointOpts = append(s.endpointOpts, opts...)
	}
}

// NewServer creates a server that gives every accepted connection the
// service returned by factory.
func NewServer(factory service.Factory, opts ...Option) *Server {
	s := &Server{
		factory:   factory,
		log:       zap.NewNop(),
		endpoints: make(map[*transport.Endpoint]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("server")
	return s
}

// Serve listens on address and accepts connections until ctx is cancelled or
// Shutdown is called, in which case it returns nil.
func (s *Server) Serve(ctx context.Context, network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.ServeListener(ctx, l)
}

// ServeListener accepts connections from l. The listener is closed when
// ServeListener returns.
func (s *Server) ServeListener(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrServing
	}
	s.listener = l
	s.mu.Unlock()
	defer l.Close()

	stop := context.AfterFunc(ctx, func() {
		s.shutdown.Store(true)
		_ = l.Close()
	})
	defer stop()

	s.log.Info("serving", zap.Stringer("addr", l.Addr()))
	for {
		conn, err := l.Accept()
		if err != nil {
			// Closing the listener is how Shutdown and ctx stop the loop.
			if s.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	opts := append([]transport.Option{transport.WithLogger(s.log)}, s.endpointOpts...)
	ep := transport.NewEndpoint(conn, s.factory(), opts...)

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = ep.Close()
		return
	}
	s.endpoints[ep] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	log := s.log.With(zap.Stringer("remote", conn.RemoteAddr()))
	log.Debug("connection accepted")

	go func() {
		defer s.wg.Done()
		err := ep.Run(ctx)

		s.mu.Lock()
		delete(s.endpoints, ep)
		s.mu.Unlock()
		log.Debug("connection closed", zap.Error(err))
	}()
}

// Addr returns the listening address, or nil before serving starts.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the number of connections being served.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

// Shutdown stops accepting, closes every connection and waits up to timeout
// for their handlers to return. Pending calls on those connections resolve
// with transport.ErrClosed.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set the flag before closing so the accept loop reports a clean stop.
	s.shutdown.Store(true)

	s.mu.Lock()
	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	endpoints := make([]*transport.Endpoint, 0, len(s.endpoints))
	for ep := range s.endpoints {
		endpoints = append(endpoints, ep)
	}
	s.mu.Unlock()

	s.log.Info("shutting down", zap.Int("connections", len(endpoints)))

	closeErrs := make([]error, len(endpoints))
	done := make(chan struct{})
	go func() {
		var g errgroup.Group
		for i, ep := range endpoints {
			i, ep := i, ep
			g.Go(func() error {
				closeErrs[i] = ep.Close()
				return nil
			})
		}
		_ = g.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return multierr.Append(err, multierr.Combine(closeErrs...))
	case <-time.After(timeout):
		return multierr.Append(err, ErrShutdownTimeout)
	}
}

// Serve accepts TCP connections on address and serves each with a service
// from factory, until ctx is cancelled.
func Serve(ctx context.Context, address string, factory service.Factory, opts ...Option) error {
	return NewServer(factory, opts...).Serve(ctx, "tcp", address)
}

// ServeWithJobLimit is Serve with at most limit calls handled at once per
// connection.
func ServeWithJobLimit(ctx context.Context, address string, factory service.Factory, limit int, opts ...Option) error {
	opts = append(opts, WithJobLimit(limit))
	return NewServer(factory, opts...).Serve(ctx, "tcp", address)
}
