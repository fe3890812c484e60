// Package transport implements the MessagePack-RPC endpoint: one connection,
// used in both directions at once.
//
// An Endpoint owns three loops sharing one errgroup:
//
//	readLoop:     conn → protocol.Reader ─┬─ Response     → pending[id] → caller wakes up
//	                                      ├─ Request/Notification → backlog
//	                                      └─ backlog full → "server busy" / dropped
//	dispatchLoop: backlog → job limiter (Acquire) → go handle → Service
//	writeLoop:    outbound queue → bufio → conn   (single writer, flushed when idle)
//
// The read loop never waits on handlers, so a handler calling back to the peer
// gets its response even when every job slot is taken.
//
// Outbound requests register in the pending table before their frame is queued,
// so a fast response can never miss its caller. Whatever ends the connection
// (peer EOF, read or write error, Close, context cancellation), every call
// still waiting is resolved with ErrClosed.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/protocol"
	"msgpack-rpc/service"
)

// ErrClosed is returned for calls that could not complete because the
// connection went away. The underlying cause, if any, is wrapped with it.
var ErrClosed = errors.New("transport: connection closed")

var errAlreadyRunning = errors.New("transport: endpoint is already running")

// busyError answers requests that arrive while the backlog is full.
const busyError = "server busy"

var endpointID atomic.Uint32

// Endpoint multiplexes outbound calls and inbound handling over a single
// connection. Create it with NewEndpoint and drive it with Run.
type Endpoint struct {
	conn io.ReadWriteCloser
	svc  service.Service
	cfg  Config
	log  *zap.Logger

	pending  *pending
	limiter  jobLimiter
	backlog  chan message.Message
	outbound chan []byte
	client   *Client
	handlers sync.WaitGroup

	mu        sync.Mutex
	started   bool
	closing   chan struct{}
	closeOnce sync.Once

	// dead is closed as soon as the loops have stopped; senders fail fast after that.
	dead         chan struct{}
	cause        error
	teardownOnce sync.Once
	connOnce     sync.Once
	closeErr     error
	done         chan struct{}
}

// NewEndpoint wraps conn. Inbound requests and notifications go to svc; a nil
// svc answers every request with an error and ignores notifications.
func NewEndpoint(conn io.ReadWriteCloser, svc service.Service, opts ...Option) *Endpoint {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if svc == nil {
		svc = noService{}
	}

	log := cfg.Logger.Named("endpoint").With(zap.Uint32("endpoint-id", endpointID.Add(1)))
	if nc, ok := conn.(net.Conn); ok && nc.RemoteAddr() != nil {
		log = log.With(zap.Stringer("remote", nc.RemoteAddr()))
	}

	e := &Endpoint{
		conn:     conn,
		svc:      svc,
		cfg:      cfg,
		log:      log,
		pending:  newPending(),
		limiter:  newJobLimiter(cfg.JobLimit),
		backlog:  make(chan message.Message, cfg.Backlog),
		outbound: make(chan []byte, cfg.OutboundQueue),
		closing:  make(chan struct{}),
		dead:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.client = &Client{ep: e}
	return e
}

// Client returns the handle used to issue requests and notifications to the peer.
// It stays valid after the endpoint stops; calls then fail with ErrClosed.
func (e *Endpoint) Client() *Client {
	return e.client
}

// Run serves the connection until the peer closes it, a fatal error occurs,
// ctx is cancelled or Close is called. It returns nil for the orderly cases
// and the fatal error otherwise. Run may only be called once.
func (e *Endpoint) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errAlreadyRunning
	}
	e.started = true
	e.mu.Unlock()

	select {
	case <-e.closing:
		// Close got there first and tears down on its own.
		<-e.done
		return nil
	default:
	}

	e.log.Debug("endpoint started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-e.closing:
			cancel()
		}
		// unblocks the read loop
		e.closeConn()
		return nil
	})
	g.Go(func() error { return e.readLoop(gctx) })
	g.Go(func() error { return e.writeLoop(gctx) })
	g.Go(func() error { return e.dispatchLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		e.log.Warn("endpoint stopped", zap.Error(err))
	} else {
		e.log.Debug("endpoint stopped")
	}

	e.teardown(err)
	return err
}

// Close stops the endpoint and waits until every pending call is resolved and
// every running handler has returned. It is safe to call more than once and
// before Run.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	started := e.started
	e.closeOnce.Do(func() { close(e.closing) })
	e.mu.Unlock()

	if !started {
		e.teardown(nil)
	}
	<-e.done
	return e.closeErr
}

// Done is closed once the endpoint has fully stopped.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that stopped the endpoint, nil while it is running or
// when it stopped in an orderly way.
func (e *Endpoint) Err() error {
	select {
	case <-e.done:
		return e.cause
	default:
		return nil
	}
}

// Pending returns the number of outbound calls waiting for a response.
func (e *Endpoint) Pending() int {
	return e.pending.len()
}

func (e *Endpoint) teardown(cause error) {
	e.teardownOnce.Do(func() {
		e.cause = cause
		close(e.dead)
		e.closeConn()

		closedErr := e.closedErr()
		for _, call := range e.pending.drain(closedErr) {
			call.fail(closedErr)
		}
		// Handlers may still be waiting on calls of their own, so they are
		// awaited only after the pending table is drained.
		e.handlers.Wait()
		close(e.done)
	})
}

func (e *Endpoint) closeConn() {
	e.connOnce.Do(func() {
		err := e.conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			e.closeErr = err
		}
	})
}

// closedErr must only be called once dead is closed.
func (e *Endpoint) closedErr() error {
	if e.cause != nil {
		return fmt.Errorf("%w: %w", ErrClosed, e.cause)
	}
	return ErrClosed
}

func (e *Endpoint) readLoop(ctx context.Context) error {
	r := protocol.NewReader(e.conn, e.cfg.MaxFrameSize)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				e.log.Debug("peer closed the connection")
				return io.EOF
			}
			return fmt.Errorf("read: %w", err)
		}

		switch m := msg.(type) {
		case *message.Response:
			e.resolve(m)
		default:
			select {
			case e.backlog <- msg:
			default:
				e.shed(ctx, msg)
			}
		}
	}
}

// shed turns away an inbound call that found the backlog full.
func (e *Endpoint) shed(ctx context.Context, msg message.Message) {
	switch m := msg.(type) {
	case *message.Request:
		e.log.Warn("backlog full, rejecting request", zap.String("method", m.Method), zap.Uint32("id", m.ID))
		frame, err := protocol.Marshal(message.NewErrorResponse(m.ID, busyError))
		if err != nil {
			return
		}
		if err := e.send(ctx, frame); err != nil {
			e.log.Debug("response dropped", zap.String("method", m.Method), zap.Uint32("id", m.ID), zap.Error(err))
		}
	case *message.Notification:
		e.log.Warn("backlog full, dropping notification", zap.String("method", m.Method))
	}
}

func (e *Endpoint) resolve(resp *message.Response) {
	call := e.pending.take(resp.ID)
	if call == nil {
		e.log.Warn("discarding response with no matching request", zap.Uint32("id", resp.ID))
		return
	}
	call.resolve(resp)
}

func (e *Endpoint) writeLoop(ctx context.Context) error {
	bw := bufio.NewWriter(e.conn)
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-e.outbound:
			if _, err := bw.Write(frame); err != nil {
				return e.writeErr(ctx, err)
			}
			if len(e.outbound) > 0 {
				continue
			}
			if err := bw.Flush(); err != nil {
				return e.writeErr(ctx, err)
			}
		}
	}
}

func (e *Endpoint) writeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("write: %w", err)
}

func (e *Endpoint) dispatchLoop(ctx context.Context) error {
	hctx := withClient(ctx, e.client)
	for {
		var msg message.Message
		select {
		case <-ctx.Done():
			return nil
		case msg = <-e.backlog:
		}

		ack, err := e.limiter.Acquire(ctx)
		if err != nil {
			return nil
		}
		j := newJob(ack, &e.handlers)
		go func() {
			defer j.release()
			e.handle(middleware.WithHold(hctx, j.hold), msg)
		}()
	}
}

func (e *Endpoint) handle(ctx context.Context, msg message.Message) {
	switch m := msg.(type) {
	case *message.Request:
		e.handleRequest(ctx, m)
	case *message.Notification:
		e.handleNotification(ctx, m)
	}
}

func (e *Endpoint) handleRequest(ctx context.Context, req *message.Request) {
	resp := e.call(ctx, req)

	frame, err := protocol.Marshal(resp)
	if err != nil {
		e.log.Error("cannot encode response", zap.String("method", req.Method), zap.Uint32("id", req.ID), zap.Error(err))
		frame, err = protocol.Marshal(message.NewErrorResponse(req.ID, "cannot encode result: "+err.Error()))
		if err != nil {
			return
		}
	}
	if err := e.send(ctx, frame); err != nil {
		e.log.Debug("response dropped", zap.String("method", req.Method), zap.Uint32("id", req.ID), zap.Error(err))
	}
}

func (e *Endpoint) call(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("request handler panicked", zap.String("method", req.Method), zap.Any("panic", r), zap.Stack("stack"))
			resp = message.NewErrorResponse(req.ID, "internal error in "+req.Method)
		}
	}()

	result, err := e.svc.HandleRequest(ctx, req)
	if err != nil {
		return message.NewErrorResponse(req.ID, service.ErrorValue(err))
	}
	return message.NewResult(req.ID, result)
}

func (e *Endpoint) handleNotification(ctx context.Context, n *message.Notification) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notification handler panicked", zap.String("method", n.Method), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	e.svc.HandleNotification(ctx, n)
}

// send queues an encoded frame for the writer.
func (e *Endpoint) send(ctx context.Context, frame []byte) error {
	select {
	case <-e.dead:
		return e.closedErr()
	default:
	}

	select {
	case e.outbound <- frame:
		return nil
	case <-e.dead:
		return e.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noService struct{}

func (noService) HandleRequest(context.Context, *message.Request) (message.Value, error) {
	return nil, message.NewError("no service")
}

func (noService) HandleNotification(context.Context, *message.Notification) {}
