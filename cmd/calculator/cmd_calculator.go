package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"msgpack-rpc/calculator"
	"msgpack-rpc/client"
	"msgpack-rpc/middleware"
	"msgpack-rpc/server"
)

const shutdownTimeout = 5 * time.Second

type DemoCommand struct {
	Addr     string `default:"127.0.0.1:54321" help:"Address to listen on."`
	JobLimit int    `help:"Calls handled at once per connection, 0 is unlimited."`
}

func (c *DemoCommand) Run(ctx context.Context, log *zap.Logger) error {
	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := server.NewServer(calculator.Factory(), server.WithLogger(log), server.WithJobLimit(c.JobLimit))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ServeListener(ctx, l)
	})
	g.Go(func() error {
		defer srv.Shutdown(shutdownTimeout) //nolint:errcheck
		return runChain(ctx, os.Stdout, l.Addr().String(), log)
	})
	return g.Wait()
}

// runChain calls add(1, 2, 3), sub(1), res() and clear() in order and stops at
// the first failure.
func runChain(ctx context.Context, w io.Writer, addr string, log *zap.Logger) error {
	conn, err := client.Dial(ctx, addr, client.WithLogger(log))
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintln(w, "connected")

	calc := calculator.NewClient(conn)
	steps := []struct {
		method string
		call   func() (int64, error)
	}{
		{"add", func() (int64, error) { return calc.Add(ctx, 1, 2, 3) }},
		{"sub", func() (int64, error) { return calc.Sub(ctx, 1) }},
		{"res", func() (int64, error) { return calc.Res(ctx) }},
		{"clear", func() (int64, error) { return calc.Clear(ctx) }},
	}
	for _, step := range steps {
		n, err := step.call()
		if err != nil {
			fmt.Fprintf(w, "%s failed: %v\n", step.method, err)
			return err
		}
		fmt.Fprintln(w, n)
	}
	return nil
}

type ServeCommand struct {
	Addr      string        `default:"127.0.0.1:54321" help:"Address to listen on."`
	JobLimit  int           `help:"Calls handled at once per connection, 0 is unlimited."`
	RateLimit float64       `help:"Calls per second accepted per connection, 0 is unlimited."`
	Timeout   time.Duration `default:"10s" help:"Fail calls that take longer."`
}

func (c *ServeCommand) Run(ctx context.Context, log *zap.Logger) error {
	return server.ServeWithJobLimit(ctx, c.Addr, calculator.Factory(c.middlewares(log)...), c.JobLimit, server.WithLogger(log))
}

func (c *ServeCommand) middlewares(log *zap.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.Recover(log), middleware.Logging(log)}
	if c.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(c.RateLimit, max(1, int(c.RateLimit))))
	}
	if c.Timeout > 0 {
		mws = append(mws, middleware.Timeout(c.Timeout))
	}
	return mws
}

type CallCommand struct {
	Addr    string        `default:"127.0.0.1:54321" help:"Address of the calculator."`
	Timeout time.Duration `default:"5s" help:"Give up on an attempt after this long."`
	Retries int           `default:"2" help:"Attempts to repeat after a timeout."`

	Method string  `arg:"" enum:"add,sub,res,clear" help:"One of add, sub, res, clear."`
	Values []int64 `arg:"" optional:"" help:"Operands of add and sub."`
}

var errUnknownMethod = errors.New("unknown method")

func (c *CallCommand) Run(ctx context.Context, log *zap.Logger) error {
	conn, err := client.Dial(ctx, c.Addr,
		client.WithLogger(log),
		client.WithDialTimeout(c.Timeout),
		client.WithMiddleware(
			middleware.Logging(log),
			middleware.Retry(c.Retries, 100*time.Millisecond),
			middleware.Timeout(c.Timeout),
		),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	return callOnce(ctx, os.Stdout, calculator.NewClient(conn), c.Method, c.Values)
}

func callOnce(ctx context.Context, w io.Writer, calc *calculator.Client, method string, values []int64) error {
	var (
		n   int64
		err error
	)
	switch method {
	case "add":
		n, err = calc.Add(ctx, values...)
	case "sub":
		n, err = calc.Sub(ctx, values...)
	case "res":
		n, err = calc.Res(ctx)
	case "clear":
		n, err = calc.Clear(ctx)
	default:
		return fmt.Errorf("%w: %s", errUnknownMethod, method)
	}
	if err != nil {
		fmt.Fprintf(w, "%s failed: %v\n", method, err)
		return err
	}
	fmt.Fprintln(w, n)
	return nil
}
