package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"msgpack-rpc/calculator"
	"msgpack-rpc/client"
	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/server"
)

func startServer(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.NewServer(calculator.Factory(), server.WithLogger(zaptest.NewLogger(t)))
	errc := make(chan error, 1)
	go func() { errc <- srv.ServeListener(context.Background(), l) }()
	t.Cleanup(func() {
		assert.NoError(t, srv.Shutdown(time.Second))
		assert.NoError(t, <-errc)
	})
	return l.Addr().String()
}

func TestRunChain(t *testing.T) {
	addr := startServer(t)

	var out bytes.Buffer
	require.NoError(t, runChain(context.Background(), &out, addr, zaptest.NewLogger(t)))
	assert.Equal(t, "connected\n6\n1\n1\n1\n", out.String())
}

func TestCallOnce(t *testing.T) {
	addr := startServer(t)
	ctx := context.Background()

	conn, err := client.Dial(ctx, addr)
	require.NoError(t, err)
	defer conn.Close()
	calc := calculator.NewClient(conn)

	var out bytes.Buffer
	require.NoError(t, callOnce(ctx, &out, calc, "add", []int64{20, 22}))
	assert.Error(t, callOnce(ctx, &out, calc, "sub", nil))
	require.NoError(t, callOnce(ctx, &out, calc, "clear", nil))
	assert.Error(t, callOnce(ctx, &out, calc, "res", nil))
	assert.ErrorIs(t, callOnce(ctx, &out, calc, "mul", nil), errUnknownMethod)

	assert.Equal(t, "42\n"+
		"sub failed: sub requires at least one argument\n"+
		"42\n"+
		"res failed: no result available\n", out.String())
}

func TestServeMiddlewares(t *testing.T) {
	cmd := ServeCommand{RateLimit: 1, Timeout: time.Second}
	svc := calculator.NewService(cmd.middlewares(zaptest.NewLogger(t))...)
	ctx := context.Background()

	res, err := svc.HandleRequest(ctx, message.NewRequest(1, "add", int64(2), int64(3)))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res)

	_, err = svc.HandleRequest(ctx, message.NewRequest(2, "res"))
	assert.Same(t, middleware.ErrRateLimited, err)
}
