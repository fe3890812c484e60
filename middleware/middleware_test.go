package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"msgpack-rpc/message"
)

// returns the method name as result
func echoHandler(ctx context.Context, req *message.Request) (message.Value, error) {
	return req.Method, nil
}

// sleeps 200ms unless cancelled
func slowHandler(ctx context.Context, req *message.Request) (message.Value, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return "ok", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := Logging(zap.New(core))(echoHandler)

	resp, err := handler(context.Background(), message.NewRequest(1, "add"))
	require.NoError(t, err)
	assert.Equal(t, "add", resp)

	failing := Logging(zap.New(core))(func(context.Context, *message.Request) (message.Value, error) {
		return nil, message.NewError("bad input")
	})
	_, err = failing(context.Background(), message.NewRequest(2, "sub"))
	require.Error(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "call done", entries[0].Message)
	assert.Equal(t, "add", entries[0].ContextMap()["method"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "sub", entries[1].ContextMap()["method"])
}

func TestTimeoutPass(t *testing.T) {
	// 500ms timeout, fast handler
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	resp, err := handler(context.Background(), message.NewRequest(1, "add"))
	require.NoError(t, err)
	assert.Equal(t, "add", resp)
}

func TestTimeoutExceeded(t *testing.T) {
	// 50ms timeout, handler needs 200ms
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), message.NewRequest(1, "add"))
	assert.Same(t, ErrTimeout, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualError(t, err, "request timed out")

	// a local failure, not something the peer answered
	var appErr *message.Error
	assert.False(t, errors.As(err, &appErr))
}

func TestTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Timeout(time.Second)(slowHandler)(ctx, message.NewRequest(1, "add"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeoutHoldsJobUntilHandlerReturns(t *testing.T) {
	var held atomic.Int32
	ctx := WithHold(context.Background(), func() func() {
		held.Add(1)
		return func() { held.Add(-1) }
	})

	unblock := make(chan struct{})
	returned := make(chan struct{})
	handler := Timeout(10 * time.Millisecond)(func(ctx context.Context, req *message.Request) (message.Value, error) {
		defer close(returned)
		<-unblock
		return "late", nil
	})

	_, err := handler(ctx, message.NewRequest(1, "stuck"))
	assert.Same(t, ErrTimeout, err)
	assert.Equal(t, int32(1), held.Load(), "the detached handler still owns the job")

	close(unblock)
	<-returned
	assert.Eventually(t, func() bool { return held.Load() == 0 }, time.Second, time.Millisecond)
}

func TestTimeoutRecoversDetachedPanic(t *testing.T) {
	handler := Timeout(time.Second)(func(context.Context, *message.Request) (message.Value, error) {
		panic("boom")
	})

	_, err := handler(context.Background(), message.NewRequest(1, "explode"))
	var appErr *message.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "internal error in explode", appErr.Value)
}

func TestHoldWithoutJob(t *testing.T) {
	release := Hold(context.Background())
	release()
}

func TestRateLimit(t *testing.T) {
	// 1 token per second, burst 2: the first two pass, the third is rejected
	handler := RateLimit(1, 2)(echoHandler)
	req := message.NewRequest(1, "add")

	for i := 0; i < 2; i++ {
		_, err := handler(context.Background(), req)
		require.NoError(t, err, "request %d should pass", i)
	}

	_, err := handler(context.Background(), req)
	assert.Same(t, ErrRateLimited, err)
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.Request) (message.Value, error) {
		if calls.Add(1) < 3 {
			return nil, ErrTimeout
		}
		return "ok", nil
	}

	resp, err := Retry(3, time.Millisecond)(flaky)(context.Background(), message.NewRequest(1, "m"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	handler := Retry(2, time.Millisecond)(func(ctx context.Context, req *message.Request) (message.Value, error) {
		calls.Add(1)
		return nil, context.DeadlineExceeded
	})

	_, err := handler(context.Background(), message.NewRequest(1, "m"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetrySkipsApplicationErrors(t *testing.T) {
	var calls atomic.Int32
	handler := Retry(5, time.Millisecond)(func(ctx context.Context, req *message.Request) (message.Value, error) {
		calls.Add(1)
		return nil, message.NewError("no")
	})

	_, err := handler(context.Background(), message.NewRequest(1, "m"))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRecover(t *testing.T) {
	handler := Recover(zaptest.NewLogger(t))(func(context.Context, *message.Request) (message.Value, error) {
		panic("boom")
	})

	_, err := handler(context.Background(), message.NewRequest(1, "explode"))
	var appErr *message.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "internal error in explode", appErr.Value)
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (message.Value, error) {
				order = append(order, name+".before")
				resp, err := next(ctx, req)
				order = append(order, name+".after")
				return resp, err
			}
		}
	}

	handler := Chain(mark("A"), mark("B"), Timeout(500*time.Millisecond))(echoHandler)
	resp, err := handler(context.Background(), message.NewRequest(1, "add"))
	require.NoError(t, err)
	assert.Equal(t, "add", resp)
	assert.Equal(t, []string{"A.before", "B.before", "B.after", "A.after"}, order)
}
