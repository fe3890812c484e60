package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Ack releases the job slot taken for one inbound call. It is safe to call more
// than once, only the first call releases.
type Ack func()

type jobLimiter interface {
	// Acquire blocks until a slot is free or ctx is done.
	Acquire(ctx context.Context) (Ack, error)
}

func newJobLimiter(limit int) jobLimiter {
	if limit <= 0 {
		return noopLimiter{}
	}
	return &limiter{sem: semaphore.NewWeighted(int64(limit))}
}

type noopLimiter struct{}

func (noopLimiter) Acquire(ctx context.Context) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

type limiter struct {
	sem *semaphore.Weighted
}

func (l *limiter) Acquire(ctx context.Context) (Ack, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.sem.Release(1) })
	}, nil
}

// job is one dispatched inbound call. Its slot is acked once the handler and
// every goroutine holding the job have returned.
type job struct {
	refs     atomic.Int32
	ack      Ack
	handlers *sync.WaitGroup
}

func newJob(ack Ack, handlers *sync.WaitGroup) *job {
	j := &job{ack: ack, handlers: handlers}
	j.refs.Store(1)
	handlers.Add(1)
	return j
}

// hold must be called while the job is still referenced.
func (j *job) hold() func() {
	j.refs.Add(1)
	j.handlers.Add(1)
	var once sync.Once
	return func() { once.Do(j.release) }
}

func (j *job) release() {
	defer j.handlers.Done()
	if j.refs.Add(-1) == 0 {
		j.ack()
	}
}
