package loadbalance

import "sync/atomic"

// RoundRobin hands out indices in order, wrapping around.
// The zero value is ready to use.
type RoundRobin struct {
	counter atomic.Uint64
}

func (b *RoundRobin) Pick(n int) (int, error) {
	if n <= 0 {
		return 0, ErrNoNodes
	}
	return int((b.counter.Add(1) - 1) % uint64(n)), nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
