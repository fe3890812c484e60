package loadbalance

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin(t *testing.T) {
	var b RoundRobin

	got := make([]int, 7)
	for i := range got {
		idx, err := b.Pick(3)
		require.NoError(t, err)
		got[i] = idx
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
	assert.Equal(t, "RoundRobin", b.Name())
}

func TestRoundRobinEmpty(t *testing.T) {
	var b RoundRobin
	_, err := b.Pick(0)
	assert.ErrorIs(t, err, ErrNoNodes)
}

func TestRoundRobinConcurrent(t *testing.T) {
	var b RoundRobin
	var mu sync.Mutex
	counts := make(map[int]int)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				idx, _ := b.Pick(4)
				mu.Lock()
				counts[idx]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for idx := 0; idx < 4; idx++ {
		assert.Equal(t, 300, counts[idx], "node %d", idx)
	}
}

func TestRingIsStable(t *testing.T) {
	r := NewRing(3, 0)

	first, err := r.Lookup("session-42")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		idx, err := r.Lookup("session-42")
		require.NoError(t, err)
		assert.Equal(t, first, idx)
	}

	// an identical ring agrees
	again, err := NewRing(3, 0).Lookup("session-42")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestRingSpreadsKeys(t *testing.T) {
	r := NewRing(3, 0)
	seen := make(map[int]int)
	for i := 0; i < 300; i++ {
		idx, err := r.Lookup(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 3)
		seen[idx]++
	}
	assert.Len(t, seen, 3)
}

func TestRingEmpty(t *testing.T) {
	_, err := NewRing(0, 10).Lookup("k")
	assert.ErrorIs(t, err, ErrNoNodes)
}
