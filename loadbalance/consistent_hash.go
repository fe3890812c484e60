package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
)

const defaultReplicas = 100

// Ring maps keys to node indices with consistent hashing. Each node gets
// replicas virtual nodes so the keys spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
//
// A Ring is immutable after NewRing and safe for concurrent use.
type Ring struct {
	hashes []uint32
	nodes  map[uint32]int
}

// NewRing places n nodes on the ring. replicas <= 0 selects the default of 100.
func NewRing(n, replicas int) *Ring {
	if replicas <= 0 {
		replicas = defaultReplicas
	}
	r := &Ring{
		hashes: make([]uint32, 0, n*replicas),
		nodes:  make(map[uint32]int, n*replicas),
	}
	for node := 0; node < n; node++ {
		for i := 0; i < replicas; i++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("node-%d#%d", node, i)))
			if _, taken := r.nodes[h]; taken {
				continue
			}
			r.hashes = append(r.hashes, h)
			r.nodes[h] = node
		}
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
	return r
}

// Lookup returns the node owning key: the first virtual node clockwise from
// the key's hash, wrapping past the end of the ring.
func (r *Ring) Lookup(key string) (int, error) {
	if len(r.hashes) == 0 {
		return 0, ErrNoNodes
	}
	h := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.nodes[r.hashes[idx]], nil
}

func (r *Ring) Name() string {
	return "ConsistentHash"
}
