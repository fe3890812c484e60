// Package loadbalance chooses one of several equivalent connections.
//
// Two strategies are implemented:
//   - RoundRobin: spreads calls evenly, for stateless services
//   - Ring:       maps a key to the same connection every time, for services
//     that keep state per connection
//
// Both work on connection indices, so the caller keeps ownership of the
// connections and decides what to do with one that is gone.
package loadbalance

import "errors"

// ErrNoNodes is returned when there is nothing to pick from.
var ErrNoNodes = errors.New("loadbalance: no nodes available")

// Balancer picks an index in [0, n). It must be goroutine-safe.
type Balancer interface {
	Pick(n int) (int, error)
	Name() string
}
