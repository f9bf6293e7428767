// Package loadbalance picks the hub a client connects to when discovery
// returns more than one.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless interfaces, equal-capacity hubs
//   - WeightedRandom:  Heterogeneous hubs (different CPU/memory)
//   - ConsistentHash:  Per-session interfaces; the client id is the key, so a
//     reconnecting client lands on the hub that holds its sessions
package loadbalance

import (
	"errors"
	"fmt"
	"hubrpc/registry"
)

// ErrNoInstances is returned by Pick when the instance list is empty.
var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. key identifies
	// the caller; strategies without affinity ignore it.
	// Must be goroutine-safe.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name: "round-robin",
// "weighted-random" or "consistent-hash".
func New(name string) (Balancer, error) {
	switch name {
	case "", "round-robin":
		return &RoundRobinBalancer{}, nil
	case "weighted-random":
		return &WeightedRandomBalancer{}, nil
	case "consistent-hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
