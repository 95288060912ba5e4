// Package loadbalance picks which signing bridge serves a call.
//
//   - RoundRobin:      bridges of equal capacity
//   - WeightedRandom:  bridges on heterogeneous hosts
//   - ConsistentHash:  one bridge per gateway node, stable across restarts
package loadbalance

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cmbc-pay/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each bridge call; it must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer named by config ("round_robin", "weighted_random" or
// "consistent_hash", keyed by hostname).
func New(name string) (Balancer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "round_robin", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash", "consistenthash":
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("loadbalance: node key: %w", err)
		}
		return NewConsistentHashBalancer(host), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
