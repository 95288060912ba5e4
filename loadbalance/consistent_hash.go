package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"cmbc-pay/registry"
)

// ConsistentHashBalancer pins a gateway node to one bridge. The node key (usually
// the hostname) is hashed onto a ring of bridge instances, so every call from this
// node lands on the same bridge until the bridge set changes, and a change only
// moves the nodes whose arc was affected.
//
// Each bridge is placed on the ring as replicas virtual nodes ("{addr}#{i}") to
// spread nodes evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │   node ◆──►   │   (clockwise to nearest bridge → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int

	mu      sync.Mutex
	members string                               // sorted addrs the ring was built from
	ring    []uint32                             // sorted hash values on the ring
	nodes   map[uint32]*registry.ServiceInstance // hash value → instance
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per bridge.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: 100}
}

// Pick returns the bridge owning this balancer's key. The ring is rebuilt only
// when the discovered instance set differs from the last call.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if members := memberKey(instances); members != b.members {
		b.build(instances)
		b.members = members
	}

	hash := crc32.ChecksumIEEE([]byte(b.key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// Wrap around: past the last node goes to the first
	if idx == len(b.ring) {
		idx = 0
	}

	inst := *b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

func (b *ConsistentHashBalancer) build(instances []registry.ServiceInstance) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.ServiceInstance, len(instances)*b.replicas)
	for i := range instances {
		inst := instances[i]
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, r)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = &inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func memberKey(instances []registry.ServiceInstance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}
