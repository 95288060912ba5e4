// Package registry locates signing bridge instances.
//
// A deployment either pins one bridge (StaticRegistry, built from host/port config)
// or lets bridges announce themselves in etcd (EtcdRegistry).
package registry

import (
	"errors"
	"net"
	"strconv"
	"sync"
)

var ErrNoInstances = errors.New("registry: no bridge instances")

type ServiceInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
}

type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	Watch(serviceName string) <-chan []ServiceInstance
}

// StaticRegistry serves a fixed, in-memory instance list. Register and Deregister
// mutate it, which lets the loopback server and tests share one.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{instances: make(map[string][]ServiceInstance)}
}

// NewStaticBridge returns a registry holding a single bridge at host:port.
func NewStaticBridge(serviceName, host string, port int) *StaticRegistry {
	r := NewStaticRegistry()
	r.Register(serviceName, ServiceInstance{Addr: net.JoinHostPort(host, strconv.Itoa(port)), Weight: 1}, 0)
	return r
}

func (r *StaticRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances[serviceName] {
		if inst.Addr == instance.Addr {
			return nil
		}
	}
	r.instances[serviceName] = append(r.instances[serviceName], instance)
	return nil
}

func (r *StaticRegistry) Deregister(serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			r.instances[serviceName] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	insts := r.instances[serviceName]
	if len(insts) == 0 {
		return nil, ErrNoInstances
	}
	return append([]ServiceInstance(nil), insts...), nil
}

// Watch emits the current list once; a static registry never changes on its own.
func (r *StaticRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	insts, _ := r.Discover(serviceName)
	ch <- insts
	close(ch)
	return ch
}
