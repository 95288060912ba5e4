// The etcd implementation of the Registry interface.
//
// Bridges announce themselves under
//
//	Key:   /cmbc-bridge/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if a bridge dies, its lease expires and the
// entry disappears, so clients stop dialing it.

package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/cmbc-bridge/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client  *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	timeout time.Duration

	// ctx parents every keepalive and watch; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]registration // instance key → its lease
}

// registration is one announced instance: the lease holding its key and the
// cancel func stopping that lease's keepalive.
type registration struct {
	id   clientv3.LeaseID
	stop context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	timeout := dialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return newEtcdRegistry(c, timeout), nil
}

func newEtcdRegistry(c *clientv3.Client, timeout time.Duration) *EtcdRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:  c,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		leases:  make(map[string]registration),
	}
}

// track records the lease for key. A previous registration of the same key stops
// keeping its lease alive and is returned so the caller can revoke it.
func (r *EtcdRegistry) track(key string, reg registration) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.leases[key]
	if ok {
		prev.stop()
	}
	r.leases[key] = reg
	return prev, ok
}

// untrack forgets key and stops its keepalive.
func (r *EtcdRegistry) untrack(key string) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.leases[key]
	if ok {
		reg.stop()
		delete(r.leases, key)
	}
	return reg, ok
}

func serviceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

// Register adds a bridge instance to etcd with a TTL lease and keeps it alive until
// Deregister or Close. Leases are tracked per instance, so one EtcdRegistry can
// serve several registrations.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := serviceKey(serviceName, instance.Addr)
	_, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive must outlive the registration call, so it hangs off the registry context.
	kaCtx, stop := context.WithCancel(r.ctx)
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		stop()
		return err
	}

	// Drain KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
	}()

	if prev, ok := r.track(key, registration{id: lease.ID, stop: stop}); ok && prev.id != lease.ID {
		r.client.Revoke(ctx, prev.id)
	}
	return nil
}

// Deregister removes a bridge instance from etcd. A lease granted by this registry
// is revoked, which deletes the key and ends its keepalive.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := serviceKey(serviceName, addr)
	if reg, ok := r.untrack(key); ok {
		if _, err := r.client.Revoke(ctx, reg.id); err == nil {
			return nil
		}
	}
	_, err := r.client.Delete(ctx, key)
	return err
}

// Watch emits the refreshed instance list whenever the service prefix changes.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	prefix := keyPrefix + serviceName + "/"

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(r.ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the full list; simpler than applying individual events
			instances, err := r.Discover(serviceName)
			if err != nil {
				continue
			}
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, keyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	return instances, nil
}

// Close stops every keepalive and watch and releases the etcd client. Leases not
// deregistered expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	r.mu.Lock()
	r.leases = make(map[string]registration)
	r.mu.Unlock()
	return r.client.Close()
}
