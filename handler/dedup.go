package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cmbc-pay/cashier"
)

const callbackKeyPrefix = "cmbc:notify:"

// CallbackDeduper remembers verified cashier callbacks. The cashier redelivers a
// callback until it is acknowledged, so an identical callback for the same order is
// a duplicate; a callback for the same order with different content (a later state
// change) is not.
type CallbackDeduper interface {
	// Seen records cb and reports whether an identical callback was recorded
	// before. Callbacks without an orderNum are never duplicates.
	Seen(ctx context.Context, cb cashier.Payload) (bool, error)
}

// callbackKey identifies a callback by order and content digest.
func callbackKey(cb cashier.Payload) (order, digest string, ok bool) {
	order = cb.String(cashier.OrderNumField)
	if order == "" {
		return "", "", false
	}
	// Map keys marshal sorted, so equal payloads hash equally.
	body, err := json.Marshal(cb)
	if err != nil {
		return "", "", false
	}
	sum := sha256.Sum256(body)
	return order, hex.EncodeToString(sum[:8]), true
}

// redisCallbackDeduper shares the ledger between gateway replicas. The value is
// the first delivery time in unix milliseconds.
type redisCallbackDeduper struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func (d *redisCallbackDeduper) Seen(ctx context.Context, cb cashier.Payload) (bool, error) {
	order, digest, ok := callbackKey(cb)
	if !ok {
		return false, nil
	}
	first := strconv.FormatInt(d.now().UnixMilli(), 10)
	created, err := d.client.SetNX(ctx, callbackKeyPrefix+order+":"+digest, first, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}

// memoryCallbackDeduper keeps the ledger per order in process memory. Expired
// deliveries are swept at most once per ttl.
type memoryCallbackDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	orders    map[string]map[string]time.Time // orderNum → digest → expiry
	nextSweep time.Time
}

// NewMemoryDeduper keeps callbacks in process memory for ttl.
func NewMemoryDeduper(ttl time.Duration) CallbackDeduper {
	return newMemoryCallbackDeduper(ttl, time.Now)
}

func newMemoryCallbackDeduper(ttl time.Duration, now func() time.Time) *memoryCallbackDeduper {
	return &memoryCallbackDeduper{
		ttl:       ttl,
		now:       now,
		orders:    make(map[string]map[string]time.Time),
		nextSweep: now().Add(ttl),
	}
}

func (d *memoryCallbackDeduper) Seen(_ context.Context, cb cashier.Payload) (bool, error) {
	order, digest, ok := callbackKey(cb)
	if !ok {
		return false, nil
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if now.After(d.nextSweep) {
		d.sweep(now)
	}

	deliveries := d.orders[order]
	if exp, ok := deliveries[digest]; ok && exp.After(now) {
		return true, nil
	}
	if deliveries == nil {
		deliveries = make(map[string]time.Time)
		d.orders[order] = deliveries
	}
	deliveries[digest] = now.Add(d.ttl)
	return false, nil
}

func (d *memoryCallbackDeduper) sweep(now time.Time) {
	for order, deliveries := range d.orders {
		for digest, exp := range deliveries {
			if !exp.After(now) {
				delete(deliveries, digest)
			}
		}
		if len(deliveries) == 0 {
			delete(d.orders, order)
		}
	}
	d.nextSweep = now.Add(d.ttl)
}

// NewCallbackDeduper returns a Redis-backed deduper, or the in-memory one when addr
// is empty. When Redis cannot be reached the in-memory deduper is returned along
// with the ping error.
func NewCallbackDeduper(addr, pass string, db int, ttl time.Duration) (CallbackDeduper, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if addr == "" {
		return NewMemoryDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return NewMemoryDeduper(ttl), err
	}
	return &redisCallbackDeduper{client: client, ttl: ttl, now: time.Now}, nil
}
