package acl

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// store is the adapter-private response cache. Implementations must be
// safe under concurrent callers. Expired entries are treated as absent.
type store[R any] interface {
	get(ctx context.Context, key string) (R, bool)
	set(ctx context.Context, key string, value R)
	purge()
	size() int
}

type memoryStore[R any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	cap     int
	order   *list.List
	items   map[string]*list.Element
	timeNow func() time.Time
}

type memoryEntry[R any] struct {
	key      string
	value    R
	storedAt time.Time
}

func newMemoryStore[R any](ttl time.Duration, maxEntries int) *memoryStore[R] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &memoryStore[R]{
		ttl:     ttl,
		cap:     maxEntries,
		order:   list.New(),
		items:   map[string]*list.Element{},
		timeNow: time.Now,
	}
}

func (m *memoryStore[R]) get(_ context.Context, key string) (R, bool) {
	var zero R
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*memoryEntry[R])
	if m.timeNow().Sub(entry.storedAt) >= m.ttl {
		m.order.Remove(el)
		delete(m.items, key)
		return zero, false
	}
	m.order.MoveToFront(el)
	return entry.value, true
}

func (m *memoryStore[R]) set(_ context.Context, key string, value R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.timeNow()
	if el, ok := m.items[key]; ok {
		entry := el.Value.(*memoryEntry[R])
		entry.value = value
		entry.storedAt = now
		m.order.MoveToFront(el)
		return
	}
	m.items[key] = m.order.PushFront(&memoryEntry[R]{key: key, value: value, storedAt: now})
	for m.order.Len() > m.cap {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*memoryEntry[R]).key)
	}
}

func (m *memoryStore[R]) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.items = map[string]*list.Element{}
}

func (m *memoryStore[R]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// redisStore keeps JSON-serialized entries in a shared Redis, scoped by
// an adapter-name prefix so no two adapters share a key namespace.
// Redis errors degrade to cache misses; the pipeline never fails on a
// cache backend problem.
type redisStore[R any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func newRedisStore[R any](client *redis.Client, prefix string, ttl time.Duration) *redisStore[R] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisStore[R]{client: client, prefix: "aegis:acl:" + prefix + ":", ttl: ttl}
}

func (r *redisStore[R]) get(ctx context.Context, key string) (R, bool) {
	var zero R
	raw, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		return zero, false
	}
	var value R
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return zero, false
	}
	return value, true
}

func (r *redisStore[R]) set(ctx context.Context, key string, value R) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, r.prefix+key, string(raw), r.ttl).Err()
}

func (r *redisStore[R]) purge() {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		_ = r.client.Del(ctx, iter.Val()).Err()
	}
}

func (r *redisStore[R]) size() int {
	ctx := context.Background()
	count := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// newCacheStore tries the shared Redis, falls back to adapter-local
// memory when the client is absent or unreachable.
func newCacheStore[R any](ctx context.Context, client *redis.Client, name string, cfg Config) store[R] {
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			return newRedisStore[R](client, name, cfg.CacheTTL)
		}
	}
	return newMemoryStore[R](cfg.CacheTTL, cfg.CacheMaxEntries)
}
