// Package lock compensates for the table store having no transactions. Two
// redis primitives in the teacher tradition of short Lua scripts: a
// cooperative mutex with an acquire timeout for the read-modify-write paths
// (seat counts, calendar sync), and a short-TTL idempotency marker that turns
// a concurrently scheduled duplicate invocation into a no-op. A per-process
// keyed mutex additionally serializes catalog mutations within one instance.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock: not acquired within wait window")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Mutex is a redis-backed cooperative lock keyed by logical resource.
type Mutex struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewMutex(rdb *redis.Client, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mutex{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock for key, polling until wait elapses. The returned
// release func is safe to defer; it only deletes the holder's own token.
func (m *Mutex) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := m.rdb.SetNX(ctx, "lock:"+key, token, m.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_, _ = releaseScript.Run(relCtx, m.rdb, []string{"lock:" + key}, token).Result()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Marker records short-lived idempotency markers per logical key.
type Marker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewMarker(rdb *redis.Client, ttl time.Duration) *Marker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Marker{rdb: rdb, ttl: ttl}
}

// First reports whether this invocation is the first for key within the TTL.
// Duplicates within the window must treat their work as already done.
func (m *Marker) First(ctx context.Context, key string) (bool, error) {
	return m.rdb.SetNX(ctx, "seen:"+key, "1", m.ttl).Result()
}

// KeyedMutex serializes callers per key within this process. Catalog
// mutations route through it so a single instance never races itself.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
