package notify

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeCache suppresses repeat sends of the same message on one channel
// within a TTL window. Release rolls a reservation back after a failed
// send so a later fetch cycle may try again.
type DedupeCache interface {
	// ShouldSend reserves key and returns true if it was not already
	// reserved within the TTL.
	ShouldSend(ctx context.Context, key string) bool
	// Release drops the reservation for key.
	Release(ctx context.Context, key string)
}

// redisDedupe backs the cache with Redis SET NX PX, shared across
// processes.
type redisDedupe struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDedupe creates a Redis-backed dedupe cache.
func NewRedisDedupe(client *redis.Client, prefix string, ttl time.Duration) DedupeCache {
	return &redisDedupe{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisDedupe) ShouldSend(ctx context.Context, key string) bool {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		// Redis being down must not drop notifications; fail open.
		return true
	}
	return ok
}

func (r *redisDedupe) Release(ctx context.Context, key string) {
	r.client.Del(ctx, r.prefix+key)
}

// memoryDedupe is the in-process fallback when Redis is unconfigured.
type memoryDedupe struct {
	mu   sync.Mutex
	sent map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryDedupe creates an in-memory dedupe cache.
func NewMemoryDedupe(ttl time.Duration) DedupeCache {
	return &memoryDedupe{
		sent: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (m *memoryDedupe) ShouldSend(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if prev, ok := m.sent[key]; ok && now.Sub(prev) <= m.ttl {
		return false
	}
	m.sent[key] = now

	// Opportunistic cleanup keeps the map bounded without a sweeper
	// goroutine.
	if len(m.sent) > 4096 {
		for k, ts := range m.sent {
			if now.Sub(ts) > m.ttl {
				delete(m.sent, k)
			}
		}
	}
	return true
}

func (m *memoryDedupe) Release(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.sent, key)
	m.mu.Unlock()
}
