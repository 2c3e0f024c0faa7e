package funds

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "leasesign:funds:event:v1:"

// RedisDeduper remembers processed event ids in Redis for ttl.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisDeduper returns a deduper backed by client.
func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Claim reserves key, reporting false if it already exists.
func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, dedupPrefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

// Release forgets key so a later delivery is processed again.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, dedupPrefix+key).Err()
}

// MemoryDeduper is the in-process counterpart of RedisDeduper. Entries never expire.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
