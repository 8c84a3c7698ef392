package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenFilter remembers which source items a watch has already ingested so
// repeated polling does not count as corroboration.
type SeenFilter interface {
	// MarkSeen records key for the watch and reports whether it was new.
	MarkSeen(ctx context.Context, watchID, key string) (bool, error)
	// Forget releases key so the next poll ingests it again.
	Forget(ctx context.Context, watchID, key string) error
}

// MemorySeenFilter is a process-local SeenFilter with per-key expiry.
type MemorySeenFilter struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemorySeenFilter forgets keys ttl after they were first seen.
func NewMemorySeenFilter(ttl time.Duration, now func() time.Time) *MemorySeenFilter {
	if now == nil {
		now = time.Now
	}
	return &MemorySeenFilter{ttl: ttl, now: now, seen: make(map[string]time.Time)}
}

func (f *MemorySeenFilter) MarkSeen(_ context.Context, watchID, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	k := watchID + "\x00" + key
	if expires, ok := f.seen[k]; ok && now.Before(expires) {
		return false, nil
	}
	f.seen[k] = now.Add(f.ttl)
	return true, nil
}

func (f *MemorySeenFilter) Forget(_ context.Context, watchID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, watchID+"\x00"+key)
	return nil
}

// Prune drops expired keys.
func (f *MemorySeenFilter) Prune() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	n := 0
	for k, expires := range f.seen {
		if !now.Before(expires) {
			delete(f.seen, k)
			n++
		}
	}
	return n
}

// RedisSeenFilter shares seen keys across replicas with SET NX and a TTL.
type RedisSeenFilter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSeenFilter stores keys under prefix + "seen:".
func NewRedisSeenFilter(client *redis.Client, prefix string, ttl time.Duration) *RedisSeenFilter {
	return &RedisSeenFilter{client: client, prefix: prefix + "seen:", ttl: ttl}
}

func (f *RedisSeenFilter) MarkSeen(ctx context.Context, watchID, key string) (bool, error) {
	ok, err := f.client.SetNX(ctx, f.prefix+watchID+":"+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (f *RedisSeenFilter) Forget(ctx context.Context, watchID, key string) error {
	if err := f.client.Del(ctx, f.prefix+watchID+":"+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
