package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a cached provider response.
type Entry struct {
	Data      []byte    `json:"data"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Tier reports which cache tier served the entry.
	Tier string `json:"-"`
}

// Cache stores provider responses. Entries disappear at ExpiresAt, which the
// gateway sets to TTL plus the stale allowance.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
}

// CacheKey derives the key for (provider, query, options). News and search
// queries are normalized for case and whitespace; prompts are kept verbatim.
func CacheKey(provider string, kind Kind, req Request) string {
	var b strings.Builder
	switch kind {
	case KindNews, KindSearch:
		b.WriteString(strings.Join(strings.Fields(strings.ToLower(req.Query)), " "))
	default:
		b.WriteString(req.Query)
	}

	keys := make([]string, 0, len(req.Options))
	for k := range req.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\x00%s=%s", k, req.Options[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return provider + ":" + hex.EncodeToString(sum[:16])
}

// MemoryCache is the in-process L1 tier.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates an L1 cache bounded to maxEntries (0 = unbounded).
func NewMemoryCache(maxEntries int, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]Entry), maxEntries: maxEntries, now: now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !e.ExpiresAt.IsZero() && !c.now().Before(e.ExpiresAt) {
		delete(c.entries, key)
		return Entry{}, false, nil
	}
	e.Tier = "l1"
	return e, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	e.Tier = ""
	c.entries[key] = e
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired entries, then the soonest-expiring one if still full.
func (c *MemoryCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var victim string
	var victimExp time.Time
	for k, e := range c.entries {
		if victim == "" || e.ExpiresAt.Before(victimExp) {
			victim, victimExp = k, e.ExpiresAt
		}
	}
	delete(c.entries, victim)
}

// RedisCache is the shared L2 tier.
type RedisCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCache creates an L2 cache; keys are stored under prefix.
func NewRedisCache(client *redis.Client, prefix string, now func() time.Time) *RedisCache {
	if now == nil {
		now = time.Now
	}
	return &RedisCache{client: client, prefix: prefix + "gateway:", now: now}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	e.Tier = "l2"
	return e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, e Entry) error {
	ttl := e.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// TieredCache reads L1 then L2, back-filling L1 on an L2 hit, and writes both.
type TieredCache struct {
	L1 Cache
	L2 Cache
}

func (c *TieredCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if e, ok, err := c.L1.Get(ctx, key); err == nil && ok {
		return e, true, nil
	}
	e, ok, err := c.L2.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	_ = c.L1.Set(ctx, key, e)
	return e, true, nil
}

func (c *TieredCache) Set(ctx context.Context, key string, e Entry) error {
	_ = c.L1.Set(ctx, key, e)
	return c.L2.Set(ctx, key, e)
}
