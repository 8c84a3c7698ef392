// Package jobs runs on-demand deep-dive research jobs for impact cards.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// Store keeps deep-dive job state. Get on an unknown ID returns an error
// wrapping model.ErrNotFound.
type Store interface {
	Save(ctx context.Context, job *model.DeepDiveJob) error
	Get(ctx context.Context, id string) (*model.DeepDiveJob, error)
}

// MemoryStore keeps jobs in process.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]model.DeepDiveJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]model.DeepDiveJob)}
}

func (s *MemoryStore) Save(_ context.Context, job *model.DeepDiveJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.DeepDiveJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return &job, nil
}

// RedisStore shares job state across replicas. Entries expire after ttl.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + "job:" + id
}

func (s *RedisStore) Save(ctx context.Context, job *model.DeepDiveJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.client.Set(ctx, s.key(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.DeepDiveJob, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get job %s: %w", id, err)
	}
	var job model.DeepDiveJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}
