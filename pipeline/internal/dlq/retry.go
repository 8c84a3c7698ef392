package dlq

import (
	"sort"
	"sync"
	"time"

	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
)

// RetryQueue holds watch IDs that hit a provider rate limit until their
// retry time. A watch is queued at most once; re-pushing keeps the earlier
// due time.
type RetryQueue struct {
	mu  sync.Mutex
	due map[string]time.Time
}

func NewRetryQueue() *RetryQueue {
	return &RetryQueue{due: make(map[string]time.Time)}
}

func (q *RetryQueue) Push(watchID string, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.due[watchID]; ok && existing.Before(at) {
		return
	}
	q.due[watchID] = at
	metrics.RetryQueueDepth.Set(float64(len(q.due)))
}

// Due removes and returns the watches whose retry time is at or before now,
// earliest first.
func (q *RetryQueue) Due(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []string
	for id, at := range q.due {
		if !at.After(now) {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := q.due[ready[i]], q.due[ready[j]]
		if a.Equal(b) {
			return ready[i] < ready[j]
		}
		return a.Before(b)
	})
	for _, id := range ready {
		delete(q.due, id)
	}
	metrics.RetryQueueDepth.Set(float64(len(q.due)))
	return ready
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.due)
}
