// Package dlq keeps rejected raw signals for later inspection and holds
// watches waiting for a rate-limited retry.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/normalizer"
)

// Entry is one rejected item.
type Entry struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	Provider  string               `json:"provider"`
	WatchID   string               `json:"watch_id"`
	Reason    string               `json:"reason"`
	Error     string               `json:"error"`
	Candidate normalizer.Candidate `json:"candidate"`
}

// Writer accepts rejections. A nil *Queue is a valid, disabled Writer.
type Writer interface {
	Write(ctx context.Context, rej normalizer.Rejection) error
}

// Queue writes one JSON file per rejection under basePath.
type Queue struct {
	basePath string
	now      func() time.Time
	logger   *logging.Logger

	mu      sync.Mutex
	written uint64
}

func NewQueue(basePath string, logger *logging.Logger) (*Queue, error) {
	if basePath == "" {
		basePath = "/var/lib/impactwatch/dlq"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{
		basePath: basePath,
		now:      time.Now,
		logger:   logging.OrDefault(logger).With(logging.Service("dlq")),
	}, nil
}

func (q *Queue) Write(ctx context.Context, rej normalizer.Rejection) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	entry := Entry{
		ID:        fmt.Sprintf("%d_%d", now.UnixNano(), q.written),
		Timestamp: now,
		Provider:  rej.Provider,
		WatchID:   rej.WatchID,
		Reason:    rej.Reason,
		Candidate: rej.Candidate,
	}
	if rej.Err != nil {
		entry.Error = rej.Err.Error()
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dlq entry: %w", err)
	}
	if err := os.WriteFile(q.path(entry.ID), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	metrics.DLQWrites.Inc()
	q.logger.DebugContext(ctx, "rejected signal written",
		logging.WatchID(rej.WatchID), logging.Provider(rej.Provider), slog.String("reason", rej.Reason))
	return nil
}

func (q *Queue) path(id string) string {
	return filepath.Join(q.basePath, "rejected_"+id+".json")
}

// Stats reports how many entries were written by this process and how many are on disk.
func (q *Queue) Stats() map[string]any {
	if q == nil {
		return map[string]any{"enabled": false}
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{"enabled": true, "written": q.written, "base_path": q.basePath}
	files, err := q.files()
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["pending"] = len(files)
	return stats
}

// List returns up to limit entries, oldest first. limit <= 0 returns all.
func (q *Queue) List(ctx context.Context, limit int) ([]Entry, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files))
	for _, name := range files {
		if limit > 0 && len(entries) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.WarnContext(ctx, "unreadable dlq entry", slog.String("file", name), logging.Error(err))
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			q.logger.WarnContext(ctx, "corrupt dlq entry", slog.String("file", name), logging.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes one entry by ID.
func (q *Queue) Delete(_ context.Context, id string) error {
	if q == nil {
		return fmt.Errorf("dlq not enabled")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("dlq entry %s: %w", id, model.ErrNotFound)
	}
	err := os.Remove(q.path(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("dlq entry %s: %w", id, model.ErrNotFound)
	}
	return err
}

// Purge removes every entry and returns how many were deleted.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("dlq not enabled")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range files {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.WarnContext(ctx, "failed to delete dlq entry", slog.String("file", name), logging.Error(err))
			continue
		}
		deleted++
	}
	q.logger.InfoContext(ctx, "dlq purged", slog.Int("deleted", deleted))
	return deleted, nil
}

// files lists entry file names in write order.
func (q *Queue) files() ([]string, error) {
	dirEntries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), "rejected_") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	return names, nil
}
