// Package refdata owns the process-wide reference tables: publisher
// credibility and the rule table. Both are immutable snapshots swapped whole.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/rules"
)

// Table names used for reloads and metrics.
const (
	TablePublishers = "publishers"
	TableRules      = "rules"
)

const reloadDebounce = 250 * time.Millisecond

// Loader serves the current tables and reloads them from disk.
type Loader struct {
	publisherPath string
	rulePath      string
	logger        *logging.Logger

	publishers atomic.Pointer[PublisherTable]
	rules      atomic.Pointer[rules.Table]
}

// NewLoader starts with the built-in tables; call Load to read the files.
func NewLoader(publisherPath, rulePath string, logger *logging.Logger) *Loader {
	l := &Loader{
		publisherPath: publisherPath,
		rulePath:      rulePath,
		logger:        logging.OrDefault(logger).With(logging.Service("refdata")),
	}
	l.publishers.Store(DefaultPublisherTable())
	l.rules.Store(rules.DefaultTable())
	return l
}

// Publishers returns the current publisher table.
func (l *Loader) Publishers() *PublisherTable { return l.publishers.Load() }

// Rules returns the current rule table.
func (l *Loader) Rules() *rules.Table { return l.rules.Load() }

// Load reads both tables. A missing file keeps the built-in table; a file
// that fails validation is an error.
func (l *Loader) Load() error {
	var errs []error
	for _, table := range []string{TablePublishers, TableRules} {
		if err := l.Reload(table); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Warn("reference table file missing, using built-in defaults",
					slog.String("table", table), logging.Error(err))
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload re-reads one table. On any error the current table keeps serving.
func (l *Loader) Reload(table string) error {
	err := l.reload(table)
	result := "ok"
	if err != nil {
		result = "error"
		l.logger.Error("reference table reload rejected", slog.String("table", table), logging.Error(err))
	}
	metrics.ReferenceReloads.WithLabelValues(table, result).Inc()
	return err
}

func (l *Loader) reload(table string) error {
	switch table {
	case TablePublishers:
		if l.publisherPath == "" {
			return nil
		}
		data, err := os.ReadFile(l.publisherPath)
		if err != nil {
			return fmt.Errorf("read publisher table: %w", err)
		}
		t, err := ParsePublishers(data)
		if err != nil {
			return err
		}
		l.publishers.Store(t)
		l.logger.Info("publisher table loaded", slog.String("version", t.Version), slog.Int("publishers", t.Len()))
	case TableRules:
		if l.rulePath == "" {
			return nil
		}
		t, err := rules.LoadFile(l.rulePath)
		if err != nil {
			return err
		}
		l.rules.Store(t)
		l.logger.Info("rule table loaded", slog.String("version", t.Version), slog.Int("rules", len(t.Rules)))
	default:
		return fmt.Errorf("unknown reference table %q", table)
	}
	return nil
}

// Watch reloads a table whenever its file changes, until ctx is done. The
// parent directories are watched so editors that replace files by rename
// are picked up.
func (l *Loader) Watch(ctx context.Context) error {
	files := make(map[string]string, 2)
	if l.publisherPath != "" {
		files[filepath.Clean(l.publisherPath)] = TablePublishers
	}
	if l.rulePath != "" {
		files[filepath.Clean(l.rulePath)] = TableRules
	}
	if len(files) == 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dirs := make(map[string]struct{}, len(files))
	for path := range files {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	pending := make(map[string]struct{}, 2)
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			table, ok := files[filepath.Clean(ev.Name)]
			if !ok {
				continue
			}
			pending[table] = struct{}{}
			timer.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("reference table watcher error", logging.Error(err))
		case <-timer.C:
			for table := range pending {
				_ = l.Reload(table)
			}
			clear(pending)
		}
	}
}
