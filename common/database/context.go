// Package database holds the per-operation timeouts shared by the SQL-backed stores.
package database

import (
	"context"
	"time"
)

const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	// DefaultBulkTimeout covers full-table reads such as dedup index restore.
	DefaultBulkTimeout = 30 * time.Second
)

// Timeouts bounds each class of store call. Zero fields use the defaults,
// so the zero value is ready to use.
type Timeouts struct {
	Query time.Duration
	Write time.Duration
	Bulk  time.Duration
}

func (t Timeouts) QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, orDefault(t.Query, DefaultQueryTimeout))
}

// WriteContext bounds an upsert, including its transaction.
func (t Timeouts) WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, orDefault(t.Write, DefaultWriteTimeout))
}

func (t Timeouts) BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, orDefault(t.Bulk, DefaultBulkTimeout))
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
