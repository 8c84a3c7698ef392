// Package repository persists canonical signals and impact cards.
package repository

import (
	"context"
	"time"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// CardFilter narrows ListImpactCards. Zero fields match everything.
type CardFilter struct {
	WatchID string
	Status  model.CardStatus
	Limit   int
}

const defaultListLimit = 50

func (f CardFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store is the persistence boundary of the pipeline. Lookups that find
// nothing return an error wrapping model.ErrNotFound.
type Store interface {
	// SaveCanonicalSignal inserts or replaces a canonical signal.
	SaveCanonicalSignal(ctx context.Context, sig *model.CanonicalSignal) error
	GetCanonicalSignal(ctx context.Context, id string) (*model.CanonicalSignal, error)
	// ListCanonicalSignalsSince returns signals whose newest member is at or after since.
	ListCanonicalSignalsSince(ctx context.Context, since time.Time) ([]*model.CanonicalSignal, error)
	// CountRecentSignals counts a watch's canonical signals published at or after since.
	CountRecentSignals(ctx context.Context, watchID string, since time.Time) (int, error)

	// SaveImpactCard inserts or replaces a card and its signal links.
	SaveImpactCard(ctx context.Context, card *model.ImpactCard) error
	GetImpactCard(ctx context.Context, id string) (*model.ImpactCard, error)
	// LoadOpenCard returns the newest Open card of the watch created at or after since.
	LoadOpenCard(ctx context.Context, watchID string, since time.Time) (*model.ImpactCard, error)
	// FindCardBySignal returns the newest card that references signalID.
	FindCardBySignal(ctx context.Context, watchID, signalID string) (*model.ImpactCard, error)
	// ListImpactCards returns cards newest first.
	ListImpactCards(ctx context.Context, filter CardFilter) ([]*model.ImpactCard, error)

	Ping(ctx context.Context) error
	Close() error
}
