package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// MemoryStore keeps everything in process. Values are copied on the way in
// and out.
type MemoryStore struct {
	mu      sync.RWMutex
	signals map[string]*model.CanonicalSignal
	cards   map[string]*model.ImpactCard
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals: make(map[string]*model.CanonicalSignal),
		cards:   make(map[string]*model.ImpactCard),
	}
}

func (s *MemoryStore) SaveCanonicalSignal(_ context.Context, sig *model.CanonicalSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = sig.Clone()
	return nil
}

func (s *MemoryStore) GetCanonicalSignal(_ context.Context, id string) (*model.CanonicalSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("canonical signal %s: %w", id, model.ErrNotFound)
	}
	return sig.Clone(), nil
}

func (s *MemoryStore) ListCanonicalSignalsSince(_ context.Context, since time.Time) ([]*model.CanonicalSignal, error) {
	s.mu.RLock()
	out := make([]*model.CanonicalSignal, 0)
	for _, sig := range s.signals {
		if !sig.LatestMemberAt().Before(since) {
			out = append(out, sig.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CountRecentSignals(_ context.Context, watchID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sig := range s.signals {
		if sig.WatchID == watchID && !sig.PublishedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SaveImpactCard(_ context.Context, card *model.ImpactCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = card.Clone()
	return nil
}

func (s *MemoryStore) GetImpactCard(_ context.Context, id string) (*model.ImpactCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("impact card %s: %w", id, model.ErrNotFound)
	}
	return card.Clone(), nil
}

func (s *MemoryStore) LoadOpenCard(ctx context.Context, watchID string, since time.Time) (*model.ImpactCard, error) {
	cards, _ := s.ListImpactCards(ctx, CardFilter{WatchID: watchID, Status: model.CardOpen, Limit: 1 << 30})
	for _, c := range cards {
		if !c.CreatedAt.Before(since) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("open card for watch %s: %w", watchID, model.ErrNotFound)
}

func (s *MemoryStore) FindCardBySignal(ctx context.Context, watchID, signalID string) (*model.ImpactCard, error) {
	cards, _ := s.ListImpactCards(ctx, CardFilter{WatchID: watchID, Limit: 1 << 30})
	for _, c := range cards {
		if c.HasSignal(signalID) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("card with signal %s: %w", signalID, model.ErrNotFound)
}

func (s *MemoryStore) ListImpactCards(_ context.Context, filter CardFilter) ([]*model.ImpactCard, error) {
	s.mu.RLock()
	out := make([]*model.ImpactCard, 0)
	for _, c := range s.cards {
		if filter.WatchID != "" && c.WatchID != filter.WatchID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	sortCardsNewestFirst(out)
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func sortCardsNewestFirst(cards []*model.ImpactCard) {
	sort.Slice(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.After(cards[j].CreatedAt)
		}
		return cards[i].ID > cards[j].ID
	})
}
