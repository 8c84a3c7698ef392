// Package dedup collapses raw signals that describe the same real-world event
// into canonical signals, one shard per watch.
package dedup

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/metrics"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// Kind classifies what Ingest did with a raw signal.
type Kind string

const (
	Created    Kind = "created"
	ExactMatch Kind = "exact"
	FuzzyMatch Kind = "fuzzy"
)

// Outcome reports the result of one Ingest. Signal is a copy the caller owns.
type Outcome struct {
	Kind       Kind
	Signal     *model.CanonicalSignal
	Similarity float64
	// PrimaryChanged is set when the ingested signal became the representative.
	PrimaryChanged bool
}

// Merged reports whether the signal joined an existing canonical signal.
func (o Outcome) Merged() bool {
	return o.Kind == ExactMatch || o.Kind == FuzzyMatch
}

// Options configures an Engine.
type Options struct {
	Window              time.Duration
	SimilarityThreshold float64
	// Credibility returns the base credibility of a publisher domain. It is
	// consulted on every merge so reloaded tables take effect immediately.
	Credibility func(domain string) float64
	Now         func() time.Time
	NewID       func() string
}

// Engine holds canonical signals inside the sliding window.
type Engine struct {
	opts   Options
	logger *logging.Logger

	mu     sync.RWMutex
	shards map[string]*shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	// byFingerprint maps a member fingerprint to its canonical ID.
	byFingerprint map[string]string
}

type entry struct {
	signal *model.CanonicalSignal
	keys   map[string]struct{}
}

// NewEngine creates an engine. Zero options fall back to a 24h window and 0.85 threshold.
func NewEngine(opts Options, logger *logging.Logger) *Engine {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.85
	}
	if opts.Credibility == nil {
		opts.Credibility = func(string) float64 { return 0 }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newID
	}
	return &Engine{
		opts:   opts,
		logger: logging.OrDefault(logger),
		shards: make(map[string]*shard),
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (e *Engine) shard(watchID string) *shard {
	e.mu.RLock()
	s, ok := e.shards[watchID]
	e.mu.RUnlock()
	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.shards[watchID]; !ok {
		s = &shard{entries: make(map[string]*entry), byFingerprint: make(map[string]string)}
		e.shards[watchID] = s
	}
	return s
}

// Ingest places sig into an existing canonical signal or creates a new one.
func (e *Engine) Ingest(sig model.RawSignal) Outcome {
	s := e.shard(sig.WatchID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.opts.Now()
	key := MatchKey(sig.Title)

	if id, ok := s.byFingerprint[sig.Fingerprint]; ok && sig.Fingerprint != "" {
		if ent, ok := s.entries[id]; ok && e.inWindow(ent.signal, sig.PublishedAt) {
			changed := e.merge(s, ent, sig, key, now)
			return e.outcome(ExactMatch, ent, 1, changed)
		}
	}

	if best, sim := e.bestFuzzy(s, sig, key); best != nil {
		changed := e.merge(s, best, sig, key, now)
		return e.outcome(FuzzyMatch, best, sim, changed)
	}

	ent := &entry{
		signal: &model.CanonicalSignal{
			ID:                 e.opts.NewID(),
			WatchID:            sig.WatchID,
			Title:              sig.Title,
			BodyExcerpt:        sig.BodyExcerpt,
			URL:                sig.URL,
			PublishedAt:        sig.PublishedAt,
			Primary:            sig,
			CorroborationCount: 1,
			Sources:            []model.SourceRef{e.sourceRef(sig)},
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		keys: map[string]struct{}{key: {}},
	}
	s.entries[ent.signal.ID] = ent
	if sig.Fingerprint != "" {
		s.byFingerprint[sig.Fingerprint] = ent.signal.ID
	}
	metrics.ActiveCanonicalSignals.Inc()
	return e.outcome(Created, ent, 0, true)
}

func (e *Engine) outcome(kind Kind, ent *entry, sim float64, changed bool) Outcome {
	metrics.DedupOutcomes.WithLabelValues(string(kind)).Inc()
	return Outcome{Kind: kind, Signal: ent.signal.Clone(), Similarity: sim, PrimaryChanged: changed}
}

// inWindow reports whether publishedAt falls within the window around the
// canonical signal's members.
func (e *Engine) inWindow(c *model.CanonicalSignal, publishedAt time.Time) bool {
	lo := c.PublishedAt.Add(-e.opts.Window)
	hi := c.LatestMemberAt().Add(e.opts.Window)
	return !publishedAt.Before(lo) && !publishedAt.After(hi)
}

// bestFuzzy returns the most similar canonical signal at or above the
// threshold; ties go to the oldest canonical signal.
func (e *Engine) bestFuzzy(s *shard, sig model.RawSignal, key string) (*entry, float64) {
	var best *entry
	var bestSim float64
	for _, ent := range s.entries {
		if !e.inWindow(ent.signal, sig.PublishedAt) {
			continue
		}
		var sim float64
		for k := range ent.keys {
			if v := Similarity(key, k); v > sim {
				sim = v
			}
		}
		if sim < e.opts.SimilarityThreshold {
			continue
		}
		if best == nil || sim > bestSim ||
			(sim == bestSim && ent.signal.CreatedAt.Before(best.signal.CreatedAt)) ||
			(sim == bestSim && ent.signal.CreatedAt.Equal(best.signal.CreatedAt) && ent.signal.ID < best.signal.ID) {
			best, bestSim = ent, sim
		}
	}
	return best, bestSim
}

// merge adds sig as a member and re-selects the representative.
func (e *Engine) merge(s *shard, ent *entry, sig model.RawSignal, key string, now time.Time) bool {
	c := ent.signal
	ent.keys[key] = struct{}{}
	if sig.Fingerprint != "" {
		s.byFingerprint[sig.Fingerprint] = c.ID
	}

	changed := e.better(sig, c.Primary)
	if changed {
		c.Alternates = append(c.Alternates, c.Primary)
		c.Primary = sig
		c.Title = sig.Title
		c.BodyExcerpt = sig.BodyExcerpt
		c.URL = sig.URL
	} else {
		c.Alternates = append(c.Alternates, sig)
	}
	c.CorroborationCount = len(c.Alternates) + 1

	if sig.PublishedAt.Before(c.PublishedAt) {
		c.PublishedAt = sig.PublishedAt
	}
	if !hasSource(c.Sources, sig) {
		c.Sources = append(c.Sources, e.sourceRef(sig))
	}
	c.UpdatedAt = now
	return changed
}

// better ranks candidate against current: body word count, then publisher
// credibility, then recency, then the breaking flag.
func (e *Engine) better(candidate, current model.RawSignal) bool {
	if a, b := candidate.WordCount(), current.WordCount(); a != b {
		return a > b
	}
	if a, b := e.opts.Credibility(candidate.PublisherID), e.opts.Credibility(current.PublisherID); a != b {
		return a > b
	}
	if !candidate.PublishedAt.Equal(current.PublishedAt) {
		return candidate.PublishedAt.After(current.PublishedAt)
	}
	return candidate.IsBreaking && !current.IsBreaking
}

func (e *Engine) sourceRef(sig model.RawSignal) model.SourceRef {
	return model.SourceRef{
		URL:         sourceKey(sig),
		PublisherID: sig.PublisherID,
		Credibility: e.opts.Credibility(sig.PublisherID),
		PublishedAt: sig.PublishedAt,
		IsBreaking:  sig.IsBreaking,
	}
}

func sourceKey(sig model.RawSignal) string {
	if sig.URL != "" {
		return sig.URL
	}
	return "source:" + sig.SourceID
}

func hasSource(sources []model.SourceRef, sig model.RawSignal) bool {
	key := sourceKey(sig)
	for _, s := range sources {
		if s.URL == key {
			return true
		}
	}
	return false
}

// Restore re-seeds the index with a persisted canonical signal, typically on
// startup. Signals already present are left untouched.
func (e *Engine) Restore(c *model.CanonicalSignal) {
	if c == nil {
		return
	}
	s := e.shard(c.WatchID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[c.ID]; ok {
		return
	}
	ent := &entry{signal: c.Clone(), keys: make(map[string]struct{})}
	for _, m := range ent.signal.Members() {
		ent.keys[MatchKey(m.Title)] = struct{}{}
		if m.Fingerprint != "" {
			s.byFingerprint[m.Fingerprint] = c.ID
		}
	}
	s.entries[c.ID] = ent
	metrics.ActiveCanonicalSignals.Inc()
}

// Get returns a copy of a canonical signal still inside the window.
func (e *Engine) Get(watchID, id string) (*model.CanonicalSignal, bool) {
	s := e.shard(watchID)
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return ent.signal.Clone(), true
}

// Annotate attaches an extraction to a canonical signal still in the window
// so later merges carry it. It reports whether the signal was found.
func (e *Engine) Annotate(watchID, id string, ext *model.ExtractionResult) bool {
	s := e.shard(watchID)
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[id]
	if !ok {
		return false
	}
	ent.signal.Extraction = ext
	return true
}

// Active returns copies of the watch's canonical signals, oldest first.
func (e *Engine) Active(watchID string) []*model.CanonicalSignal {
	s := e.shard(watchID)
	s.mu.Lock()
	out := make([]*model.CanonicalSignal, 0, len(s.entries))
	for _, ent := range s.entries {
		out = append(out, ent.signal.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sweep evicts canonical signals whose newest member is older than the window
// relative to now, and returns how many were evicted.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.RLock()
	shards := make([]*shard, 0, len(e.shards))
	for _, s := range e.shards {
		shards = append(shards, s)
	}
	e.mu.RUnlock()

	evicted := 0
	for _, s := range shards {
		s.mu.Lock()
		for id, ent := range s.entries {
			if now.Sub(ent.signal.LatestMemberAt()) <= e.opts.Window {
				continue
			}
			delete(s.entries, id)
			evicted++
		}
		for fp, id := range s.byFingerprint {
			if _, ok := s.entries[id]; !ok {
				delete(s.byFingerprint, fp)
			}
		}
		s.mu.Unlock()
	}

	if evicted > 0 {
		metrics.ActiveCanonicalSignals.Sub(float64(evicted))
		e.logger.Debug("evicted canonical signals", "count", evicted)
	}
	return evicted
}
