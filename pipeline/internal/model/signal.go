package model

import (
	"slices"
	"strings"
	"time"
)

// Watch is a monitored entity and the keywords used to query providers for it.
type Watch struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Sector   string   `json:"sector,omitempty"`
}

// RawSignal is one normalized item as reported by a single publisher.
type RawSignal struct {
	SourceID      string    `json:"source_id"`
	PublisherID   string    `json:"publisher_id"`
	PublisherName string    `json:"publisher_name,omitempty"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	BodyExcerpt   string    `json:"body_excerpt"`
	PublishedAt   time.Time `json:"published_at"`
	FetchedAt     time.Time `json:"fetched_at"`
	WatchID       string    `json:"watch_id"`
	IsBreaking    bool      `json:"is_breaking"`
	Fingerprint   string    `json:"fingerprint"`
}

// WordCount counts whitespace separated words in the excerpt.
func (r RawSignal) WordCount() int {
	return len(strings.Fields(r.BodyExcerpt))
}

// SourceRef records one distinct URL backing a canonical signal. Credibility
// is the publisher's base credibility at merge time, before age penalties.
type SourceRef struct {
	URL         string    `json:"url"`
	PublisherID string    `json:"publisher_id"`
	Credibility float64   `json:"credibility"`
	PublishedAt time.Time `json:"published_at"`
	IsBreaking  bool      `json:"is_breaking"`
}

// CanonicalSignal is the deduplicated representative of one real-world event.
// CorroborationCount always equals len(Alternates)+1.
type CanonicalSignal struct {
	ID                 string      `json:"id"`
	WatchID            string      `json:"watch_id"`
	Title              string      `json:"title"`
	BodyExcerpt        string      `json:"body_excerpt"`
	URL                string      `json:"url"`
	PublishedAt        time.Time   `json:"published_at"`
	Primary            RawSignal   `json:"primary"`
	Alternates         []RawSignal `json:"alternates"`
	CorroborationCount int         `json:"corroboration_count"`
	Sources            []SourceRef `json:"sources"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`

	Extraction *ExtractionResult `json:"extraction,omitempty"`
}

// Clone returns a deep copy so callers never share the engine's slices.
func (c *CanonicalSignal) Clone() *CanonicalSignal {
	if c == nil {
		return nil
	}
	out := *c
	out.Alternates = slices.Clone(c.Alternates)
	out.Sources = slices.Clone(c.Sources)
	if c.Extraction != nil {
		ext := *c.Extraction
		out.Extraction = &ext
	}
	return &out
}

// Members returns the primary followed by every alternate.
func (c *CanonicalSignal) Members() []RawSignal {
	members := make([]RawSignal, 0, len(c.Alternates)+1)
	members = append(members, c.Primary)
	return append(members, c.Alternates...)
}

// DistinctPublishers counts publishers across all sources.
func (c *CanonicalSignal) DistinctPublishers() int {
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		seen[s.PublisherID] = struct{}{}
	}
	return len(seen)
}

// LatestMemberAt returns the newest PublishedAt across all members.
func (c *CanonicalSignal) LatestMemberAt() time.Time {
	latest := c.Primary.PublishedAt
	for _, a := range c.Alternates {
		if a.PublishedAt.After(latest) {
			latest = a.PublishedAt
		}
	}
	return latest
}
