// Package scoring computes per-source credibility and the composite
// confidence of a canonical signal. Every function is pure: the clock is an
// argument.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/refdata"
)

// Weights weight the four confidence components.
type Weights struct {
	Credibility   float64
	Corroboration float64
	Extraction    float64
	Recency       float64
}

// Params holds every tunable of the scorer.
type Params struct {
	// UnknownCredibility applies to publishers missing from the table.
	UnknownCredibility float64
	// Sources younger than FreshAge are multiplied by FreshPenalty.
	FreshAge     time.Duration
	FreshPenalty float64
	// BreakingPenalty multiplies sources flagged as breaking.
	BreakingPenalty float64
	// CorroborationTarget distinct publishers saturate the corroboration component.
	CorroborationTarget int
	// RecencyDecay is the per-hour exponential decay rate.
	RecencyDecay float64
	Weights      Weights
}

// DefaultParams returns the stock scorer settings.
func DefaultParams() Params {
	return Params{
		UnknownCredibility:  0.3,
		FreshAge:            2 * time.Hour,
		FreshPenalty:        0.85,
		BreakingPenalty:     0.9,
		CorroborationTarget: 3,
		RecencyDecay:        0.01,
		Weights:             Weights{Credibility: 0.4, Corroboration: 0.3, Extraction: 0.2, Recency: 0.1},
	}
}

// ParamsFromConfig maps the scoring config section onto Params.
func ParamsFromConfig(c config.ScoringConfig) Params {
	return Params{
		UnknownCredibility:  c.UnknownCredibility,
		FreshAge:            c.FreshAge,
		FreshPenalty:        c.FreshPenalty,
		BreakingPenalty:     c.BreakingPenalty,
		CorroborationTarget: c.CorroborationTarget,
		RecencyDecay:        c.RecencyDecay,
		Weights: Weights{
			Credibility:   c.Weights.Credibility,
			Corroboration: c.Weights.Corroboration,
			Extraction:    c.Weights.Extraction,
			Recency:       c.Weights.Recency,
		},
	}
}

// Publishers resolves publisher domains to table entries.
type Publishers interface {
	Lookup(domain string) (refdata.Publisher, bool)
}

// BaseCredibility is the table credibility for domain, or the unknown default.
func (p Params) BaseCredibility(table Publishers, domain string) float64 {
	if table != nil {
		if pub, ok := table.Lookup(domain); ok {
			return pub.Credibility
		}
	}
	return p.UnknownCredibility
}

// SourceCredibility applies the freshness and breaking penalties to the base
// credibility of one source.
func (p Params) SourceCredibility(table Publishers, src model.SourceRef, now time.Time) float64 {
	c := p.BaseCredibility(table, src.PublisherID)
	if now.Sub(src.PublishedAt) < p.FreshAge {
		c *= p.FreshPenalty
	}
	if src.IsBreaking {
		c *= p.BreakingPenalty
	}
	return clamp01(c)
}

// Corroboration saturates at CorroborationTarget distinct publishers.
func (p Params) Corroboration(distinctPublishers int) float64 {
	target := p.CorroborationTarget
	if target < 1 {
		target = 1
	}
	return math.Min(1, float64(distinctPublishers)/float64(target))
}

// Recency decays exponentially with age in hours. Future timestamps count as age zero.
func (p Params) Recency(publishedAt, now time.Time) float64 {
	hours := math.Max(0, now.Sub(publishedAt).Hours())
	return math.Exp(-p.RecencyDecay * hours)
}

// ConfidenceScore keeps each component next to the weighted value.
type ConfidenceScore struct {
	SourceCredibility float64 `json:"source_credibility"`
	Corroboration     float64 `json:"corroboration"`
	ExtractionQuality float64 `json:"extraction_quality"`
	Recency           float64 `json:"recency"`
	Value             float64 `json:"value"`
}

// Confidence scores a canonical signal. extractionConfidence is clamped to [0,1].
func (p Params) Confidence(table Publishers, c *model.CanonicalSignal, extractionConfidence float64, now time.Time) ConfidenceScore {
	var sum float64
	for _, src := range c.Sources {
		sum += p.SourceCredibility(table, src, now)
	}
	var avg float64
	if len(c.Sources) > 0 {
		avg = sum / float64(len(c.Sources))
	}

	s := ConfidenceScore{
		SourceCredibility: avg,
		Corroboration:     p.Corroboration(c.DistinctPublishers()),
		ExtractionQuality: clamp01(extractionConfidence),
		Recency:           p.Recency(c.PublishedAt, now),
	}
	w := p.Weights
	s.Value = clamp01(w.Credibility*s.SourceCredibility +
		w.Corroboration*s.Corroboration +
		w.Extraction*s.ExtractionQuality +
		w.Recency*s.Recency)
	return s
}

// Rationale renders the components for an impact card.
func (s ConfidenceScore) Rationale() []string {
	return []string{
		fmt.Sprintf("confidence %.2f", s.Value),
		fmt.Sprintf("source credibility %.2f", s.SourceCredibility),
		fmt.Sprintf("corroboration %.2f", s.Corroboration),
		fmt.Sprintf("extraction quality %.2f", s.ExtractionQuality),
		fmt.Sprintf("recency %.2f", s.Recency),
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
