package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
	"github.com/impactwatch/impactwatch/pipeline/internal/refdata"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func table(t *testing.T) *refdata.PublisherTable {
	t.Helper()
	tbl, err := refdata.NewPublisherTable("test", []refdata.Publisher{
		{Domain: "reuters.com", Name: "Reuters", Tier: 1, Credibility: 0.9},
		{Domain: "techcrunch.com", Name: "TechCrunch", Tier: 2, Credibility: 0.8},
		{Domain: "bloomberg.com", Name: "Bloomberg", Tier: 1, Credibility: 0.9},
	})
	require.NoError(t, err)
	return tbl
}

func TestSourceCredibility(t *testing.T) {
	p := DefaultParams()
	tbl := table(t)

	tests := []struct {
		name string
		src  model.SourceRef
		want float64
	}{
		{"known and settled", model.SourceRef{PublisherID: "reuters.com", PublishedAt: now.Add(-3 * time.Hour)}, 0.9},
		{"subdomain resolves", model.SourceRef{PublisherID: "markets.reuters.com", PublishedAt: now.Add(-3 * time.Hour)}, 0.9},
		{"unknown publisher", model.SourceRef{PublisherID: "blog.example", PublishedAt: now.Add(-3 * time.Hour)}, 0.3},
		{"fresh", model.SourceRef{PublisherID: "reuters.com", PublishedAt: now.Add(-time.Hour)}, 0.9 * 0.85},
		{"breaking", model.SourceRef{PublisherID: "reuters.com", PublishedAt: now.Add(-3 * time.Hour), IsBreaking: true}, 0.9 * 0.9},
		{"fresh and breaking", model.SourceRef{PublisherID: "reuters.com", PublishedAt: now, IsBreaking: true}, 0.9 * 0.85 * 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.SourceCredibility(tbl, tt.src, now), 1e-12)
		})
	}

	assert.Equal(t, 0.3, p.BaseCredibility(nil, "reuters.com"), "nil table means unknown")
}

func TestCorroboration(t *testing.T) {
	p := DefaultParams()
	assert.InDelta(t, 1.0/3, p.Corroboration(1), 1e-12)
	assert.InDelta(t, 2.0/3, p.Corroboration(2), 1e-12)
	assert.Equal(t, 1.0, p.Corroboration(3))
	assert.Equal(t, 1.0, p.Corroboration(7))
}

func TestRecency(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 1.0, p.Recency(now, now))
	assert.Equal(t, 1.0, p.Recency(now.Add(time.Hour), now), "future counts as zero age")
	assert.InDelta(t, math.Exp(-0.24), p.Recency(now.Add(-24*time.Hour), now), 1e-12)
}

func acmeSignal() *model.CanonicalSignal {
	published := now.Add(-5 * time.Hour)
	return &model.CanonicalSignal{
		ID:                 "cs-1",
		WatchID:            "acme",
		PublishedAt:        published,
		CorroborationCount: 3,
		Sources: []model.SourceRef{
			{URL: "https://reuters.com/a", PublisherID: "reuters.com", PublishedAt: published},
			{URL: "https://techcrunch.com/a", PublisherID: "techcrunch.com", PublishedAt: published.Add(20 * time.Minute)},
			{URL: "https://bloomberg.com/a", PublisherID: "bloomberg.com", PublishedAt: published.Add(45 * time.Minute)},
		},
	}
}

func TestConfidence_ThreePublishers(t *testing.T) {
	p := DefaultParams()
	score := p.Confidence(table(t), acmeSignal(), 0.8, now)

	assert.Equal(t, 1.0, score.Corroboration)
	assert.InDelta(t, (0.9+0.8+0.9)/3, score.SourceCredibility, 1e-12)
	assert.Equal(t, 0.8, score.ExtractionQuality)
	assert.InDelta(t, math.Exp(-0.05), score.Recency, 1e-12)

	want := 0.4*score.SourceCredibility + 0.3*1.0 + 0.2*0.8 + 0.1*score.Recency
	assert.InDelta(t, want, score.Value, 1e-12)
}

func TestConfidence_Deterministic(t *testing.T) {
	p := DefaultParams()
	tbl := table(t)
	sig := acmeSignal()

	first := p.Confidence(tbl, sig, 0.73, now)
	for i := 0; i < 100; i++ {
		got := p.Confidence(tbl, sig, 0.73, now)
		assert.Equal(t, math.Float64bits(first.Value), math.Float64bits(got.Value))
		assert.Equal(t, first, got)
	}
}

func TestConfidence_ClampsExtraction(t *testing.T) {
	p := DefaultParams()
	tbl := table(t)

	assert.Equal(t, 1.0, p.Confidence(tbl, acmeSignal(), 4.2, now).ExtractionQuality)
	assert.Equal(t, 0.0, p.Confidence(tbl, acmeSignal(), -1, now).ExtractionQuality)
	assert.Equal(t, 0.0, p.Confidence(tbl, acmeSignal(), math.NaN(), now).ExtractionQuality)
}

func TestConfidence_NoSources(t *testing.T) {
	score := DefaultParams().Confidence(nil, &model.CanonicalSignal{PublishedAt: now}, 0.5, now)
	assert.Equal(t, 0.0, score.SourceCredibility)
	assert.Equal(t, 0.0, score.Corroboration)
	assert.InDelta(t, 0.2*0.5+0.1, score.Value, 1e-12)
}

func TestRationale(t *testing.T) {
	s := ConfidenceScore{SourceCredibility: 0.867, Corroboration: 1, ExtractionQuality: 0.8, Recency: 0.951, Value: 0.8}
	assert.Equal(t, []string{
		"confidence 0.80",
		"source credibility 0.87",
		"corroboration 1.00",
		"extraction quality 0.80",
		"recency 0.95",
	}, s.Rationale())
}

func TestParamsFromConfig(t *testing.T) {
	p := ParamsFromConfig(config.ScoringConfig{
		UnknownCredibility:  0.25,
		FreshAge:            time.Hour,
		FreshPenalty:        0.8,
		BreakingPenalty:     0.7,
		CorroborationTarget: 4,
		RecencyDecay:        0.02,
		Weights:             config.ConfidenceMult{Credibility: 0.25, Corroboration: 0.25, Extraction: 0.25, Recency: 0.25},
	})
	assert.Equal(t, 0.25, p.UnknownCredibility)
	assert.Equal(t, 4, p.CorroborationTarget)
	assert.Equal(t, 0.25, p.Weights.Recency)
	assert.Equal(t, 0.25, p.Corroboration(1))
}
