package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

const overlappingTable = `
version: "1"
rules:
  - id: critical-security
    name: Security incident with high brand impact
    when:
      event_types: [SecurityIncident]
      axes: {brand: high}
    then:
      risk_level: Critical
      actions:
        - {owner: security, title: Review exposure, priority: P1, due_in_days: 1}
  - id: any-security
    when:
      event_types: [SecurityIncident]
    then:
      risk_level: High
  - id: noisy-pricing
    when:
      event_types: [PricingChange]
      max_confidence: 0.4
    then:
      risk_level: Low
      allow_downgrade: true
      reason: low-confidence pricing chatter
  - id: launch-cap
    when:
      event_types: [Launch]
    then:
      risk_level: Low
  - id: negative-burst
    when:
      burst: {min_count: 3, window: 60m, min_risk_score: 40}
    then:
      risk_level: High
      actions:
        - {owner: communications, title: Monitor coverage spike, priority: P1, due_in_days: 1}
  - id: fintech-regulatory
    when:
      sectors: [Fintech]
      event_types: [Regulatory]
      min_risk_score: 20
    then:
      actions:
        - {owner: legal, title: Assess compliance exposure, priority: P1, due_in_days: 3}
fallback:
  Low:
    - {owner: analyst, title: Note for digest, priority: P3, due_in_days: 14}
`

func newTestEngine(t *testing.T, src string) *Engine {
	t.Helper()
	table, err := Parse([]byte(src))
	require.NoError(t, err)
	return NewEngine(Static(table), logging.Discard())
}

func extractionWith(axes map[model.Axis]model.AxisLevel) *model.ExtractionResult {
	r := &model.ExtractionResult{ImpactAxes: map[model.Axis]model.AxisImpact{}}
	for a, l := range axes {
		r.ImpactAxes[a] = model.AxisImpact{Level: l}
	}
	return r
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	e := newTestEngine(t, overlappingTable)

	in := Input{
		EventType:  model.EventSecurityIncident,
		Extraction: extractionWith(map[model.Axis]model.AxisLevel{model.AxisBrand: model.LevelHigh}),
		RiskScore:  40,
		RiskLevel:  model.RiskMedium,
	}
	d := e.Evaluate(in)
	assert.Equal(t, "critical-security", d.RuleID)
	assert.Equal(t, model.RiskCritical, d.RiskLevel)
	assert.True(t, d.Overridden)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "security", d.Actions[0].Owner)

	in.Extraction = extractionWith(map[model.Axis]model.AxisLevel{model.AxisBrand: model.LevelMedium})
	d = e.Evaluate(in)
	assert.Equal(t, "any-security", d.RuleID)
	assert.Equal(t, model.RiskHigh, d.RiskLevel)
	assert.Equal(t, DefaultFallback[model.RiskHigh], d.Actions, "rule without actions uses the fallback for the final level")
}

func TestEvaluate_Downgrades(t *testing.T) {
	e := newTestEngine(t, overlappingTable)

	t.Run("allowed with reason", func(t *testing.T) {
		d := e.Evaluate(Input{EventType: model.EventPricingChange, Confidence: 0.3, RiskScore: 55, RiskLevel: model.RiskMedium})
		assert.Equal(t, "noisy-pricing", d.RuleID)
		assert.Equal(t, model.RiskLow, d.RiskLevel)
		assert.True(t, d.Overridden)
		assert.Contains(t, d.Rationale, "low-confidence pricing chatter")
	})

	t.Run("rejected without allow_downgrade", func(t *testing.T) {
		d := e.Evaluate(Input{EventType: model.EventLaunch, RiskScore: 70, RiskLevel: model.RiskHigh})
		assert.Equal(t, "launch-cap", d.RuleID)
		assert.Equal(t, model.RiskHigh, d.RiskLevel)
		assert.False(t, d.Overridden)
		assert.True(t, d.DowngradeRejected)
	})
}

func TestEvaluate_Burst(t *testing.T) {
	e := newTestEngine(t, overlappingTable)
	counter := func(n int) func(time.Duration) int {
		return func(w time.Duration) int {
			assert.Equal(t, time.Hour, w)
			return n
		}
	}

	d := e.Evaluate(Input{EventType: model.EventOutage, RiskScore: 45, RiskLevel: model.RiskMedium, RecentSignals: counter(3)})
	assert.Equal(t, "negative-burst", d.RuleID)
	assert.Equal(t, model.RiskHigh, d.RiskLevel)

	d = e.Evaluate(Input{EventType: model.EventOutage, RiskScore: 45, RiskLevel: model.RiskMedium, RecentSignals: counter(2)})
	assert.Empty(t, d.RuleID)

	d = e.Evaluate(Input{EventType: model.EventOutage, RiskScore: 30, RiskLevel: model.RiskLow, RecentSignals: counter(5)})
	assert.Empty(t, d.RuleID, "score below the burst floor")

	d = e.Evaluate(Input{EventType: model.EventOutage, RiskScore: 45, RiskLevel: model.RiskMedium})
	assert.Empty(t, d.RuleID, "no counter means no burst")
}

func TestEvaluate_SectorAndActionsOnly(t *testing.T) {
	e := newTestEngine(t, overlappingTable)

	d := e.Evaluate(Input{Sector: " fintech ", EventType: model.EventRegulatory, RiskScore: 25, RiskLevel: model.RiskLow})
	assert.Equal(t, "fintech-regulatory", d.RuleID)
	assert.Equal(t, model.RiskLow, d.RiskLevel)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "legal", d.Actions[0].Owner)

	d = e.Evaluate(Input{Sector: "retail", EventType: model.EventRegulatory, RiskScore: 25, RiskLevel: model.RiskLow})
	assert.Empty(t, d.RuleID)
}

func TestEvaluate_Fallback(t *testing.T) {
	e := newTestEngine(t, overlappingTable)

	d := e.Evaluate(Input{EventType: model.EventHiring, RiskScore: 10, RiskLevel: model.RiskLow})
	assert.Empty(t, d.RuleID)
	assert.Equal(t, model.RiskLow, d.RiskLevel)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "Note for digest", d.Actions[0].Title)

	d = e.Evaluate(Input{EventType: model.EventHiring, RiskScore: 50, RiskLevel: model.RiskMedium})
	assert.Equal(t, DefaultFallback[model.RiskMedium], d.Actions)
}

func TestEvaluate_NilSourceUsesDefaults(t *testing.T) {
	d := NewEngine(nil, logging.Discard()).Evaluate(Input{RiskLevel: model.RiskCritical})
	assert.Equal(t, DefaultFallback[model.RiskCritical], d.Actions)
}

func TestRuleMatches_Predicates(t *testing.T) {
	yes, no := true, false
	lo, hi := 0.5, 0.9
	tests := []struct {
		name string
		rule Rule
		in   Input
		want bool
	}{
		{"empty rule matches anything", Rule{}, Input{}, true},
		{"min confidence", Rule{minConfidence: &lo}, Input{Confidence: 0.49}, false},
		{"within confidence range", Rule{minConfidence: &lo, maxConfidence: &hi}, Input{Confidence: 0.7}, true},
		{"needs review true", Rule{needsReview: &yes}, Input{NeedsReview: true}, true},
		{"needs review false", Rule{needsReview: &no}, Input{NeedsReview: true}, false},
		{"axis minimum missing axis", Rule{axes: map[model.Axis]model.AxisLevel{model.AxisMarket: model.LevelLow}}, Input{}, false},
		{"axis at minimum", Rule{axes: map[model.Axis]model.AxisLevel{model.AxisMarket: model.LevelMedium}},
			Input{Extraction: extractionWith(map[model.Axis]model.AxisLevel{model.AxisMarket: model.LevelMedium})}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(tt.in))
		})
	}
}
