package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown key", "rules:\n  - id: a\n    whenn: {}\n", "whenn"},
		{"missing id", "rules:\n  - then: {risk_level: High}\n", "id is required"},
		{"duplicate id", "rules:\n  - {id: a, then: {risk_level: High}}\n  - {id: a, then: {risk_level: Low}}\n", "duplicate id"},
		{"unknown event type", "rules:\n  - {id: a, when: {event_types: [Merger]}, then: {risk_level: High}}\n", "unknown event type"},
		{"unknown axis", "rules:\n  - {id: a, when: {axes: {vibes: high}}, then: {risk_level: High}}\n", "unknown axis"},
		{"unknown axis level", "rules:\n  - {id: a, when: {axes: {market: extreme}}, then: {risk_level: High}}\n", "unknown level"},
		{"inverted range", "rules:\n  - {id: a, when: {min_risk_score: 80, max_risk_score: 20}, then: {risk_level: High}}\n", "exceeds"},
		{"confidence out of bounds", "rules:\n  - {id: a, when: {min_confidence: 2}, then: {risk_level: High}}\n", "outside"},
		{"bad burst window", "rules:\n  - {id: a, when: {burst: {min_count: 3, window: soon}}, then: {risk_level: High}}\n", "invalid window"},
		{"burst count", "rules:\n  - {id: a, when: {burst: {min_count: 0, window: 1h}}, then: {risk_level: High}}\n", "min_count"},
		{"unknown level", "rules:\n  - {id: a, then: {risk_level: Apocalyptic}}\n", "unknown risk level"},
		{"downgrade without reason", "rules:\n  - {id: a, then: {risk_level: Low, allow_downgrade: true}}\n", "requires a reason"},
		{"empty outcome", "rules:\n  - {id: a, when: {event_types: [Launch]}}\n", "risk_level or actions"},
		{"action without owner", "rules:\n  - {id: a, then: {actions: [{title: x}]}}\n", "owner and title"},
		{"bad fallback level", "fallback:\n  Severe: [{owner: a, title: b}]\n", "unknown risk level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_ReportsEveryInvalidRule(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - {id: a, then: {risk_level: Nope}}\n  - {id: b, then: {risk_level: Worse}}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule a")
	assert.Contains(t, err.Error(), "rule b")
}

func TestParse_DisabledAndEmpty(t *testing.T) {
	table, err := Parse([]byte("rules:\n  - {id: a, disabled: true, then: {risk_level: High}}\n  - {id: b, then: {risk_level: High}}\n"))
	require.NoError(t, err)
	require.Len(t, table.Rules, 1)
	assert.Equal(t, "b", table.Rules[0].ID)

	table, err = Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, table.Rules)
	assert.Equal(t, DefaultFallback[model.RiskHigh], table.Fallback[model.RiskHigh])
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlappingTable), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1", table.Version)
	assert.Len(t, table.Rules, 6)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
