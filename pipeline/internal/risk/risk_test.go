package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

func extraction(levels map[model.Axis]model.AxisLevel) *model.ExtractionResult {
	axes := make(map[model.Axis]model.AxisImpact, len(levels))
	for a, l := range levels {
		axes[a] = model.AxisImpact{Level: l}
	}
	return &model.ExtractionResult{ImpactAxes: axes}
}

func TestCompute_ProductHighMarketMediumPricingLow(t *testing.T) {
	s := DefaultWeights().Compute(extraction(map[model.Axis]model.AxisLevel{
		model.AxisProduct: model.LevelHigh,
		model.AxisMarket:  model.LevelMedium,
		model.AxisPricing: model.LevelLow,
	}))

	assert.InDelta(t, 45, s.Value, 1e-9)
	assert.Equal(t, model.RiskMedium, s.Level)
	assert.InDelta(t, 30, s.Contributions[model.AxisProduct], 1e-9)
	assert.InDelta(t, 15, s.Contributions[model.AxisMarket], 1e-9)
	assert.Equal(t, 0.0, s.Contributions[model.AxisPricing])
	assert.Equal(t, 0.0, s.Contributions[model.AxisBrand], "missing axes contribute 0")
}

func TestCompute_Extremes(t *testing.T) {
	w := DefaultWeights()

	none := w.Compute(&model.ExtractionResult{})
	assert.Equal(t, 0.0, none.Value)
	assert.Equal(t, model.RiskLow, none.Level)

	nilExt := w.Compute(nil)
	assert.Equal(t, 0.0, nilExt.Value)

	all := map[model.Axis]model.AxisLevel{}
	for _, a := range model.Axes {
		all[a] = model.LevelHigh
	}
	full := w.Compute(extraction(all))
	assert.InDelta(t, 100, full.Value, 1e-9)
	assert.Equal(t, model.RiskCritical, full.Level)
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		value float64
		want  model.RiskLevel
	}{
		{0, model.RiskLow},
		{30, model.RiskLow},
		{30.4, model.RiskLow},
		{30.5, model.RiskMedium},
		{31, model.RiskMedium},
		{60, model.RiskMedium},
		{60.4, model.RiskMedium},
		{60.5, model.RiskHigh},
		{80, model.RiskHigh},
		{80.5, model.RiskCritical},
		{81, model.RiskCritical},
		{100, model.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.value), "value %v", tt.value)
	}
}

func TestCompute_MonotonicPerAxis(t *testing.T) {
	w := DefaultWeights()
	levels := []model.AxisLevel{"", model.LevelLow, model.LevelMedium, model.LevelHigh}

	for _, axis := range model.Axes {
		for _, other := range levels {
			prev := -1.0
			prevRank := 0
			for _, l := range levels {
				in := map[model.Axis]model.AxisLevel{axis: l}
				for _, a := range model.Axes {
					if a != axis {
						in[a] = other
					}
				}
				s := w.Compute(extraction(in))
				assert.GreaterOrEqual(t, s.Value, prev, "axis %s level %q", axis, l)
				assert.GreaterOrEqual(t, s.Level.Rank(), prevRank, "axis %s level %q", axis, l)
				prev, prevRank = s.Value, s.Level.Rank()
			}
		}
	}
}

func TestWeightsFromConfig(t *testing.T) {
	w := WeightsFromConfig(config.AxisWeights{Market: 0.5, Product: 0.5})
	s := w.Compute(extraction(map[model.Axis]model.AxisLevel{
		model.AxisMarket:     model.LevelHigh,
		model.AxisRegulatory: model.LevelHigh,
	}))
	assert.InDelta(t, 50, s.Value, 1e-9)
}

func TestRationale(t *testing.T) {
	s := DefaultWeights().Compute(extraction(map[model.Axis]model.AxisLevel{
		model.AxisProduct: model.LevelHigh,
		model.AxisMarket:  model.LevelMedium,
	}))
	assert.Equal(t, []string{
		"risk score 45 (Medium)",
		"market impact contributes 15",
		"product impact contributes 30",
	}, s.Rationale())
}
