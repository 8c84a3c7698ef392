// Package risk turns impact axis levels into a 0-100 score and a risk level.
package risk

import (
	"fmt"
	"math"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

// Weights holds the weight of each impact axis. They should sum to 1.
type Weights map[model.Axis]float64

// DefaultWeights is market 0.3, product 0.3, pricing 0.2, regulatory 0.1, brand 0.1.
func DefaultWeights() Weights {
	return Weights{
		model.AxisMarket:     0.3,
		model.AxisProduct:    0.3,
		model.AxisPricing:    0.2,
		model.AxisRegulatory: 0.1,
		model.AxisBrand:      0.1,
	}
}

// WeightsFromConfig maps the risk config section onto Weights.
func WeightsFromConfig(c config.AxisWeights) Weights {
	return Weights{
		model.AxisMarket:     c.Market,
		model.AxisProduct:    c.Product,
		model.AxisPricing:    c.Pricing,
		model.AxisRegulatory: c.Regulatory,
		model.AxisBrand:      c.Brand,
	}
}

// Score is the weighted risk of one extraction.
type Score struct {
	Value         float64                `json:"value"`
	Level         model.RiskLevel        `json:"level"`
	Contributions map[model.Axis]float64 `json:"contributions"`
}

// Compute scores the extraction's impact axes. Missing axes contribute 0.
func (w Weights) Compute(ext *model.ExtractionResult) Score {
	s := Score{Contributions: make(map[model.Axis]float64, len(model.Axes))}
	for _, axis := range model.Axes {
		c := w[axis] * ext.AxisLevel(axis).Value() * 100
		s.Contributions[axis] = c
		s.Value += c
	}
	s.Value = math.Min(100, math.Max(0, s.Value))
	s.Level = LevelFor(s.Value)
	return s
}

// LevelFor maps a score onto a level using the rounded value:
// below 31 Low, up to 60 Medium, up to 80 High, above that Critical.
func LevelFor(value float64) model.RiskLevel {
	switch v := math.Round(value); {
	case v < 31:
		return model.RiskLow
	case v <= 60:
		return model.RiskMedium
	case v <= 80:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// Rationale summarizes the score and the non-zero axis contributions.
func (s Score) Rationale() []string {
	out := []string{fmt.Sprintf("risk score %.0f (%s)", s.Value, s.Level)}
	for _, axis := range model.Axes {
		if c := s.Contributions[axis]; c > 0 {
			out = append(out, fmt.Sprintf("%s impact contributes %.0f", axis, c))
		}
	}
	return out
}
