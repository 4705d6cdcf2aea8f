// Package risk implements the base risk scorer and composite-context
// adjustment spec.md §4.2 defines: a deterministic, explainable function
// from a cartridge's RiskInput (plus optional composite context) to a
// RiskScore with a bucketed RiskCategory and a named factor breakdown for
// audit display.
package risk

import (
	"math"

	"governor/schema"
)

const (
	dollarsAtRiskWeight    = 20.0
	dollarsAtRiskThreshold = 10000.0
	blastRadiusWeight      = 10.0
	irreversibilityFull    = 15.0
	irreversibilityPartial = 7.5
	entityVolatileWeight   = 8.0
	learningPhaseWeight    = 10.0
	recentlyModifiedWeight = 5.0
)

func baseWeight(category schema.RiskCategory) float64 {
	switch category {
	case schema.RiskNone:
		return 0
	case schema.RiskLow:
		return 15
	case schema.RiskMedium:
		return 35
	case schema.RiskHigh:
		return 55
	case schema.RiskCritical:
		return 80
	default:
		return 0
	}
}

// categoryFor buckets a clamped raw score into its RiskCategory.
func categoryFor(raw float64) schema.RiskCategory {
	switch {
	case raw <= 20:
		return schema.RiskNone
	case raw <= 40:
		return schema.RiskLow
	case raw <= 60:
		return schema.RiskMedium
	case raw <= 80:
		return schema.RiskHigh
	default:
		return schema.RiskCritical
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score computes the base RiskScore for one proposal's RiskInput, per
// spec.md §4.2's weight table.
func Score(input schema.RiskInput) schema.RiskScore {
	factors := map[string]float64{}

	base := baseWeight(input.BaseRisk)
	factors["baseRisk"] = base
	raw := base

	if input.DollarsAtRisk > 0 {
		contribution := math.Min(dollarsAtRiskWeight, (input.DollarsAtRisk/dollarsAtRiskThreshold)*dollarsAtRiskWeight)
		factors["dollarsAtRisk"] = contribution
		raw += contribution
	}

	if input.BlastRadius > 1 {
		contribution := math.Min(2*blastRadiusWeight, blastRadiusWeight*math.Log2(float64(input.BlastRadius)))
		factors["blastRadius"] = contribution
		raw += contribution
	}

	switch input.Reversibility {
	case schema.ReversibilityNone:
		factors["irreversibility"] = irreversibilityFull
		raw += irreversibilityFull
	case schema.ReversibilityPartial:
		factors["irreversibility"] = irreversibilityPartial
		raw += irreversibilityPartial
	}

	if input.EntityVolatile {
		factors["entityVolatile"] = entityVolatileWeight
		raw += entityVolatileWeight
	}
	if input.LearningPhase {
		factors["learningPhase"] = learningPhaseWeight
		raw += learningPhaseWeight
	}
	if input.RecentlyModified {
		factors["recentlyModified"] = recentlyModifiedWeight
		raw += recentlyModifiedWeight
	}

	raw = clamp(raw, 0, 100)
	return schema.RiskScore{Raw: raw, Category: categoryFor(raw), Factors: factors}
}
