package risk

import "governor/schema"

const (
	cumulativeExposureWeight    = 15.0
	cumulativeExposureThreshold = 25000.0
	velocityThreshold           = 5
	velocityPenalty             = 10.0
	concentrationThreshold      = 0.34
	concentrationPenalty        = 8.0
	crossCartridgePenalty       = 6.0
)

// CompositeAdjustment applies spec.md §4.2's composite-risk adjustment to a
// base RiskScore, folding in velocity, concentration, and cross-cartridge
// signals from recent activity, and re-derives the category from the
// adjusted, re-clamped raw score.
func CompositeAdjustment(base schema.RiskScore, ctx schema.CompositeContext) schema.RiskScore {
	factors := make(map[string]float64, len(base.Factors)+4)
	for k, v := range base.Factors {
		factors[k] = v
	}

	raw := base.Raw

	if ctx.CumulativeExposure > 0 {
		ratio := ctx.CumulativeExposure / cumulativeExposureThreshold
		if ratio > 1 {
			ratio = 1
		}
		contribution := cumulativeExposureWeight * ratio
		factors["cumulativeExposure"] = contribution
		raw += contribution
	}

	if ctx.RecentActionCount > velocityThreshold {
		factors["velocity"] = velocityPenalty
		raw += velocityPenalty
	}

	if ctx.RecentActionCount > 0 {
		concentration := float64(ctx.DistinctTargetEntities) / float64(ctx.RecentActionCount)
		if concentration < concentrationThreshold {
			factors["concentration"] = concentrationPenalty
			raw += concentrationPenalty
		}
	}

	if ctx.DistinctCartridges > 1 {
		contribution := crossCartridgePenalty * float64(ctx.DistinctCartridges-1)
		factors["crossCartridge"] = contribution
		raw += contribution
	}

	raw = clamp(raw, 0, 100)
	return schema.RiskScore{Raw: raw, Category: categoryFor(raw), Factors: factors}
}
