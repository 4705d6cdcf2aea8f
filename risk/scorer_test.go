package risk_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"governor/risk"
	"governor/schema"
)

func TestScoreBaseOnly(t *testing.T) {
	score := risk.Score(schema.RiskInput{BaseRisk: schema.RiskLow, Reversibility: schema.ReversibilityFull})
	require.Equal(t, 15.0, score.Raw)
	require.Equal(t, schema.RiskNone, score.Category)
}

func TestScoreDollarsAtRiskCapsAtWeight(t *testing.T) {
	score := risk.Score(schema.RiskInput{
		BaseRisk:      schema.RiskLow,
		DollarsAtRisk: 50000,
		Reversibility: schema.ReversibilityFull,
	})
	require.Equal(t, 20.0, score.Factors["dollarsAtRisk"])
}

func TestScoreIrreversibilityNone(t *testing.T) {
	score := risk.Score(schema.RiskInput{BaseRisk: schema.RiskMedium, Reversibility: schema.ReversibilityNone})
	require.Equal(t, 15.0, score.Factors["irreversibility"])
	require.Equal(t, 50.0, score.Raw)
	require.Equal(t, schema.RiskMedium, score.Category)
}

func TestScoreClampsAtHundred(t *testing.T) {
	score := risk.Score(schema.RiskInput{
		BaseRisk:         schema.RiskCritical,
		DollarsAtRisk:    100000,
		BlastRadius:      64,
		Reversibility:    schema.ReversibilityNone,
		EntityVolatile:   true,
		LearningPhase:    true,
		RecentlyModified: true,
	})
	require.Equal(t, 100.0, score.Raw)
	require.Equal(t, schema.RiskCritical, score.Category)
}

func TestScoreBlastRadiusLogarithmic(t *testing.T) {
	score := risk.Score(schema.RiskInput{BaseRisk: schema.RiskNone, BlastRadius: 4, Reversibility: schema.ReversibilityFull})
	require.InDelta(t, 20.0, score.Factors["blastRadius"], 0.01)
}

func TestScoreMonotonicInDollarsAtRisk(t *testing.T) {
	var prev float64
	for i, dollars := range []float64{0, 1000, 5000, 10000, 20000, 50000} {
		score := risk.Score(schema.RiskInput{
			BaseRisk:      schema.RiskMedium,
			DollarsAtRisk: dollars,
			Reversibility: schema.ReversibilityFull,
		})
		if i > 0 {
			require.GreaterOrEqual(t, score.Raw, prev, "raw score must not decrease as dollarsAtRisk grows")
		}
		prev = score.Raw
	}
}

func TestScoreMonotonicInBlastRadius(t *testing.T) {
	var prev float64
	for i, radius := range []int{0, 1, 2, 4, 8, 16, 32} {
		score := risk.Score(schema.RiskInput{
			BaseRisk:      schema.RiskMedium,
			BlastRadius:   radius,
			Reversibility: schema.ReversibilityFull,
		})
		if i > 0 {
			require.GreaterOrEqual(t, score.Raw, prev, "raw score must not decrease as blastRadius grows")
		}
		prev = score.Raw
	}
}

func TestScoreMonotonicAcrossBooleanContributions(t *testing.T) {
	none := risk.Score(schema.RiskInput{BaseRisk: schema.RiskMedium, Reversibility: schema.ReversibilityFull})
	volatile := risk.Score(schema.RiskInput{BaseRisk: schema.RiskMedium, Reversibility: schema.ReversibilityFull, EntityVolatile: true})
	learning := risk.Score(schema.RiskInput{BaseRisk: schema.RiskMedium, Reversibility: schema.ReversibilityFull, EntityVolatile: true, LearningPhase: true})
	modified := risk.Score(schema.RiskInput{BaseRisk: schema.RiskMedium, Reversibility: schema.ReversibilityFull, EntityVolatile: true, LearningPhase: true, RecentlyModified: true})

	require.GreaterOrEqual(t, volatile.Raw, none.Raw)
	require.GreaterOrEqual(t, learning.Raw, volatile.Raw)
	require.GreaterOrEqual(t, modified.Raw, learning.Raw)
}

func TestCompositeAdjustmentVelocityPenalty(t *testing.T) {
	base := risk.Score(schema.RiskInput{BaseRisk: schema.RiskLow, Reversibility: schema.ReversibilityFull})
	adjusted := risk.CompositeAdjustment(base, schema.CompositeContext{
		RecentActionCount:      6,
		DistinctTargetEntities: 6,
	})
	require.Equal(t, 10.0, adjusted.Factors["velocity"])
	require.Equal(t, 25.0, adjusted.Raw)
}

func TestCompositeAdjustmentConcentrationPenalty(t *testing.T) {
	base := risk.Score(schema.RiskInput{BaseRisk: schema.RiskNone, Reversibility: schema.ReversibilityFull})
	adjusted := risk.CompositeAdjustment(base, schema.CompositeContext{
		RecentActionCount:      10,
		DistinctTargetEntities: 1,
	})
	require.Equal(t, 8.0, adjusted.Factors["concentration"])
}

func TestCompositeAdjustmentCrossCartridgePenalty(t *testing.T) {
	base := risk.Score(schema.RiskInput{BaseRisk: schema.RiskNone, Reversibility: schema.ReversibilityFull})
	adjusted := risk.CompositeAdjustment(base, schema.CompositeContext{DistinctCartridges: 3})
	require.Equal(t, 12.0, adjusted.Factors["crossCartridge"])
}
