package guardrail

import (
	"time"
)

// compositeWindow is how far back "recent" actions are counted when
// building a CompositeContext for the risk scorer's composite adjustment.
const compositeWindow = 10 * time.Minute

// ActionObservation is one recent action the composite context provider
// folds into its window, supplied by the orchestrator from envelope
// history rather than stored separately by this package.
type ActionObservation struct {
	OccurredAt    time.Time
	DollarsAtRisk float64
	TargetEntity  string
	CartridgeID   string
}

// CompositeInput reduces a slice of recent ActionObservations (already
// filtered to one principal) into the {recentActionCount, windowMs,
// cumulativeExposure, distinctTargetEntities, distinctCartridges} tuple
// risk.CompositeAdjustment consumes, per spec.md §4.2.
func CompositeInput(now time.Time, observations []ActionObservation) (recentActionCount int, windowMs int64, cumulativeExposure float64, distinctTargetEntities, distinctCartridges int) {
	since := now.Add(-compositeWindow)
	entities := map[string]struct{}{}
	cartridges := map[string]struct{}{}

	for _, obs := range observations {
		if obs.OccurredAt.Before(since) {
			continue
		}
		recentActionCount++
		cumulativeExposure += obs.DollarsAtRisk
		if obs.TargetEntity != "" {
			entities[obs.TargetEntity] = struct{}{}
		}
		if obs.CartridgeID != "" {
			cartridges[obs.CartridgeID] = struct{}{}
		}
	}

	return recentActionCount, compositeWindow.Milliseconds(), cumulativeExposure, len(entities), len(cartridges)
}
