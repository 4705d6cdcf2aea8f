package guardrail

import (
	"context"
	"time"

	"governor/schema"
)

// SpendWindowResult reports whether dollarsAtRisk would push a principal
// (optionally scoped to one cartridge) over a SpendLimits bound, per window.
type SpendWindowResult struct {
	Daily   *WindowCheck
	Weekly  *WindowCheck
	Monthly *WindowCheck
}

// WindowCheck is the outcome for a single spend window.
type WindowCheck struct {
	Limit     float64
	Spent     float64
	Projected float64
	Exceeded  bool
}

// Exceeded reports whether any configured window would be exceeded.
func (r SpendWindowResult) Exceeded() bool {
	for _, w := range []*WindowCheck{r.Daily, r.Weekly, r.Monthly} {
		if w != nil && w.Exceeded {
			return true
		}
	}
	return false
}

// calendarWindowStart returns the start of the current calendar-aligned
// UTC window containing now: midnight for daily, the most recent Monday
// midnight for weekly (ISO week start), and the 1st of the month for
// monthly. Windows are calendar-aligned rather than rolling 24h/7d/30d, per
// this runtime's resolution of spec.md's open question on spend-window
// semantics.
func calendarWindowStart(now time.Time, window string) time.Time {
	now = now.UTC()
	switch window {
	case "daily":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case "weekly":
		day := now.Day() - int(now.Weekday()-time.Monday)
		if now.Weekday() == time.Sunday {
			day = now.Day() - 6
		}
		return time.Date(now.Year(), now.Month(), day, 0, 0, 0, 0, time.UTC)
	case "monthly":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return now
	}
}

// CheckSpendLimits evaluates dollarsAtRisk against limits' configured
// windows, summing already-executed spend for principalID (optionally
// narrowed to cartridgeID) in each calendar window.
func (e *Engine) CheckSpendLimits(ctx context.Context, principalID, cartridgeID string, limits schema.SpendLimits, dollarsAtRisk float64) (SpendWindowResult, error) {
	var result SpendWindowResult
	now := e.now()

	check := func(limit *float64, window string) (*WindowCheck, error) {
		if limit == nil {
			return nil, nil
		}
		since := calendarWindowStart(now, window)
		spent, err := e.store.SpendSince(ctx, principalID, cartridgeID, since)
		if err != nil {
			return nil, err
		}
		projected := spent + dollarsAtRisk
		return &WindowCheck{Limit: *limit, Spent: spent, Projected: projected, Exceeded: projected > *limit}, nil
	}

	var err error
	if result.Daily, err = check(limits.Daily, "daily"); err != nil {
		return SpendWindowResult{}, err
	}
	if result.Weekly, err = check(limits.Weekly, "weekly"); err != nil {
		return SpendWindowResult{}, err
	}
	if result.Monthly, err = check(limits.Monthly, "monthly"); err != nil {
		return SpendWindowResult{}, err
	}
	return result, nil
}
