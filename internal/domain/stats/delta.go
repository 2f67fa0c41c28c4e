package stats

import (
	"math"

	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// Delta is one metric submission. Every field is optional, but at least one
// must be present and every present field must be > 0.
type Delta struct {
	// DailySteps goes to today's StepRecord only; it does not touch TotalSteps.
	DailySteps *int64
	// ExtraSteps goes to TotalSteps and drives the level.
	ExtraSteps *int64
	// ExtraDistance (km) goes to TotalDistance and today's StepRecord.Distance.
	ExtraDistance *float64
	ExtraDays     *int32
}

// Validate rejects an empty delta or any non-positive field. It never mutates.
func (d Delta) Validate() error {
	if d.IsEmpty() {
		return shared.ErrNoDelta
	}
	if d.DailySteps != nil && *d.DailySteps <= 0 {
		return shared.WrapError("stats", "Validate", shared.ErrValidation, "daily_steps must be > 0", shared.ErrNonPositiveDelta)
	}
	if d.ExtraSteps != nil && *d.ExtraSteps <= 0 {
		return shared.WrapError("stats", "Validate", shared.ErrValidation, "extra_steps must be > 0", shared.ErrNonPositiveDelta)
	}
	if d.ExtraDistance != nil && !positiveFinite(*d.ExtraDistance) {
		return shared.WrapError("stats", "Validate", shared.ErrValidation, "extra_distance must be > 0", shared.ErrNonPositiveDelta)
	}
	if d.ExtraDays != nil && *d.ExtraDays <= 0 {
		return shared.WrapError("stats", "Validate", shared.ErrValidation, "extra_days must be > 0", shared.ErrNonPositiveDelta)
	}
	return nil
}

// IsEmpty reports whether no field is set.
func (d Delta) IsEmpty() bool {
	return d.DailySteps == nil && d.ExtraSteps == nil && d.ExtraDistance == nil && d.ExtraDays == nil
}

// TouchesToday reports whether the delta writes to today's StepRecord.
func (d Delta) TouchesToday() bool {
	return d.DailySteps != nil || d.ExtraDistance != nil
}

// Int64 and friends build optional delta fields.
func Int64(v int64) *int64       { return &v }
func Float64(v float64) *float64 { return &v }
func Int32(v int32) *int32       { return &v }

// roundKm trims accumulated float noise from distance totals. Values too large
// to scale carry no sub-metre digits and are returned as is.
func roundKm(v float64) float64 {
	scaled := v * 1e6
	if math.IsInf(scaled, 0) {
		return v
	}
	return math.Round(scaled) / 1e6
}
