// Package progression computes level and category progress bands.
// Everything here is a pure function of its arguments.
package progression

import (
	"sort"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
)

// LevelProgress describes where a step total sits inside its level band.
type LevelProgress struct {
	CurrentLevel int     `json:"current_level"`
	NextLevel    int     `json:"next_level"`
	Progress     float64 `json:"progress"`
	StepsNeeded  int64   `json:"steps_needed"`
	// BandStart and BandEnd are the thresholds of CurrentLevel and NextLevel.
	BandStart float64 `json:"band_start"`
	BandEnd   float64 `json:"band_end"`
}

// IsMaxLevel reports whether there is no further level.
func (p LevelProgress) IsMaxLevel() bool {
	return p.NextLevel == p.CurrentLevel
}

// CategoryProgress is progress toward the lowest still-locked entry.
type CategoryProgress struct {
	Category       achievement.Category `json:"category"`
	CurrentValue   float64              `json:"current_value"`
	Target         float64              `json:"target"`
	TargetTitle    string               `json:"target_title,omitempty"`
	Progress       float64              `json:"progress"`
	Remaining      float64              `json:"remaining"`
	IsAllCompleted bool                 `json:"is_all_completed"`
}

// ComputeLevelProgress places totalSteps in the band
// [threshold(current), threshold(current+1)).
func ComputeLevelProgress(catalog *achievement.Catalog, totalSteps int64) LevelProgress {
	current := catalog.LevelForSteps(totalSteps)
	bandStart, _ := catalog.LevelThreshold(current)

	bandEnd, ok := catalog.LevelThreshold(current + 1)
	if !ok {
		return LevelProgress{
			CurrentLevel: current,
			NextLevel:    current,
			Progress:     1.0,
			StepsNeeded:  0,
			BandStart:    bandStart,
			BandEnd:      bandStart,
		}
	}

	steps := float64(totalSteps)
	needed := bandEnd - steps
	if needed < 0 {
		needed = 0
	}

	return LevelProgress{
		CurrentLevel: current,
		NextLevel:    current + 1,
		Progress:     clamp01((steps - bandStart) / floorOne(bandEnd-bandStart)),
		StepsNeeded:  int64(needed),
		BandStart:    bandStart,
		BandEnd:      bandEnd,
	}
}

// ComputeCategoryProgress measures currentValue against the lowest-threshold
// entry that is still locked. Entries need not be pre-sorted.
func ComputeCategoryProgress(cat achievement.Category, currentValue float64, entries []achievement.Entry) CategoryProgress {
	sorted := make([]achievement.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	for _, e := range sorted {
		if e.IsUnlocked {
			continue
		}
		remaining := e.Threshold - currentValue
		if remaining < 0 {
			remaining = 0
		}
		return CategoryProgress{
			Category:     cat,
			CurrentValue: currentValue,
			Target:       e.Threshold,
			TargetTitle:  e.Title,
			Progress:     clamp01(currentValue / floorOne(e.Threshold)),
			Remaining:    remaining,
		}
	}

	return CategoryProgress{
		Category:       cat,
		CurrentValue:   currentValue,
		Progress:       1.0,
		Remaining:      0,
		IsAllCompleted: true,
	}
}

// floorOne keeps denominators at 1 or above.
func floorOne(v float64) float64 {
	if v < 1 {
		return 1
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
