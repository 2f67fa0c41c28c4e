package command

import (
	"time"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/stats"
)

// SubmitActivityCommand is one metric submission from the user.
type SubmitActivityCommand struct {
	Delta stats.Delta

	// RequestID correlates logs; optional.
	RequestID string
}

// Validate checks the delta. It runs before any transaction is opened.
func (c SubmitActivityCommand) Validate() error {
	return c.Delta.Validate()
}

// AffectedCategories lists the categories a delta can move, in scan order.
func (c SubmitActivityCommand) AffectedCategories() []achievement.Category {
	out := make([]achievement.Category, 0, 4)
	if c.Delta.DailySteps != nil {
		out = append(out, achievement.CategoryDailySteps)
	}
	if c.Delta.ExtraDays != nil {
		out = append(out, achievement.CategoryTotalDays)
	}
	if c.Delta.ExtraDistance != nil {
		out = append(out, achievement.CategoryTotalDistance)
	}
	if c.Delta.ExtraSteps != nil {
		out = append(out, achievement.CategoryLevel)
	}
	return out
}

// SubmitActivityResult is what a committed submission (or reconcile) produced.
type SubmitActivityResult struct {
	Stats       stats.UserStats
	Today       stats.StepRecord
	LevelBefore int
	LevelAfter  int
	// Unlocked lists new unlocks in collection order: categories in scan
	// order, thresholds ascending within each.
	Unlocked    []achievement.Unlock
	CommittedAt time.Time
}

// LeveledUp reports whether the level changed.
func (r *SubmitActivityResult) LeveledUp() bool {
	return r.LevelAfter > r.LevelBefore
}
