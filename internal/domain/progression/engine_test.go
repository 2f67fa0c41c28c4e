package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
)

func TestComputeLevelProgress(t *testing.T) {
	c := achievement.DefaultCatalog()

	tests := []struct {
		name     string
		steps    int64
		level    int
		next     int
		progress float64
		needed   int64
	}{
		{"empty account", 0, 1, 2, 0, 10000},
		{"middle of band", 60000, 3, 4, 0.2, 40000},
		{"exactly on threshold", 100000, 4, 5, 0, 70000},
		{"one step below next", 169999, 4, 5, 69999.0 / 70000.0, 1},
		{"max level", 2_000_000, 20, 20, 1, 0},
		{"beyond max level", 9_000_000, 20, 20, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ComputeLevelProgress(c, tt.steps)
			assert.Equal(t, tt.level, p.CurrentLevel)
			assert.Equal(t, tt.next, p.NextLevel)
			assert.InDelta(t, tt.progress, p.Progress, 1e-9)
			assert.Equal(t, tt.needed, p.StepsNeeded)
			assert.GreaterOrEqual(t, p.Progress, 0.0)
			assert.LessOrEqual(t, p.Progress, 1.0)
		})
	}

	assert.True(t, ComputeLevelProgress(c, 2_000_000).IsMaxLevel())
	assert.False(t, ComputeLevelProgress(c, 0).IsMaxLevel())
}

func TestComputeCategoryProgress(t *testing.T) {
	c := achievement.DefaultCatalog()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	entries := func(unlockedBelow float64) []achievement.Entry {
		defs := c.Definitions(achievement.CategoryDailySteps)
		out := make([]achievement.Entry, 0, len(defs))
		// в обратном порядке: функция сортирует сама
		for i := len(defs) - 1; i >= 0; i-- {
			e := achievement.NewEntry(defs[i])
			if e.Threshold <= unlockedBelow {
				_ = e.Unlock(now)
			}
			out = append(out, e)
		}
		return out
	}

	p := ComputeCategoryProgress(achievement.CategoryDailySteps, 5000, entries(3000))
	assert.Equal(t, 7000.0, p.Target)
	assert.Equal(t, "Step Warrior", p.TargetTitle)
	assert.InDelta(t, 5000.0/7000.0, p.Progress, 1e-9)
	assert.Equal(t, 2000.0, p.Remaining)
	assert.False(t, p.IsAllCompleted)

	// значение выше цели (например, до reconcile) ограничено единицей
	p = ComputeCategoryProgress(achievement.CategoryDailySteps, 12000, entries(3000))
	assert.Equal(t, 1.0, p.Progress)
	assert.Equal(t, 0.0, p.Remaining)

	p = ComputeCategoryProgress(achievement.CategoryDailySteps, 80000, entries(60000))
	assert.True(t, p.IsAllCompleted)
	assert.Equal(t, 1.0, p.Progress)
	assert.Zero(t, p.Target)

	p = ComputeCategoryProgress(achievement.CategoryDailySteps, 0, nil)
	assert.True(t, p.IsAllCompleted)
}
