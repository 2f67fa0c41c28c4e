package notification

import (
	"github.com/alem-hub/stepquest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRIGGER RULES
// Правила определяют, для каких категорий уведомления вообще отправляются.
// На разблокировку они не влияют.
// ══════════════════════════════════════════════════════════════════════════════

// Triggers - включённость уведомлений по категориям.
type Triggers struct {
	enabled map[achievement.Category]bool
}

// AllTriggers enables every category.
func AllTriggers() Triggers {
	t := Triggers{enabled: make(map[achievement.Category]bool, 4)}
	for _, c := range achievement.Categories() {
		t.enabled[c] = true
	}
	return t
}

// NewTriggers builds triggers from per-category switches.
func NewTriggers(levelUp, dailyGoal, milestone, distanceGoal bool) Triggers {
	return Triggers{enabled: map[achievement.Category]bool{
		achievement.CategoryLevel:         levelUp,
		achievement.CategoryDailySteps:    dailyGoal,
		achievement.CategoryTotalDays:     milestone,
		achievement.CategoryTotalDistance: distanceGoal,
	}}
}

// Allows reports whether unlocks in cat should reach the Notifier.
// A zero Triggers allows everything.
func (t Triggers) Allows(cat achievement.Category) bool {
	if t.enabled == nil {
		return true
	}
	return t.enabled[cat]
}
