package config

import (
	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/notification"
)

// NotifyConfig toggles unlock notifications per category. Unlocking itself is
// never affected; a disabled category only suppresses delivery.
type NotifyConfig struct {
	LevelUp      bool `env:"NOTIFY_LEVEL_UP" envDefault:"true"`
	DailyGoal    bool `env:"NOTIFY_DAILY_GOAL" envDefault:"true"`
	Milestone    bool `env:"NOTIFY_MILESTONE" envDefault:"true"`
	DistanceGoal bool `env:"NOTIFY_DISTANCE_GOAL" envDefault:"true"`
}

// Triggers converts the toggles into delivery rules.
func (n NotifyConfig) Triggers() notification.Triggers {
	return notification.NewTriggers(n.LevelUp, n.DailyGoal, n.Milestone, n.DistanceGoal)
}

// Enabled reports the toggle of cat.
func (n NotifyConfig) Enabled(cat achievement.Category) bool {
	switch cat {
	case achievement.CategoryLevel:
		return n.LevelUp
	case achievement.CategoryDailySteps:
		return n.DailyGoal
	case achievement.CategoryTotalDays:
		return n.Milestone
	case achievement.CategoryTotalDistance:
		return n.DistanceGoal
	default:
		return false
	}
}
