package achievement

import (
	"fmt"
	"math"
)

// FormatSteps renders a step count compactly: 1.2M, 14k, 950.
func FormatSteps(steps int64) string {
	switch {
	case steps >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(steps)/1_000_000)
	case steps >= 1000:
		return fmt.Sprintf("%dk", steps/1000)
	default:
		return fmt.Sprintf("%d", steps)
	}
}

// FormatDistance renders kilometres with precision that shrinks as the value grows.
func FormatDistance(km float64) string {
	switch {
	case km >= 1000:
		return fmt.Sprintf("%.0f km", km)
	case km >= 100:
		return fmt.Sprintf("%.1f km", km)
	default:
		return fmt.Sprintf("%.2f km", km)
	}
}

// Description is the line shown under an achievement.
func Description(cat Category, threshold float64) string {
	switch cat {
	case CategoryDailySteps:
		return fmt.Sprintf("Completed %s steps today", FormatSteps(int64(threshold)))
	case CategoryTotalDays:
		return fmt.Sprintf("Active for %d days", int64(threshold))
	case CategoryTotalDistance:
		return fmt.Sprintf("Walked %s km", trimFloat(threshold))
	case CategoryLevel:
		return fmt.Sprintf("Completed %s total steps", FormatSteps(int64(threshold)))
	default:
		return ""
	}
}

// NotificationTitle is the headline of a user-visible unlock notification.
func NotificationTitle(cat Category) string {
	switch cat {
	case CategoryLevel:
		return "Level Up!"
	case CategoryDailySteps:
		return "Daily Goal Achieved!"
	case CategoryTotalDays:
		return "Milestone Reached!"
	case CategoryTotalDistance:
		return "Distance Goal Achieved!"
	default:
		return "Achievement Unlocked!"
	}
}

// NotificationBody is the body of a user-visible unlock notification.
func NotificationBody(cat Category, title string, value float64) string {
	switch cat {
	case CategoryLevel:
		return fmt.Sprintf("You reached %s", title)
	case CategoryDailySteps:
		return fmt.Sprintf("You walked %s steps today", FormatSteps(int64(value)))
	case CategoryTotalDays:
		return fmt.Sprintf("You have been active for %d days", int64(value))
	case CategoryTotalDistance:
		return fmt.Sprintf("You walked %.1f km in total", value)
	default:
		return title
	}
}

// trimFloat prints whole numbers without a fraction and everything else with two decimals.
func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
