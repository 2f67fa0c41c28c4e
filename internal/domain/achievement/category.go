package achievement

import (
	"strings"

	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// Category is a dimension of achievement tracking.
type Category string

const (
	CategoryDailySteps    Category = "daily_steps"
	CategoryTotalDays     Category = "total_days"
	CategoryTotalDistance Category = "total_distance"
	CategoryLevel         Category = "level"
)

// Categories returns all categories in scan order.
// A submission that touches several categories is scanned in this order.
func Categories() []Category {
	return []Category{
		CategoryDailySteps,
		CategoryTotalDays,
		CategoryTotalDistance,
		CategoryLevel,
	}
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryDailySteps, CategoryTotalDays, CategoryTotalDistance, CategoryLevel:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts the stored raw value ("daily_steps") as well as the
// camelCase form ("dailySteps").
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "dailysteps":
		return CategoryDailySteps, nil
	case "totaldays":
		return CategoryTotalDays, nil
	case "totaldistance":
		return CategoryTotalDistance, nil
	case "level":
		return CategoryLevel, nil
	}
	return "", shared.WrapError("achievement", "ParseCategory", shared.ErrValidation,
		"unknown achievement category", shared.ErrUnknownCategory)
}
