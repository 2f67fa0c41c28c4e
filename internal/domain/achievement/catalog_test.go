package achievement

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/stepquest/internal/domain/shared"
)

func TestDefaultCatalog_TablesAscending(t *testing.T) {
	c := DefaultCatalog()

	sizes := map[Category]int{
		CategoryDailySteps:    8,
		CategoryTotalDays:     9,
		CategoryTotalDistance: 10,
		CategoryLevel:         20,
	}
	for cat, n := range sizes {
		defs := c.Definitions(cat)
		require.Len(t, defs, n, cat)
		for i := 1; i < len(defs); i++ {
			assert.Greater(t, defs[i].Threshold, defs[i-1].Threshold, "%s[%d]", cat, i)
			assert.Equal(t, cat, defs[i].Category)
		}
	}

	assert.Equal(t, 20, c.MaxLevel())
	assert.Same(t, c, DefaultCatalog())
}

func TestCatalog_DefinitionsReturnsCopy(t *testing.T) {
	c := DefaultCatalog()

	defs := c.Definitions(CategoryDailySteps)
	defs[0].Threshold = 1

	assert.Equal(t, 3000.0, c.Definitions(CategoryDailySteps)[0].Threshold)
}

func TestCatalog_LookupExact(t *testing.T) {
	c := DefaultCatalog()

	d, ok := c.LookupExact(CategoryDailySteps, 10000)
	require.True(t, ok)
	assert.Equal(t, "Pace Master", d.Title)
	assert.Equal(t, "badge10kUnlock", d.UnlockImage)

	_, ok = c.LookupExact(CategoryDailySteps, 10001)
	assert.False(t, ok)

	// Дистанция сравнивается с допуском 0.01 км.
	d, ok = c.LookupExact(CategoryTotalDistance, 26.005)
	require.True(t, ok)
	assert.Equal(t, "Marathoner", d.Title)

	_, ok = c.LookupExact(CategoryTotalDistance, 26.02)
	assert.False(t, ok)

	_, ok = c.LookupExact(CategoryTotalDays, 7.005)
	assert.False(t, ok)
}

func TestCatalog_LookupBestBelowOrEqual(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		name  string
		cat   Category
		value float64
		want  float64
	}{
		{"exact", CategoryDailySteps, 7000, 7000},
		{"between", CategoryDailySteps, 12500, 10000},
		{"above table", CategoryDailySteps, 1_000_000, 60000},
		{"below table falls back to first", CategoryDailySteps, 10, 3000},
		{"distance between", CategoryTotalDistance, 59.9, 26},
		{"days", CategoryTotalDays, 365, 365},
		{"level zero", CategoryLevel, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.LookupBestBelowOrEqual(tt.cat, tt.value)
			assert.Equal(t, tt.want, got.Threshold)
			assert.Equal(t, tt.cat, got.Category)
		})
	}
}

func TestCatalog_Levels(t *testing.T) {
	c := DefaultCatalog()

	assert.Equal(t, 1, c.LevelForSteps(0))
	assert.Equal(t, 1, c.LevelForSteps(9999))
	assert.Equal(t, 2, c.LevelForSteps(10000))
	assert.Equal(t, 3, c.LevelForSteps(60000))
	assert.Equal(t, 19, c.LevelForSteps(1_999_999))
	assert.Equal(t, 20, c.LevelForSteps(2_000_000))
	assert.Equal(t, 20, c.LevelForSteps(50_000_000))

	th, ok := c.LevelThreshold(4)
	require.True(t, ok)
	assert.Equal(t, 100000.0, th)

	_, ok = c.LevelThreshold(21)
	assert.False(t, ok)

	def, ok := c.LevelDefinition(1)
	require.True(t, ok)
	assert.Equal(t, "Start", def.Title)
	assert.Equal(t, "LV_1", def.UnlockImage)
}

func TestNewCatalog_Rejects(t *testing.T) {
	valid := defaultTables()

	t.Run("missing table", func(t *testing.T) {
		tables := defaultTables()
		delete(tables, CategoryTotalDays)
		_, err := NewCatalog(tables)
		assert.ErrorIs(t, err, shared.ErrCatalogEmptyTable)
	})

	t.Run("not ascending", func(t *testing.T) {
		tables := defaultTables()
		tables[CategoryDailySteps][2].Threshold = 5000
		_, err := NewCatalog(tables)
		assert.ErrorIs(t, err, shared.ErrCatalogNotSorted)
	})

	t.Run("level gap", func(t *testing.T) {
		tables := defaultTables()
		tables[CategoryLevel][3].Level = 9
		_, err := NewCatalog(tables)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	_, err := NewCatalog(valid)
	assert.NoError(t, err)
}

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]Category{
		"daily_steps":    CategoryDailySteps,
		"dailySteps":     CategoryDailySteps,
		"totalDays":      CategoryTotalDays,
		"TOTAL_DISTANCE": CategoryTotalDistance,
		" level ":        CategoryLevel,
	} {
		got, err := ParseCategory(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseCategory("weekly")
	assert.True(t, errors.Is(err, shared.ErrUnknownCategory))
	assert.True(t, shared.IsValidation(err))
}

func TestEntry_Unlock(t *testing.T) {
	def, _ := DefaultCatalog().LookupExact(CategoryDailySteps, 3000)
	e := NewEntry(def)

	assert.False(t, e.IsUnlocked)
	assert.Nil(t, e.UnlockedAt)
	assert.Equal(t, "badge3kLock", e.ImageName())

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, e.Unlock(at))
	assert.True(t, e.IsUnlocked)
	assert.Equal(t, at, *e.UnlockedAt)
	assert.Equal(t, "badge3kUnlock", e.ImageName())

	// повторная разблокировка не трогает время
	err := e.Unlock(at.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrAlreadyUnlocked)
	assert.Equal(t, at, *e.UnlockedAt)

	u := e.ToUnlock()
	assert.Equal(t, Unlock{
		Category:    CategoryDailySteps,
		Threshold:   3000,
		Title:       "First Footprint",
		Description: "Completed 3k steps today",
	}, u)
}

func TestEntry_IsBaseline(t *testing.T) {
	lvl1, _ := DefaultCatalog().LevelDefinition(1)
	lvl2, _ := DefaultCatalog().LevelDefinition(2)

	assert.True(t, NewEntry(lvl1).IsBaseline())
	assert.False(t, NewEntry(lvl2).IsBaseline())
}

func TestText(t *testing.T) {
	assert.Equal(t, "950", FormatSteps(950))
	assert.Equal(t, "14k", FormatSteps(14500))
	assert.Equal(t, "1.5M", FormatSteps(1_500_000))

	assert.Equal(t, "3.25 km", FormatDistance(3.25))
	assert.Equal(t, "135.0 km", FormatDistance(135))
	assert.Equal(t, "3950 km", FormatDistance(3950))

	assert.Equal(t, "Completed 10k steps today", Description(CategoryDailySteps, 10000))
	assert.Equal(t, "Active for 30 days", Description(CategoryTotalDays, 30))
	assert.Equal(t, "Walked 26 km", Description(CategoryTotalDistance, 26))
	assert.Equal(t, "Completed 2.0M total steps", Description(CategoryLevel, 2_000_000))

	assert.Equal(t, "Level Up!", NotificationTitle(CategoryLevel))
	assert.Equal(t, "Daily Goal Achieved!", NotificationTitle(CategoryDailySteps))
	assert.Equal(t, "Milestone Reached!", NotificationTitle(CategoryTotalDays))
	assert.Equal(t, "Distance Goal Achieved!", NotificationTitle(CategoryTotalDistance))

	assert.Equal(t, "You reached 50k Steps", NotificationBody(CategoryLevel, "50k Steps", 50000))
	assert.Equal(t, "You walked 7k steps today", NotificationBody(CategoryDailySteps, "", 7000))
	assert.Equal(t, "You have been active for 14 days", NotificationBody(CategoryTotalDays, "", 14))
	assert.Equal(t, "You walked 12.0 km in total", NotificationBody(CategoryTotalDistance, "", 12))
}
