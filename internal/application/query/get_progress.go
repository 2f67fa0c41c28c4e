// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/progression"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Снимок прогресса: уровень, прогресс по четырём категориям, счётчики и
// сегодняшняя запись. Всё читается из одного снимка хранилища, поэтому
// ответ никогда не смешивает состояние до и после транзакции.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCache stores rendered progress snapshots. Implementations may drop
// entries at any time; a miss falls through to the store.
//
// Every key carries a generation that Invalidate advances. A reader takes the
// generation before opening its snapshot and Set stores the result only if
// the generation is still the same, so a snapshot that predates a commit is
// never written back after that commit's invalidation.
type ProgressCache interface {
	Get(ctx context.Context, key string) (*ProgressDTO, bool)
	// Generation reports false when the counter cannot be read; the caller
	// then skips Set.
	Generation(ctx context.Context, key string) (int64, bool)
	Set(ctx context.Context, key string, gen int64, dto *ProgressDTO)
	Invalidate(ctx context.Context, key string)
}

// LevelDTO - прогресс уровня.
type LevelDTO struct {
	CurrentLevel int     `json:"current_level"`
	NextLevel    int     `json:"next_level"`
	Progress     float64 `json:"progress"`
	StepsNeeded  int64   `json:"steps_needed"`
	BandStart    float64 `json:"band_start"`
	BandEnd      float64 `json:"band_end"`
	IsMaxLevel   bool    `json:"is_max_level"`
	Title        string  `json:"title"`
}

// CategoryDTO - прогресс одной категории.
type CategoryDTO struct {
	Category       string  `json:"category"`
	CurrentValue   float64 `json:"current_value"`
	Target         float64 `json:"target"`
	TargetTitle    string  `json:"target_title,omitempty"`
	Progress       float64 `json:"progress"`
	Remaining      float64 `json:"remaining"`
	IsAllCompleted bool    `json:"is_all_completed"`
}

// StatsDTO - накопительные счётчики.
type StatsDTO struct {
	TotalSteps        int64     `json:"total_steps"`
	TotalDistanceKm   float64   `json:"total_distance_km"`
	TotalDays         int32     `json:"total_days"`
	CurrentLevel      int32     `json:"current_level"`
	HighestDailySteps int64     `json:"highest_daily_steps"`
	LastUpdated       time.Time `json:"last_updated"`
}

// DayDTO - запись за один день.
type DayDTO struct {
	Date       string  `json:"date"`
	Steps      int64   `json:"steps"`
	DistanceKm float64 `json:"distance_km"`
}

// ProgressDTO is the full progress snapshot.
type ProgressDTO struct {
	Level      LevelDTO      `json:"level"`
	Categories []CategoryDTO `json:"categories"`
	Stats      StatsDTO      `json:"stats"`
	Today      DayDTO        `json:"today"`
}

// NewStatsDTO converts stats for transport.
func NewStatsDTO(s stats.UserStats) StatsDTO {
	return StatsDTO{
		TotalSteps:        s.TotalSteps,
		TotalDistanceKm:   s.TotalDistance,
		TotalDays:         s.TotalDays,
		CurrentLevel:      s.CurrentLevel,
		HighestDailySteps: s.HighestDailySteps,
		LastUpdated:       s.LastUpdated,
	}
}

// NewDayDTO converts a day record for transport.
func NewDayDTO(r stats.StepRecord) DayDTO {
	return DayDTO{Date: r.Day.String(), Steps: r.Steps, DistanceKm: r.Distance}
}

// GetProgressHandler answers progress queries.
type GetProgressHandler struct {
	store   datastore.DataStore
	catalog *achievement.Catalog
	clock   timeutil.Clock
	cache   ProgressCache
	log     *logger.Logger
}

// NewGetProgressHandler creates the handler. cache may be nil.
func NewGetProgressHandler(store datastore.DataStore, catalog *achievement.Catalog, clock timeutil.Clock, cache ProgressCache, log *logger.Logger) *GetProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetProgressHandler{store: store, catalog: catalog, clock: clock, cache: cache, log: log}
}

// CacheKey is the cache key of today's progress snapshot.
func CacheKey(day timeutil.Day) string {
	return "progress:" + stats.SingletonKey + ":" + day.String()
}

// Handle returns the current snapshot.
func (h *GetProgressHandler) Handle(ctx context.Context) (*ProgressDTO, error) {
	today := timeutil.Today(h.clock)
	key := CacheKey(today)
	var (
		gen       int64
		cacheable bool
	)
	if h.cache != nil {
		if dto, ok := h.cache.Get(ctx, key); ok {
			return dto, nil
		}
		// поколение берётся до снимка, иначе устаревший ответ переживёт инвалидацию
		gen, cacheable = h.cache.Generation(ctx, key)
	}

	var dto *ProgressDTO
	err := h.store.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		st, err := tx.Stats().FetchOrCreate(ctx, stats.SingletonKey, h.clock.Now())
		if err != nil {
			return shared.Persistence("query", "GetProgress", err)
		}

		rec, err := tx.Stats().FetchDay(ctx, today)
		if err != nil {
			if !shared.IsNotFound(err) {
				return shared.Persistence("query", "GetProgress", err)
			}
			rec = stats.NewStepRecord(today)
		}

		entries := make(map[achievement.Category][]achievement.Entry, 4)
		for _, cat := range achievement.Categories() {
			list, err := tx.Achievements().FetchByCategory(ctx, cat)
			if err != nil {
				return shared.Persistence("query", "GetProgress", err)
			}
			entries[cat] = list
		}

		dto = h.build(*st, *rec, entries)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		h.cache.Set(ctx, key, gen, dto)
	}
	return dto, nil
}

func (h *GetProgressHandler) build(st stats.UserStats, today stats.StepRecord, entries map[achievement.Category][]achievement.Entry) *ProgressDTO {
	lp := progression.ComputeLevelProgress(h.catalog, st.TotalSteps)
	level := LevelDTO{
		CurrentLevel: lp.CurrentLevel,
		NextLevel:    lp.NextLevel,
		Progress:     lp.Progress,
		StepsNeeded:  lp.StepsNeeded,
		BandStart:    lp.BandStart,
		BandEnd:      lp.BandEnd,
		IsMaxLevel:   lp.IsMaxLevel(),
	}
	if def, ok := h.catalog.LevelDefinition(lp.CurrentLevel); ok {
		level.Title = def.Title
	}

	cats := make([]CategoryDTO, 0, 4)
	for _, cat := range achievement.Categories() {
		list := entries[cat]
		// A store that was never seeded still reports against the catalog.
		if len(list) == 0 {
			for _, def := range h.catalog.Definitions(cat) {
				e := achievement.NewEntry(def)
				e.IsUnlocked = e.IsBaseline()
				list = append(list, e)
			}
		}
		cp := progression.ComputeCategoryProgress(cat, categoryValue(cat, st, today), list)
		cats = append(cats, CategoryDTO{
			Category:       string(cp.Category),
			CurrentValue:   cp.CurrentValue,
			Target:         cp.Target,
			TargetTitle:    cp.TargetTitle,
			Progress:       cp.Progress,
			Remaining:      cp.Remaining,
			IsAllCompleted: cp.IsAllCompleted,
		})
	}

	return &ProgressDTO{
		Level:      level,
		Categories: cats,
		Stats:      NewStatsDTO(st),
		Today:      NewDayDTO(today),
	}
}

func categoryValue(cat achievement.Category, st stats.UserStats, today stats.StepRecord) float64 {
	switch cat {
	case achievement.CategoryDailySteps:
		return float64(today.Steps)
	case achievement.CategoryTotalDays:
		return float64(st.TotalDays)
	case achievement.CategoryTotalDistance:
		return st.TotalDistance
	default:
		return float64(st.TotalSteps)
	}
}
