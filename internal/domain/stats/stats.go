// Package stats holds the cumulative activity counters and the daily step ledger.
package stats

import (
	"context"
	"math"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// SingletonKey identifies the one UserStats record of an installation.
const SingletonKey = "default"

// ══════════════════════════════════════════════════════════════════════════════
// USER STATS
// ══════════════════════════════════════════════════════════════════════════════

// UserStats - накопительные счётчики пользователя.
// Все числовые поля монотонно не убывают за всё время жизни записи.
type UserStats struct {
	Key string

	// TotalSteps - шаги за всё время (только через extraSteps).
	TotalSteps int64

	// TotalDistance - пройдено километров.
	TotalDistance float64

	// TotalDays - количество активных дней.
	TotalDays int32

	// CurrentLevel всегда равен самому высокому уровню с порогом <= TotalSteps.
	CurrentLevel int32

	// HighestDailySteps - рекорд шагов за один день.
	HighestDailySteps int64

	LastUpdated time.Time
}

// NewUserStats creates a zeroed record at level 1.
func NewUserStats(key string, now time.Time) *UserStats {
	if key == "" {
		key = SingletonKey
	}
	return &UserStats{
		Key:          key,
		CurrentLevel: 1,
		LastUpdated:  now,
	}
}

// Clone returns a copy that can be mutated independently.
func (s *UserStats) Clone() *UserStats {
	cp := *s
	return &cp
}

// Счётчики проверяются до записи: при переполнении запись не меняется.

// AddLifetimeSteps adds to TotalSteps.
func (s *UserStats) AddLifetimeSteps(delta int64) error {
	if delta <= 0 {
		return shared.ErrNonPositiveDelta
	}
	if s.TotalSteps > math.MaxInt64-delta {
		return shared.ErrCounterOverflow
	}
	s.TotalSteps += delta
	return nil
}

// AddDistance adds kilometres to TotalDistance.
func (s *UserStats) AddDistance(delta float64) error {
	if !positiveFinite(delta) {
		return shared.ErrNonPositiveDelta
	}
	sum, err := addKm(s.TotalDistance, delta)
	if err != nil {
		return err
	}
	s.TotalDistance = sum
	return nil
}

// AddDays adds to TotalDays.
func (s *UserStats) AddDays(delta int32) error {
	if delta <= 0 {
		return shared.ErrNonPositiveDelta
	}
	if s.TotalDays > math.MaxInt32-delta {
		return shared.ErrCounterOverflow
	}
	s.TotalDays += delta
	return nil
}

// ObserveDailySteps raises HighestDailySteps if today's count beats it.
func (s *UserStats) ObserveDailySteps(todaySteps int64) {
	if todaySteps > s.HighestDailySteps {
		s.HighestDailySteps = todaySteps
	}
}

// SetLevel stores the derived level. Levels never go down.
func (s *UserStats) SetLevel(level int) {
	if int32(level) > s.CurrentLevel {
		s.CurrentLevel = int32(level)
	}
}

// Touch records the time of the last mutation.
func (s *UserStats) Touch(now time.Time) {
	if now.After(s.LastUpdated) {
		s.LastUpdated = now
	}
}

// CheckMonotonic fails if any counter in s is below the same counter in prev.
func (s *UserStats) CheckMonotonic(prev *UserStats) error {
	if prev == nil {
		return nil
	}
	if s.TotalSteps < prev.TotalSteps ||
		s.TotalDistance < prev.TotalDistance ||
		s.TotalDays < prev.TotalDays ||
		s.CurrentLevel < prev.CurrentLevel ||
		s.HighestDailySteps < prev.HighestDailySteps {
		return shared.ErrStatsRegression
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STEP RECORD (daily ledger)
// ══════════════════════════════════════════════════════════════════════════════

// StepRecord - шаги и дистанция за один календарный день. Одна запись на день.
type StepRecord struct {
	Day      timeutil.Day
	Steps    int64
	Distance float64
}

// NewStepRecord creates an empty record for day.
func NewStepRecord(day timeutil.Day) *StepRecord {
	return &StepRecord{Day: day}
}

// Add accumulates a delta into the record. Either part may be zero, not both.
func (r *StepRecord) Add(deltaSteps int64, deltaDistance float64) error {
	if deltaSteps < 0 || deltaDistance < 0 || math.IsNaN(deltaDistance) || math.IsInf(deltaDistance, 0) {
		return shared.ErrNonPositiveDelta
	}
	if deltaSteps == 0 && deltaDistance == 0 {
		return shared.ErrNoDelta
	}
	if r.Steps > math.MaxInt64-deltaSteps {
		return shared.ErrCounterOverflow
	}
	dist, err := addKm(r.Distance, deltaDistance)
	if err != nil {
		return err
	}
	r.Steps += deltaSteps
	r.Distance = dist
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists UserStats and StepRecords inside the caller's transaction.
type Repository interface {
	// FetchOrCreate returns the record for key, inserting NewUserStats(key, now) if absent.
	// Inside a write transaction the row is locked until commit.
	FetchOrCreate(ctx context.Context, key string, now time.Time) (*UserStats, error)

	Save(ctx context.Context, s *UserStats) error

	// FetchDay returns ErrStepRecordNotFound when the day has no record.
	FetchDay(ctx context.Context, day timeutil.Day) (*StepRecord, error)

	UpsertDay(ctx context.Context, r *StepRecord) error

	// ListDays returns the records in [from, to], ascending. Missing days are skipped.
	ListDays(ctx context.Context, from, to timeutil.Day) ([]StepRecord, error)
}

// DistanceForSteps estimates kilometres from a step count at 0.762 m per
// step, rounded to two decimals.
func DistanceForSteps(steps int64) float64 {
	km := float64(steps) * 0.762 / 1000
	return math.Round(km*100) / 100
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// addKm sums two distances and fails instead of producing +Inf.
func addKm(total, delta float64) (float64, error) {
	sum := total + delta
	if math.IsInf(sum, 0) || math.IsNaN(sum) {
		return total, shared.ErrCounterOverflow
	}
	return roundKm(sum), nil
}
