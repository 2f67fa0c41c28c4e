package command

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

func newTestStatsStore() (*StatsStore, *memory.Store, *timeutil.FixedClock) {
	store := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC))
	return NewStatsStore(store, achievement.DefaultCatalog(), clock), store, clock
}

func TestStatsStore_FetchOrCreateStats(t *testing.T) {
	ss, _, clock := newTestStatsStore()
	ctx := context.Background()

	st, err := ss.FetchOrCreateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.SingletonKey, st.Key)
	assert.Equal(t, int32(1), st.CurrentLevel)
	assert.Equal(t, clock.Now(), st.LastUpdated)

	clock.Advance(time.Hour)
	again, err := ss.FetchOrCreateStats(ctx)
	require.NoError(t, err)
	// запись уже существует, время создания не меняется
	assert.Equal(t, st.LastUpdated, again.LastUpdated)
}

func TestStatsStore_SessionMutations(t *testing.T) {
	ss, store, clock := newTestStatsStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		s, err := ss.Session(ctx, tx)
		if err != nil {
			return err
		}
		require.NoError(t, s.AddDailySteps(ctx, 4000))
		require.NoError(t, s.AddDailySteps(ctx, 2500))
		require.NoError(t, s.AddLifetimeSteps(ctx, 55000))
		require.NoError(t, s.AddDistance(ctx, 1.2))
		require.NoError(t, s.AddDays(ctx, 3))

		assert.ErrorIs(t, s.AddDailySteps(ctx, 0), shared.ErrNonPositiveDelta)
		assert.True(t, shared.IsValidation(s.AddDays(ctx, -1)))
		assert.True(t, shared.IsValidation(s.AddDistance(ctx, 0)))

		assert.Equal(t, int32(3), s.Stats().CurrentLevel)
		assert.Equal(t, int32(1), s.Before().CurrentLevel)
		return s.Flush(ctx)
	})
	require.NoError(t, err)

	st, err := ss.FetchOrCreateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(55000), st.TotalSteps)
	assert.Equal(t, 1.2, st.TotalDistance)
	assert.Equal(t, int32(3), st.TotalDays)
	assert.Equal(t, int64(6500), st.HighestDailySteps)

	rec, found, err := ss.FetchDay(ctx, timeutil.Today(clock))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(6500), rec.Steps)
	assert.Equal(t, 1.2, rec.Distance)
}

func TestStatsStore_OverflowIsValidationAndRollsBack(t *testing.T) {
	ss, store, clock := newTestStatsStore()
	ctx := context.Background()

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		s, err := ss.Session(ctx, tx)
		if err != nil {
			return err
		}
		require.NoError(t, s.AddDailySteps(ctx, math.MaxInt64))
		require.NoError(t, s.AddLifetimeSteps(ctx, math.MaxInt64))
		require.NoError(t, s.AddDistance(ctx, 1e308))
		require.NoError(t, s.AddDays(ctx, math.MaxInt32))
		return s.Flush(ctx)
	}))

	tests := []struct {
		name  string
		apply func(ctx context.Context, s *StatsSession) error
	}{
		{"daily steps", func(ctx context.Context, s *StatsSession) error { return s.AddDailySteps(ctx, 1) }},
		{"lifetime steps", func(ctx context.Context, s *StatsSession) error { return s.AddLifetimeSteps(ctx, 1) }},
		{"distance", func(ctx context.Context, s *StatsSession) error { return s.AddDistance(ctx, 1e308) }},
		{"days", func(ctx context.Context, s *StatsSession) error { return s.AddDays(ctx, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
				s, err := ss.Session(ctx, tx)
				if err != nil {
					return err
				}
				if err := tt.apply(ctx, s); err != nil {
					return err
				}
				return s.Flush(ctx)
			})
			assert.True(t, shared.IsValidation(err), "%v", err)
			assert.ErrorIs(t, err, shared.ErrCounterOverflow)

			st, err := ss.FetchOrCreateStats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(math.MaxInt64), st.TotalSteps)
			assert.Equal(t, int64(math.MaxInt64), st.HighestDailySteps)
			assert.Equal(t, 1e308, st.TotalDistance)
			assert.Equal(t, int32(math.MaxInt32), st.TotalDays)

			rec, found, err := ss.FetchDay(ctx, timeutil.Today(clock))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, int64(math.MaxInt64), rec.Steps)
			assert.Equal(t, 1e308, rec.Distance)
		})
	}
}

func TestStatsStore_FetchDayMissing(t *testing.T) {
	ss, _, clock := newTestStatsStore()

	day := timeutil.Today(clock).AddDays(-3)
	rec, found, err := ss.FetchDay(context.Background(), day)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, day, rec.Day)
	assert.Zero(t, rec.Steps)
}

func TestStatsStore_UpsertPastDay(t *testing.T) {
	ss, store, clock := newTestStatsStore()
	ctx := context.Background()
	yesterday := timeutil.Today(clock).AddDays(-1)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		s, err := ss.Session(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := s.UpsertDay(ctx, yesterday, 1000, 0); err != nil {
			return err
		}
		rec, err := s.UpsertDay(ctx, yesterday, 500, 0.4)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1500), rec.Steps)
		return s.Flush(ctx)
	}))

	rec, found, err := ss.FetchDay(ctx, yesterday)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1500), rec.Steps)

	_, found, err = ss.FetchDay(ctx, timeutil.Today(clock))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStatsStore_WrapsStoreFailures(t *testing.T) {
	ss, store, _ := newTestStatsStore()
	store.SetFailureHook(func(op string) error {
		if op == "FetchDay" {
			return errors.New("io error")
		}
		return nil
	})

	_, _, err := ss.FetchDay(context.Background(), timeutil.Day{Year: 2026, Month: time.March, Dom: 1})
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))
}

func TestSubmitActivityCommand_AffectedCategories(t *testing.T) {
	cmd := SubmitActivityCommand{Delta: stats.Delta{
		ExtraSteps:    stats.Int64(1),
		ExtraDistance: stats.Float64(1),
		DailySteps:    stats.Int64(1),
	}}
	assert.Equal(t, []achievement.Category{
		achievement.CategoryDailySteps,
		achievement.CategoryTotalDistance,
		achievement.CategoryLevel,
	}, cmd.AffectedCategories())

	assert.Empty(t, SubmitActivityCommand{}.AffectedCategories())
	assert.True(t, shared.IsValidation(SubmitActivityCommand{}.Validate()))
}

func TestSeedCatalog(t *testing.T) {
	store := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	h := NewSeedCatalogHandler(store, achievement.DefaultCatalog(), clock, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 47, res.Total())
	assert.Equal(t, 20, res.Created[achievement.CategoryLevel])
	assert.Equal(t, 8, res.Created[achievement.CategoryDailySteps])

	// повторный запуск ничего не создаёт
	res, err = h.Handle(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Total())

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		lvl1, err := tx.Achievements().FetchByCategoryAndThreshold(ctx, achievement.CategoryLevel, 0)
		require.NoError(t, err)
		assert.True(t, lvl1.IsUnlocked)
		require.NotNil(t, lvl1.UnlockedAt)
		assert.Equal(t, clock.Now(), *lvl1.UnlockedAt)

		lvl2, err := tx.Achievements().FetchByCategoryAndThreshold(ctx, achievement.CategoryLevel, 10000)
		require.NoError(t, err)
		assert.False(t, lvl2.IsUnlocked)
		return nil
	}))
	assert.Empty(t, store.Messages())
}

func TestSeedCatalog_FailureIsPersistence(t *testing.T) {
	store := memory.NewStore()
	store.SetFailureHook(func(string) error { return errors.New("read-only filesystem") })

	h := NewSeedCatalogHandler(store, achievement.DefaultCatalog(), timeutil.NewFixedClock(time.Now()), nil)
	_, err := h.Handle(context.Background())
	assert.True(t, shared.IsPersistence(err))
}
