package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func mustDay(t *testing.T, s string) timeutil.Day {
	t.Helper()
	d, err := timeutil.ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestStore_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		st, err := tx.Stats().FetchOrCreate(ctx, "", t0)
		if err != nil {
			return err
		}
		st.TotalSteps = 500
		return tx.Stats().Save(ctx, st)
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		st, _ := tx.Stats().FetchOrCreate(ctx, "", t0)
		st.TotalSteps = 9999
		_ = tx.Stats().Save(ctx, st)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// откат: видим только первую транзакцию
	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		st, err := tx.Stats().FetchOrCreate(ctx, "", t0)
		require.NoError(t, err)
		assert.Equal(t, int64(500), st.TotalSteps)
		return nil
	}))
}

func TestStore_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		_ = tx.Stats().UpsertDay(ctx, &stats.StepRecord{Day: mustDay(t, "2026-03-14"), Steps: 10})
		panic("unexpected")
	})
	assert.True(t, shared.IsPersistence(err))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		_, err := tx.Stats().FetchDay(ctx, mustDay(t, "2026-03-14"))
		assert.ErrorIs(t, err, shared.ErrStepRecordNotFound)
		return nil
	}))

	err = s.View(ctx, func(context.Context, datastore.Tx) error { panic("reader") })
	assert.True(t, shared.IsPersistence(err))
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		return tx.Stats().Save(ctx, stats.NewUserStats("", t0))
	})
	assert.True(t, shared.IsPersistence(err))

	// FetchOrCreate в View не создаёт запись
	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		_, err := tx.Stats().FetchOrCreate(ctx, "", t0)
		return err
	}))
	assert.Empty(t, s.committed.stats)
}

func TestStore_ViewSeesSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	day := mustDay(t, "2026-03-14")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
			if err := tx.Stats().UpsertDay(ctx, &stats.StepRecord{Day: day, Steps: 100}); err != nil {
				return err
			}
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		_, err := tx.Stats().FetchDay(ctx, day)
		assert.ErrorIs(t, err, shared.ErrStepRecordNotFound)
		return nil
	}))
	close(release)
	require.NoError(t, <-done)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		rec, err := tx.Stats().FetchDay(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, int64(100), rec.Steps)
		return nil
	}))
}

func TestStore_ListDays(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		for _, d := range []string{"2026-03-12", "2026-03-10", "2026-03-14", "2026-03-20"} {
			if err := tx.Stats().UpsertDay(ctx, &stats.StepRecord{Day: mustDay(t, d), Steps: 1}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		days, err := tx.Stats().ListDays(ctx, mustDay(t, "2026-03-10"), mustDay(t, "2026-03-14"))
		require.NoError(t, err)
		require.Len(t, days, 3)
		assert.Equal(t, "2026-03-10", days[0].Day.String())
		assert.Equal(t, "2026-03-12", days[1].Day.String())
		assert.Equal(t, "2026-03-14", days[2].Day.String())
		return nil
	}))
}

func TestStore_Entries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := achievement.DefaultCatalog()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		defs := c.Definitions(achievement.CategoryDailySteps)
		// вставка в обратном порядке, хранилище сортирует
		for i := len(defs) - 1; i >= 0; i-- {
			created, err := tx.Achievements().InsertIfAbsent(ctx, achievement.NewEntry(defs[i]))
			require.NoError(t, err)
			assert.True(t, created)
		}
		created, err := tx.Achievements().InsertIfAbsent(ctx, achievement.NewEntry(defs[0]))
		require.NoError(t, err)
		assert.False(t, created)

		e, err := tx.Achievements().FetchByCategoryAndThreshold(ctx, achievement.CategoryDailySteps, 7000)
		require.NoError(t, err)
		require.NoError(t, e.Unlock(t0))
		return tx.Achievements().Save(ctx, e)
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		list, err := tx.Achievements().FetchByCategory(ctx, achievement.CategoryDailySteps)
		require.NoError(t, err)
		require.Len(t, list, 8)
		assert.Equal(t, 3000.0, list[0].Threshold)
		assert.True(t, list[1].IsUnlocked)
		assert.False(t, list[0].IsUnlocked)

		// изменение копии не протекает в хранилище
		*list[1].UnlockedAt = t0.Add(time.Hour)

		_, err = tx.Achievements().FetchByCategoryAndThreshold(ctx, achievement.CategoryLevel, 0)
		assert.ErrorIs(t, err, shared.ErrEntryNotFound)
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		e, err := tx.Achievements().FetchByCategoryAndThreshold(ctx, achievement.CategoryDailySteps, 7000)
		require.NoError(t, err)
		assert.Equal(t, t0, *e.UnlockedAt)
		return nil
	}))
}

func TestStore_OutboxHeadOfLine(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	ev := func(th float64) notification.UnlockedEvent {
		return notification.NewUnlockedEvent("default",
			achievement.Unlock{Category: achievement.CategoryLevel, Threshold: th}, "", t0)
	}

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		return tx.Outbox().Enqueue(ctx,
			notification.NewMessage("a", ev(10000)),
			notification.NewMessage("b", ev(50000)),
			notification.NewMessage("c", ev(100000)),
		)
	}))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].Seq, msgs[1].Seq, msgs[2].Seq})

	var claimed []notification.Message
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		var err error
		claimed, err = tx.Outbox().ClaimPending(ctx, t0, 10, time.Minute)
		return err
	}))
	require.Len(t, claimed, 3)

	// все под lease: ничего не доступно до истечения
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		again, err := tx.Outbox().ClaimPending(ctx, t0.Add(30*time.Second), 10, time.Minute)
		assert.Empty(t, again)
		return err
	}))

	// первое доставлено, второе отложено: третье не должно обогнать второе
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		first := claimed[0]
		first.MarkDelivered(t0)
		if err := tx.Outbox().Update(ctx, &first); err != nil {
			return err
		}
		second := claimed[1]
		second.MarkFailed(errors.New("down"), t0.Add(time.Hour), 5)
		if err := tx.Outbox().Update(ctx, &second); err != nil {
			return err
		}
		third := claimed[2]
		third.AvailableAt = t0
		return tx.Outbox().Update(ctx, &third)
	}))

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		head, err := tx.Outbox().ClaimPending(ctx, t0.Add(2*time.Minute), 10, time.Minute)
		assert.Empty(t, head)
		return err
	}))

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		head, err := tx.Outbox().ClaimPending(ctx, t0.Add(2*time.Hour), 1, time.Minute)
		require.Len(t, head, 1)
		assert.Equal(t, "b", head[0].ID)
		return err
	}))

	missing := notification.NewMessage("zzz", ev(1))
	err := s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		return tx.Outbox().Update(ctx, &missing)
	})
	assert.ErrorIs(t, err, shared.ErrMessageNotFound)
}

func TestStore_FailureHook(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	s.SetFailureHook(func(op string) error {
		if op == "UpsertDay" {
			return errors.New("disk full")
		}
		return nil
	})

	err := s.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		st, err := tx.Stats().FetchOrCreate(ctx, "", t0)
		if err != nil {
			return err
		}
		if err := tx.Stats().Save(ctx, st); err != nil {
			return err
		}
		return tx.Stats().UpsertDay(ctx, &stats.StepRecord{Day: mustDay(t, "2026-03-14"), Steps: 1})
	})
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))
	assert.Empty(t, s.committed.stats)

	s.SetFailureHook(nil)
	assert.NoError(t, s.Ping(ctx))
}

func TestStore_ClosedAndCancelled(t *testing.T) {
	s := NewStore()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithinTx(cancelled, func(context.Context, datastore.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Close())
	ctx := context.Background()
	assert.True(t, shared.IsPersistence(s.Ping(ctx)))
	assert.True(t, shared.IsPersistence(s.View(ctx, func(context.Context, datastore.Tx) error { return nil })))
	assert.True(t, shared.IsPersistence(s.WithinTx(ctx, func(context.Context, datastore.Tx) error { return nil })))
}
