// Package command contains the write side of the application layer.
package command

import (
	"context"
	"errors"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS STORE
// StatsStore is the only writer of UserStats and StepRecord. Mutations run
// through a StatsSession bound to the caller's transaction so that several of
// them commit or abort together.
// ══════════════════════════════════════════════════════════════════════════════

// StatsStore owns UserStats and StepRecord persistence.
type StatsStore struct {
	store   datastore.DataStore
	catalog *achievement.Catalog
	clock   timeutil.Clock
	key     string
}

// NewStatsStore creates a StatsStore for the singleton stats record.
func NewStatsStore(store datastore.DataStore, catalog *achievement.Catalog, clock timeutil.Clock) *StatsStore {
	return &StatsStore{
		store:   store,
		catalog: catalog,
		clock:   clock,
		key:     stats.SingletonKey,
	}
}

// Clock returns the day provider the store uses for "today".
func (s *StatsStore) Clock() timeutil.Clock { return s.clock }

// FetchOrCreateStats returns the stats record, creating it on first access.
func (s *StatsStore) FetchOrCreateStats(ctx context.Context) (*stats.UserStats, error) {
	var out *stats.UserStats
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		st, err := tx.Stats().FetchOrCreate(ctx, s.key, s.clock.Now())
		if err != nil {
			return wrapStore("FetchOrCreateStats", err)
		}
		out = st
		return nil
	})
	return out, err
}

// FetchDay returns the record for day from a read snapshot. found is false
// when nothing was recorded that day.
func (s *StatsStore) FetchDay(ctx context.Context, day timeutil.Day) (rec stats.StepRecord, found bool, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		r, ferr := tx.Stats().FetchDay(ctx, day)
		if ferr != nil {
			if shared.IsNotFound(ferr) {
				rec = *stats.NewStepRecord(day)
				return nil
			}
			return wrapStore("FetchDay", ferr)
		}
		rec, found = *r, true
		return nil
	})
	return rec, found, err
}

// Session starts a mutation session inside tx.
func (s *StatsStore) Session(ctx context.Context, tx datastore.Tx) (*StatsSession, error) {
	st, err := tx.Stats().FetchOrCreate(ctx, s.key, s.clock.Now())
	if err != nil {
		return nil, wrapStore("Session", err)
	}
	return &StatsSession{
		owner:  s,
		tx:     tx,
		stats:  st,
		before: st.Clone(),
		today:  timeutil.Today(s.clock),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS SESSION
// ══════════════════════════════════════════════════════════════════════════════

// StatsSession accumulates changes to one stats record within one transaction.
// Call Flush before the transaction commits.
type StatsSession struct {
	owner  *StatsStore
	tx     datastore.Tx
	stats  *stats.UserStats
	before *stats.UserStats

	today       timeutil.Day
	todayRecord *stats.StepRecord
}

// Stats returns the working copy.
func (ss *StatsSession) Stats() *stats.UserStats { return ss.stats }

// Before returns the record as it was when the session started.
func (ss *StatsSession) Before() *stats.UserStats { return ss.before }

// Today returns the session's calendar day.
func (ss *StatsSession) Today() timeutil.Day { return ss.today }

// TodayRecord returns today's record, or an empty one if nothing was recorded yet.
func (ss *StatsSession) TodayRecord(ctx context.Context) (*stats.StepRecord, error) {
	if ss.todayRecord != nil {
		return ss.todayRecord, nil
	}
	rec, err := ss.tx.Stats().FetchDay(ctx, ss.today)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, wrapStore("TodayRecord", err)
		}
		rec = stats.NewStepRecord(ss.today)
	}
	ss.todayRecord = rec
	return rec, nil
}

// AddDailySteps adds to today's StepRecord and raises HighestDailySteps.
// TotalSteps is not touched.
func (ss *StatsSession) AddDailySteps(ctx context.Context, delta int64) error {
	if delta <= 0 {
		return nonPositive("AddDailySteps")
	}
	rec, err := ss.UpsertDay(ctx, ss.today, delta, 0)
	if err != nil {
		return err
	}
	ss.stats.ObserveDailySteps(rec.Steps)
	return nil
}

// AddLifetimeSteps adds to TotalSteps and re-derives the level.
func (ss *StatsSession) AddLifetimeSteps(ctx context.Context, delta int64) error {
	if err := ss.stats.AddLifetimeSteps(delta); err != nil {
		return rejectDelta("AddLifetimeSteps", err)
	}
	ss.stats.SetLevel(ss.owner.catalog.LevelForSteps(ss.stats.TotalSteps))
	return nil
}

// AddDistance adds kilometres to TotalDistance and to today's record.
func (ss *StatsSession) AddDistance(ctx context.Context, delta float64) error {
	if err := ss.stats.AddDistance(delta); err != nil {
		return rejectDelta("AddDistance", err)
	}
	_, err := ss.UpsertDay(ctx, ss.today, 0, delta)
	return err
}

// AddDays adds active days.
func (ss *StatsSession) AddDays(ctx context.Context, delta int32) error {
	if err := ss.stats.AddDays(delta); err != nil {
		return rejectDelta("AddDays", err)
	}
	return nil
}

// UpsertDay adds to the record of day, creating it on first write.
func (ss *StatsSession) UpsertDay(ctx context.Context, day timeutil.Day, deltaSteps int64, deltaDistance float64) (*stats.StepRecord, error) {
	var rec *stats.StepRecord
	if day == ss.today {
		r, err := ss.TodayRecord(ctx)
		if err != nil {
			return nil, err
		}
		rec = r
	} else {
		r, err := ss.tx.Stats().FetchDay(ctx, day)
		switch {
		case err == nil:
			rec = r
		case shared.IsNotFound(err):
			rec = stats.NewStepRecord(day)
		default:
			return nil, wrapStore("UpsertDay", err)
		}
	}

	// Add не меняет запись при ошибке
	if err := rec.Add(deltaSteps, deltaDistance); err != nil {
		return nil, shared.WrapError("stats", "UpsertDay", shared.ErrValidation, "invalid day delta", err)
	}
	if err := ss.tx.Stats().UpsertDay(ctx, rec); err != nil {
		return nil, wrapStore("UpsertDay", err)
	}
	return rec, nil
}

// Flush re-derives level and daily high, checks monotonicity and saves.
func (ss *StatsSession) Flush(ctx context.Context) error {
	ss.stats.SetLevel(ss.owner.catalog.LevelForSteps(ss.stats.TotalSteps))
	if ss.todayRecord != nil {
		ss.stats.ObserveDailySteps(ss.todayRecord.Steps)
	}
	if err := ss.stats.CheckMonotonic(ss.before); err != nil {
		return err
	}
	ss.stats.Touch(ss.owner.clock.Now())
	if err := ss.tx.Stats().Save(ctx, ss.stats); err != nil {
		return wrapStore("Flush", err)
	}
	return nil
}

func nonPositive(op string) error {
	return shared.WrapError("stats", op, shared.ErrValidation, "delta must be > 0", shared.ErrNonPositiveDelta)
}

func rejectDelta(op string, err error) error {
	if errors.Is(err, shared.ErrCounterOverflow) {
		return shared.WrapError("stats", op, shared.ErrValidation, "counter would overflow", err)
	}
	return nonPositive(op)
}

// wrapStore tags a repository failure as a persistence error unless it already
// carries a kind the caller can act on.
func wrapStore(op string, err error) error {
	var de *shared.DomainError
	if errors.As(err, &de) && (shared.IsPersistence(err) || shared.IsValidation(err)) {
		return err
	}
	return shared.Persistence("stats", op, err)
}
