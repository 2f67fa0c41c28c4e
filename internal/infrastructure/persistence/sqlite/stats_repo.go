package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

type statsRepo struct {
	q        querier
	readOnly bool
}

const selectStats = `
	SELECT key, total_steps, total_distance, total_days, current_level,
	       highest_daily_steps, last_updated
	FROM user_stats
	WHERE key = ?
`

func (r *statsRepo) FetchOrCreate(ctx context.Context, key string, now time.Time) (*stats.UserStats, error) {
	if key == "" {
		key = stats.SingletonKey
	}

	st, err := r.scan(r.q.QueryRowContext(ctx, selectStats, key))
	switch {
	case err == nil:
		return st, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, translate("stats", "FetchOrCreate", err)
	case r.readOnly:
		return stats.NewUserStats(key, now), nil
	}

	fresh := stats.NewUserStats(key, now)
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO user_stats (key, current_level, last_updated)
		VALUES (?, ?, ?)
	`, key, fresh.CurrentLevel, toMillis(now))
	if err != nil {
		return nil, translate("stats", "FetchOrCreate", err)
	}
	return fresh, nil
}

func (r *statsRepo) Save(ctx context.Context, s *stats.UserStats) error {
	if r.readOnly {
		return readOnlyErr("stats", "Save")
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE user_stats SET
			total_steps = ?,
			total_distance = ?,
			total_days = ?,
			current_level = ?,
			highest_daily_steps = ?,
			last_updated = ?
		WHERE key = ?
	`, s.TotalSteps, s.TotalDistance, s.TotalDays, s.CurrentLevel, s.HighestDailySteps, toMillis(s.LastUpdated), s.Key)
	if err != nil {
		return translate("stats", "Save", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.WrapError("stats", "Save", shared.ErrNotFound, "stats row missing", nil)
	}
	return nil
}

func (r *statsRepo) FetchDay(ctx context.Context, day timeutil.Day) (*stats.StepRecord, error) {
	var (
		d   string
		rec stats.StepRecord
	)
	err := r.q.QueryRowContext(ctx, `SELECT day, steps, distance FROM step_records WHERE day = ?`, day.String()).
		Scan(&d, &rec.Steps, &rec.Distance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrStepRecordNotFound
	}
	if err != nil {
		return nil, translate("stats", "FetchDay", err)
	}
	if rec.Day, err = timeutil.ParseDay(d); err != nil {
		return nil, translate("stats", "FetchDay", err)
	}
	return &rec, nil
}

func (r *statsRepo) UpsertDay(ctx context.Context, rec *stats.StepRecord) error {
	if r.readOnly {
		return readOnlyErr("stats", "UpsertDay")
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO step_records (day, steps, distance)
		VALUES (?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET steps = excluded.steps, distance = excluded.distance
	`, rec.Day.String(), rec.Steps, rec.Distance)
	return translate("stats", "UpsertDay", err)
}

// ListDays relies on ISO dates sorting lexically.
func (r *statsRepo) ListDays(ctx context.Context, from, to timeutil.Day) ([]stats.StepRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT day, steps, distance
		FROM step_records
		WHERE day BETWEEN ? AND ?
		ORDER BY day
	`, from.String(), to.String())
	if err != nil {
		return nil, translate("stats", "ListDays", err)
	}
	defer rows.Close()

	out := make([]stats.StepRecord, 0)
	for rows.Next() {
		var (
			d   string
			rec stats.StepRecord
		)
		if err := rows.Scan(&d, &rec.Steps, &rec.Distance); err != nil {
			return nil, translate("stats", "ListDays", err)
		}
		if rec.Day, err = timeutil.ParseDay(d); err != nil {
			return nil, translate("stats", "ListDays", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("stats", "ListDays", err)
	}
	return out, nil
}

func (r *statsRepo) scan(row *sql.Row) (*stats.UserStats, error) {
	var (
		s       stats.UserStats
		updated int64
	)
	if err := row.Scan(&s.Key, &s.TotalSteps, &s.TotalDistance, &s.TotalDays, &s.CurrentLevel, &s.HighestDailySteps, &updated); err != nil {
		return nil, err
	}
	s.LastUpdated = fromMillis(updated)
	return &s, nil
}
