package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type statsRepo struct {
	q        Querier
	readOnly bool
}

const selectStats = `
	SELECT key, total_steps, total_distance, total_days, current_level,
		   highest_daily_steps, last_updated
	FROM user_stats
	WHERE key = $1
`

// FetchOrCreate inserts the row on first access and locks it for the rest of
// a write transaction. Snapshot readers get a fresh record without a write.
func (r *statsRepo) FetchOrCreate(ctx context.Context, key string, now time.Time) (*stats.UserStats, error) {
	if key == "" {
		key = stats.SingletonKey
	}

	if r.readOnly {
		st, err := r.scan(r.q.QueryRow(ctx, selectStats, key))
		if IsNoRows(err) {
			return stats.NewUserStats(key, now), nil
		}
		if err != nil {
			return nil, translate("stats", "FetchOrCreate", err)
		}
		return st, nil
	}

	fresh := stats.NewUserStats(key, now)
	_, err := r.q.Exec(ctx, `
		INSERT INTO user_stats (key, current_level, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, fresh.CurrentLevel, now)
	if err != nil {
		return nil, translate("stats", "FetchOrCreate", err)
	}

	st, err := r.scan(r.q.QueryRow(ctx, selectStats+" FOR UPDATE", key))
	if err != nil {
		return nil, translate("stats", "FetchOrCreate", err)
	}
	return st, nil
}

func (r *statsRepo) Save(ctx context.Context, s *stats.UserStats) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE user_stats SET
			total_steps = $2,
			total_distance = $3,
			total_days = $4,
			current_level = $5,
			highest_daily_steps = $6,
			last_updated = $7
		WHERE key = $1
	`, s.Key, s.TotalSteps, s.TotalDistance, s.TotalDays, s.CurrentLevel, s.HighestDailySteps, s.LastUpdated)
	if err != nil {
		return translate("stats", "Save", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.WrapError("stats", "Save", shared.ErrNotFound, "stats row missing", nil)
	}
	return nil
}

func (r *statsRepo) FetchDay(ctx context.Context, day timeutil.Day) (*stats.StepRecord, error) {
	var (
		d   time.Time
		rec stats.StepRecord
	)
	err := r.q.QueryRow(ctx, `SELECT day, steps, distance FROM step_records WHERE day = $1`, day.Time()).
		Scan(&d, &rec.Steps, &rec.Distance)
	if IsNoRows(err) {
		return nil, shared.ErrStepRecordNotFound
	}
	if err != nil {
		return nil, translate("stats", "FetchDay", err)
	}
	rec.Day = timeutil.DayOf(d, time.UTC)
	return &rec, nil
}

func (r *statsRepo) UpsertDay(ctx context.Context, rec *stats.StepRecord) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO step_records (day, steps, distance)
		VALUES ($1, $2, $3)
		ON CONFLICT (day) DO UPDATE SET steps = EXCLUDED.steps, distance = EXCLUDED.distance
	`, rec.Day.Time(), rec.Steps, rec.Distance)
	return translate("stats", "UpsertDay", err)
}

func (r *statsRepo) ListDays(ctx context.Context, from, to timeutil.Day) ([]stats.StepRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT day, steps, distance
		FROM step_records
		WHERE day BETWEEN $1 AND $2
		ORDER BY day
	`, from.Time(), to.Time())
	if err != nil {
		return nil, translate("stats", "ListDays", err)
	}
	defer rows.Close()

	out := make([]stats.StepRecord, 0)
	for rows.Next() {
		var (
			d   time.Time
			rec stats.StepRecord
		)
		if err := rows.Scan(&d, &rec.Steps, &rec.Distance); err != nil {
			return nil, translate("stats", "ListDays", err)
		}
		rec.Day = timeutil.DayOf(d, time.UTC)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("stats", "ListDays", err)
	}
	return out, nil
}

func (r *statsRepo) scan(row pgx.Row) (*stats.UserStats, error) {
	var s stats.UserStats
	if err := row.Scan(&s.Key, &s.TotalSteps, &s.TotalDistance, &s.TotalDays, &s.CurrentLevel, &s.HighestDailySteps, &s.LastUpdated); err != nil {
		return nil, err
	}
	return &s, nil
}
