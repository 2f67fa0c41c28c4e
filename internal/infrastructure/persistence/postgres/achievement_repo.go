package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type entryRepo struct {
	q Querier
}

const selectEntries = `
	SELECT category, threshold, title, level, is_unlocked, unlocked_at, unlock_image, lock_image
	FROM achievement_entries
`

func (r *entryRepo) FetchByCategoryAndThreshold(ctx context.Context, cat achievement.Category, threshold float64) (*achievement.Entry, error) {
	e, err := scanEntry(r.q.QueryRow(ctx, selectEntries+" WHERE category = $1 AND threshold = $2", string(cat), threshold))
	if IsNoRows(err) {
		return nil, shared.ErrEntryNotFound
	}
	if err != nil {
		return nil, translate("achievement", "FetchByCategoryAndThreshold", err)
	}
	return e, nil
}

func (r *entryRepo) FetchByCategory(ctx context.Context, cat achievement.Category) ([]achievement.Entry, error) {
	rows, err := r.q.Query(ctx, selectEntries+" WHERE category = $1 ORDER BY threshold", string(cat))
	if err != nil {
		return nil, translate("achievement", "FetchByCategory", err)
	}
	defer rows.Close()

	out := make([]achievement.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, translate("achievement", "FetchByCategory", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("achievement", "FetchByCategory", err)
	}
	return out, nil
}

func (r *entryRepo) InsertIfAbsent(ctx context.Context, e achievement.Entry) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO achievement_entries (
			category, threshold, title, level, is_unlocked, unlocked_at, unlock_image, lock_image
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (category, threshold) DO NOTHING
	`, string(e.Category), e.Threshold, e.Title, e.Level, e.IsUnlocked, e.UnlockedAt, e.UnlockImage, e.LockImage)
	if err != nil {
		return false, translate("achievement", "InsertIfAbsent", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Save only ever moves an entry from locked to unlocked; the WHERE clause
// keeps a stale writer from overwriting an earlier unlock time.
func (r *entryRepo) Save(ctx context.Context, e *achievement.Entry) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE achievement_entries
		SET is_unlocked = $3, unlocked_at = $4
		WHERE category = $1 AND threshold = $2 AND is_unlocked = FALSE
	`, string(e.Category), e.Threshold, e.IsUnlocked, e.UnlockedAt)
	if err != nil {
		return translate("achievement", "Save", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyUnlocked
	}
	return nil
}

func scanEntry(row pgx.Row) (*achievement.Entry, error) {
	var (
		e   achievement.Entry
		cat string
	)
	if err := row.Scan(&cat, &e.Threshold, &e.Title, &e.Level, &e.IsUnlocked, &e.UnlockedAt, &e.UnlockImage, &e.LockImage); err != nil {
		return nil, err
	}
	e.Category = achievement.Category(cat)
	return &e, nil
}
