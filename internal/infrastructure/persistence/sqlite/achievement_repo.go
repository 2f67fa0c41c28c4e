package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/shared"
)

type entryRepo struct {
	q        querier
	readOnly bool
}

const selectEntries = `
	SELECT category, threshold, title, level, is_unlocked, unlocked_at, unlock_image, lock_image
	FROM achievement_entries
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *entryRepo) FetchByCategoryAndThreshold(ctx context.Context, cat achievement.Category, threshold float64) (*achievement.Entry, error) {
	e, err := scanEntry(r.q.QueryRowContext(ctx, selectEntries+" WHERE category = ? AND threshold = ?", string(cat), threshold))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrEntryNotFound
	}
	if err != nil {
		return nil, translate("achievement", "FetchByCategoryAndThreshold", err)
	}
	return e, nil
}

func (r *entryRepo) FetchByCategory(ctx context.Context, cat achievement.Category) ([]achievement.Entry, error) {
	rows, err := r.q.QueryContext(ctx, selectEntries+" WHERE category = ? ORDER BY threshold", string(cat))
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
	if r.readOnly {
		return false, readOnlyErr("achievement", "InsertIfAbsent")
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO achievement_entries (
			category, threshold, title, level, is_unlocked, unlocked_at, unlock_image, lock_image
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.Category), e.Threshold, e.Title, e.Level, e.IsUnlocked, nullMillis(e.UnlockedAt), e.UnlockImage, e.LockImage)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, translate("achievement", "InsertIfAbsent", err)
	}
	return true, nil
}

// Save only moves an entry from locked to unlocked.
func (r *entryRepo) Save(ctx context.Context, e *achievement.Entry) error {
	if r.readOnly {
		return readOnlyErr("achievement", "Save")
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE achievement_entries
		SET is_unlocked = ?, unlocked_at = ?
		WHERE category = ? AND threshold = ? AND is_unlocked = 0
	`, e.IsUnlocked, nullMillis(e.UnlockedAt), string(e.Category), e.Threshold)
	if err != nil {
		return translate("achievement", "Save", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrAlreadyUnlocked
	}
	return nil
}

func scanEntry(row rowScanner) (*achievement.Entry, error) {
	var (
		e          achievement.Entry
		cat        string
		unlockedAt sql.NullInt64
	)
	if err := row.Scan(&cat, &e.Threshold, &e.Title, &e.Level, &e.IsUnlocked, &unlockedAt, &e.UnlockImage, &e.LockImage); err != nil {
		return nil, err
	}
	e.Category = achievement.Category(cat)
	e.UnlockedAt = timePtr(unlockedAt)
	return &e, nil
}
