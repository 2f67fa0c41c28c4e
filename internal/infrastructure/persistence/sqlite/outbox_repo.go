package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
)

type outboxRepo struct {
	q        querier
	readOnly bool
}

func (r *outboxRepo) Enqueue(ctx context.Context, msgs ...notification.Message) error {
	if r.readOnly {
		return readOnlyErr("notification", "Enqueue")
	}
	for _, m := range msgs {
		u := m.Event.Unlock
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO unlock_outbox (
				id, aggregate_id, category, threshold, title, description, badge,
				occurred_at, status, attempts, available_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.Event.AggregateID(), string(u.Category), u.Threshold, u.Title, u.Description,
			string(m.Event.Badge), toMillis(m.Event.OccurredAt()), string(m.Status), m.Attempts,
			toMillis(m.AvailableAt), toMillis(m.CreatedAt))
		if err != nil {
			return translate("notification", "Enqueue", err)
		}
	}
	return nil
}

// ClaimPending runs inside a BEGIN IMMEDIATE transaction, which already
// excludes every other writer, so the head needs no row lock.
func (r *outboxRepo) ClaimPending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notification.Message, error) {
	if r.readOnly {
		return nil, readOnlyErr("notification", "ClaimPending")
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT seq, id, aggregate_id, category, threshold, title, description, badge,
		       occurred_at, status, attempts, available_at, created_at, delivered_at, last_error
		FROM unlock_outbox
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, translate("notification", "ClaimPending", err)
	}

	var head []notification.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, translate("notification", "ClaimPending", err)
		}
		head = append(head, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translate("notification", "ClaimPending", err)
	}

	until := now.Add(lease)
	out := make([]notification.Message, 0, len(head))
	for _, m := range head {
		if m.AvailableAt.After(now) {
			break
		}
		if _, err := r.q.ExecContext(ctx, `UPDATE unlock_outbox SET available_at = ? WHERE id = ?`, toMillis(until), m.ID); err != nil {
			return nil, translate("notification", "ClaimPending", err)
		}
		m.AvailableAt = until
		out = append(out, m)
	}
	return out, nil
}

func (r *outboxRepo) Update(ctx context.Context, m *notification.Message) error {
	if r.readOnly {
		return readOnlyErr("notification", "Update")
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE unlock_outbox SET
			status = ?,
			attempts = ?,
			available_at = ?,
			delivered_at = ?,
			last_error = ?
		WHERE id = ?
	`, string(m.Status), m.Attempts, toMillis(m.AvailableAt), nullMillis(m.DeliveredAt), m.LastError, m.ID)
	if err != nil {
		return translate("notification", "Update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrMessageNotFound
	}
	return nil
}

func scanMessage(row rowScanner) (*notification.Message, error) {
	var (
		m           notification.Message
		aggregateID string
		cat         string
		u           achievement.Unlock
		badge       string
		occurredAt  int64
		status      string
		availableAt int64
		createdAt   int64
		deliveredAt sql.NullInt64
	)
	if err := row.Scan(&m.Seq, &m.ID, &aggregateID, &cat, &u.Threshold, &u.Title, &u.Description, &badge,
		&occurredAt, &status, &m.Attempts, &availableAt, &createdAt, &deliveredAt, &m.LastError); err != nil {
		return nil, err
	}
	u.Category = achievement.Category(cat)
	m.Event = notification.NewUnlockedEvent(aggregateID, u, notification.BadgeRef(badge), fromMillis(occurredAt))
	m.Status = notification.Status(status)
	m.AvailableAt = fromMillis(availableAt)
	m.CreatedAt = fromMillis(createdAt)
	m.DeliveredAt = timePtr(deliveredAt)
	return &m, nil
}
