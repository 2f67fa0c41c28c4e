package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// OUTBOX REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type outboxRepo struct {
	q Querier
}

func (r *outboxRepo) Enqueue(ctx context.Context, msgs ...notification.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		u := m.Event.Unlock
		batch.Queue(`
			INSERT INTO unlock_outbox (
				id, aggregate_id, category, threshold, title, description, badge,
				occurred_at, status, attempts, available_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, m.ID, m.Event.AggregateID(), string(u.Category), u.Threshold, u.Title, u.Description,
			string(m.Event.Badge), m.Event.OccurredAt(), string(m.Status), m.Attempts, m.AvailableAt, m.CreatedAt)
	}

	// Queued statements run in order, so seq follows the slice order.
	br := r.q.SendBatch(ctx, batch)
	defer br.Close()
	for range msgs {
		if _, err := br.Exec(); err != nil {
			return translate("notification", "Enqueue", err)
		}
	}
	return nil
}

// ClaimPending locks the head of the pending queue. No SKIP LOCKED: a second
// relay waits for the first instead of delivering later rows ahead of it.
func (r *outboxRepo) ClaimPending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notification.Message, error) {
	rows, err := r.q.Query(ctx, `
		SELECT seq, id, aggregate_id, category, threshold, title, description, badge,
			   occurred_at, status, attempts, available_at, created_at, delivered_at, last_error
		FROM unlock_outbox
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT $1
		FOR UPDATE
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

	out := make([]notification.Message, 0, len(head))
	ids := make([]string, 0, len(head))
	until := now.Add(lease)
	for _, m := range head {
		if m.AvailableAt.After(now) {
			break
		}
		m.AvailableAt = until
		out = append(out, m)
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return out, nil
	}

	if _, err := r.q.Exec(ctx, `UPDATE unlock_outbox SET available_at = $2 WHERE id = ANY($1)`, ids, until); err != nil {
		return nil, translate("notification", "ClaimPending", err)
	}
	return out, nil
}

func (r *outboxRepo) Update(ctx context.Context, m *notification.Message) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE unlock_outbox SET
			status = $2,
			attempts = $3,
			available_at = $4,
			delivered_at = $5,
			last_error = $6
		WHERE id = $1
	`, m.ID, string(m.Status), m.Attempts, m.AvailableAt, m.DeliveredAt, m.LastError)
	if err != nil {
		return translate("notification", "Update", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrMessageNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (*notification.Message, error) {
	var (
		m           notification.Message
		aggregateID string
		cat         string
		u           achievement.Unlock
		badge       string
		occurredAt  time.Time
		status      string
	)
	if err := row.Scan(&m.Seq, &m.ID, &aggregateID, &cat, &u.Threshold, &u.Title, &u.Description, &badge,
		&occurredAt, &status, &m.Attempts, &m.AvailableAt, &m.CreatedAt, &m.DeliveredAt, &m.LastError); err != nil {
		return nil, err
	}
	u.Category = achievement.Category(cat)
	m.Event = notification.NewUnlockedEvent(aggregateID, u, notification.BadgeRef(badge), occurredAt)
	m.Status = notification.Status(status)
	return &m, nil
}
