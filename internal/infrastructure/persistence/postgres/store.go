package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
)

// ══════════════════════════════════════════════════════════════════════════════
// DATA STORE
// Writers take the stats row lock first (SELECT ... FOR UPDATE), so two
// submissions never interleave. Readers run in a REPEATABLE READ READ ONLY
// transaction and see one committed snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// Store implements datastore.DataStore on PostgreSQL.
type Store struct {
	conn *Connection
}

// NewStore creates a Store over conn.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// WithinTx implements datastore.DataStore.
func (s *Store) WithinTx(ctx context.Context, fn datastore.TxFunc) error {
	err := s.conn.WithTx(ctx, WriteTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
	return s.classify("WithinTx", err)
}

// View implements datastore.DataStore.
func (s *Store) View(ctx context.Context, fn datastore.TxFunc) error {
	err := s.conn.WithTx(ctx, SnapshotTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx, readOnly: true})
	})
	return s.classify("View", err)
}

// Ping implements datastore.DataStore.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return translate("datastore", "Ping", err)
	}
	return nil
}

// Close implements datastore.DataStore.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// classify keeps domain errors from the callback and translates driver
// errors from begin or commit.
func (s *Store) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return translate("datastore", op, err)
}

type pgTx struct {
	q        Querier
	readOnly bool
}

func (t *pgTx) Stats() stats.Repository               { return &statsRepo{q: t.q, readOnly: t.readOnly} }
func (t *pgTx) Achievements() achievement.Repository { return &entryRepo{q: t.q} }
func (t *pgTx) Outbox() notification.Outbox          { return &outboxRepo{q: t.q} }
