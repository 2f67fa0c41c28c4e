// Package sqlite implements the DataStore on an embedded SQLite file for
// single-node installs (STORE_DRIVER=sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/sqlite/migrations"
)

var errReadOnly = errors.New("sqlite: write in read-only transaction")

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// ══════════════════════════════════════════════════════════════════════════════
// DATA STORE
// Writers open with BEGIN IMMEDIATE and take the database write lock up
// front. Readers use a deferred transaction; under WAL the first SELECT pins
// a snapshot that later commits do not change.
// ══════════════════════════════════════════════════════════════════════════════

// Store implements datastore.DataStore on SQLite.
type Store struct {
	db *sql.DB

	// writeMu serializes writers of this process so they queue here instead
	// of spinning on SQLITE_BUSY.
	writeMu sync.Mutex
}

// Open opens (or creates) the database file at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping db: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// DB exposes the handle for tests and tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithinTx implements datastore.DataStore. A panic in fn rolls back and
// comes back as a persistence error.
func (s *Store) WithinTx(ctx context.Context, fn datastore.TxFunc) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return translate("datastore", "WithinTx", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return translate("datastore", "WithinTx", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// The caller's context may already be cancelled.
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		if p := recover(); p != nil {
			err = shared.Persistence("sqlite", "WithinTx", fmt.Errorf("panic in transaction: %v", p))
		}
	}()

	if err := fn(ctx, &sqliteTx{q: conn}); err != nil {
		return classify("WithinTx", err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return translate("datastore", "WithinTx", err)
	}
	committed = true
	return nil
}

// View implements datastore.DataStore.
func (s *Store) View(ctx context.Context, fn datastore.TxFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate("datastore", "View", err)
	}
	defer func() {
		_ = tx.Rollback()
		if p := recover(); p != nil {
			err = shared.Persistence("sqlite", "View", fmt.Errorf("panic in transaction: %v", p))
		}
	}()

	if err := fn(ctx, &sqliteTx{q: tx, readOnly: true}); err != nil {
		return classify("View", err)
	}
	return nil
}

// Ping implements datastore.DataStore.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return translate("datastore", "Ping", err)
	}
	return nil
}

// Close implements datastore.DataStore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// querier is satisfied by *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q        querier
	readOnly bool
}

func (t *sqliteTx) Stats() stats.Repository {
	return &statsRepo{q: t.q, readOnly: t.readOnly}
}
func (t *sqliteTx) Achievements() achievement.Repository {
	return &entryRepo{q: t.q, readOnly: t.readOnly}
}
func (t *sqliteTx) Outbox() notification.Outbox {
	return &outboxRepo{q: t.q, readOnly: t.readOnly}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func isBusy(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// translate maps a driver error to a domain error for op.
func translate(domain, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isBusy(err):
		return shared.WrapError(domain, op, shared.ErrConflict, "database is locked", err)
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError(domain, op, shared.ErrTimeout, "query timed out", err)
	default:
		return shared.Persistence(domain, op, err)
	}
}

func classify(op string, err error) error {
	var de *shared.DomainError
	if errors.As(err, &de) || errors.Is(err, context.Canceled) {
		return err
	}
	return translate("datastore", op, err)
}

func readOnlyErr(domain, op string) error {
	return shared.Persistence(domain, op, errReadOnly)
}
