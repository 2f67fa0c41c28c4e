package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STATS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Cumulative counters; one row per stats key.
CREATE TABLE IF NOT EXISTS user_stats (
    key TEXT PRIMARY KEY,
    total_steps BIGINT NOT NULL DEFAULT 0,
    total_distance DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_days INTEGER NOT NULL DEFAULT 0,
    current_level INTEGER NOT NULL DEFAULT 1,
    highest_daily_steps BIGINT NOT NULL DEFAULT 0,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_steps CHECK (total_steps >= 0),
    CONSTRAINT valid_total_distance CHECK (total_distance >= 0),
    CONSTRAINT valid_total_days CHECK (total_days >= 0),
    CONSTRAINT valid_level CHECK (current_level >= 1)
);

-- Daily ledger; one row per calendar day.
CREATE TABLE IF NOT EXISTS step_records (
    day DATE PRIMARY KEY,
    steps BIGINT NOT NULL DEFAULT 0,
    distance DOUBLE PRECISION NOT NULL DEFAULT 0,

    CONSTRAINT valid_steps CHECK (steps >= 0),
    CONSTRAINT valid_distance CHECK (distance >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS step_records;
DROP TABLE IF EXISTS user_stats;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS achievement_entries (
    category VARCHAR(20) NOT NULL,
    threshold DOUBLE PRECISION NOT NULL,
    title VARCHAR(100) NOT NULL,
    level INTEGER NOT NULL DEFAULT 0,
    is_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
    unlocked_at TIMESTAMP WITH TIME ZONE,
    unlock_image VARCHAR(100) NOT NULL DEFAULT '',
    lock_image VARCHAR(100) NOT NULL DEFAULT '',

    PRIMARY KEY (category, threshold),
    CONSTRAINT valid_category CHECK (category IN ('daily_steps', 'total_days', 'total_distance', 'level')),
    CONSTRAINT unlocked_at_iff_unlocked CHECK (is_unlocked = (unlocked_at IS NOT NULL))
);
`

const migration002Down = `
DROP TABLE IF EXISTS achievement_entries;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: OUTBOX
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS unlock_outbox (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    aggregate_id TEXT NOT NULL,
    category VARCHAR(20) NOT NULL,
    threshold DOUBLE PRECISION NOT NULL,
    title VARCHAR(100) NOT NULL,
    description TEXT NOT NULL,
    badge VARCHAR(100) NOT NULL DEFAULT '',
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    available_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    delivered_at TIMESTAMP WITH TIME ZONE,
    last_error TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_outbox_status CHECK (status IN ('pending', 'delivered', 'suppressed', 'dead'))
);

CREATE INDEX IF NOT EXISTS idx_unlock_outbox_pending ON unlock_outbox(seq) WHERE status = 'pending';
`

const migration003Down = `
DROP TABLE IF EXISTS unlock_outbox;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_stats", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_achievements", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_unlock_outbox", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Pool().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Pool().Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, WriteTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, WriteTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}
