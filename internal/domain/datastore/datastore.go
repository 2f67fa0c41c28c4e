// Package datastore defines the transactional boundary the application layer
// works against. Postgres, sqlite and in-memory stores implement it.
package datastore

import (
	"context"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/stats"
)

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Stats() stats.Repository
	Achievements() achievement.Repository
	Outbox() notification.Outbox
}

// TxFunc is the body of a transaction. Returning an error rolls back.
type TxFunc func(ctx context.Context, tx Tx) error

// DataStore runs transactions.
//
// WithinTx is serialized per installation: two write transactions never
// interleave, so a read-modify-write of the stats row cannot lose updates.
// Any error aborts the whole transaction. A panic inside fn is recovered,
// rolls back, and is returned as a persistence error by every backend.
//
// View runs a read-only transaction that observes a committed snapshot,
// never a partially applied write. Mutations inside View fail.
type DataStore interface {
	WithinTx(ctx context.Context, fn TxFunc) error
	View(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}
