// Package memory is an in-process DataStore. Writers work on a private copy of
// the committed state and publish it atomically on commit, so readers always
// see a complete snapshot. Used by tests and by STORE_DRIVER=memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

var errReadOnly = errors.New("write in read-only transaction")

// FailureHook lets tests fail a named repository operation. Returning a
// non-nil error makes that operation fail as a persistence error.
type FailureHook func(op string) error

type state struct {
	stats   map[string]stats.UserStats
	days    map[timeutil.Day]stats.StepRecord
	entries map[achievement.Category][]achievement.Entry
	outbox  []notification.Message
	seq     int64
}

func newState() *state {
	return &state{
		stats:   make(map[string]stats.UserStats),
		days:    make(map[timeutil.Day]stats.StepRecord),
		entries: make(map[achievement.Category][]achievement.Entry),
	}
}

func (s *state) clone() *state {
	cp := &state{
		stats:   make(map[string]stats.UserStats, len(s.stats)),
		days:    make(map[timeutil.Day]stats.StepRecord, len(s.days)),
		entries: make(map[achievement.Category][]achievement.Entry, len(s.entries)),
		outbox:  make([]notification.Message, len(s.outbox)),
		seq:     s.seq,
	}
	for k, v := range s.stats {
		cp.stats[k] = v
	}
	for k, v := range s.days {
		cp.days[k] = v
	}
	for k, list := range s.entries {
		out := make([]achievement.Entry, len(list))
		for i, e := range list {
			out[i] = copyEntry(e)
		}
		cp.entries[k] = out
	}
	for i, m := range s.outbox {
		cp.outbox[i] = copyMessage(m)
	}
	return cp
}

// Store is the in-memory DataStore.
type Store struct {
	writeMu sync.Mutex

	mu        sync.RWMutex
	committed *state
	closed    bool

	hook FailureHook
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{committed: newState()}
}

// SetFailureHook installs a hook consulted before every repository call.
func (s *Store) SetFailureHook(h FailureHook) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.hook = h
}

// WithinTx implements datastore.DataStore.
func (s *Store) WithinTx(ctx context.Context, fn datastore.TxFunc) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return shared.Persistence("memory", "WithinTx", errors.New("store closed"))
	}
	work := s.committed.clone()
	s.mu.RUnlock()

	tx := &memTx{st: work, hook: s.hook}

	defer func() {
		if p := recover(); p != nil {
			err = shared.Persistence("memory", "WithinTx", fmt.Errorf("panic in transaction: %v", p))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

// View implements datastore.DataStore.
func (s *Store) View(ctx context.Context, fn datastore.TxFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return shared.Persistence("memory", "View", errors.New("store closed"))
	}
	// Committed states are never mutated after publication.
	snap := s.committed
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			err = shared.Persistence("memory", "View", fmt.Errorf("panic in transaction: %v", p))
		}
	}()
	return fn(ctx, &memTx{st: snap, readOnly: true})
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return shared.Persistence("memory", "Ping", errors.New("store closed"))
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

type memTx struct {
	st       *state
	readOnly bool
	hook     FailureHook
}

func (t *memTx) Stats() stats.Repository               { return statsRepo{t} }
func (t *memTx) Achievements() achievement.Repository { return entryRepo{t} }
func (t *memTx) Outbox() notification.Outbox          { return outboxRepo{t} }

func (t *memTx) check(domain, op string, write bool) error {
	if write && t.readOnly {
		return shared.Persistence(domain, op, errReadOnly)
	}
	if t.hook != nil {
		if err := t.hook(op); err != nil {
			return shared.Persistence(domain, op, err)
		}
	}
	return nil
}

// ── stats ────────────────────────────────────────────────────────────────────

type statsRepo struct{ t *memTx }

func (r statsRepo) FetchOrCreate(ctx context.Context, key string, now time.Time) (*stats.UserStats, error) {
	if err := r.t.check("stats", "FetchOrCreate", false); err != nil {
		return nil, err
	}
	if key == "" {
		key = stats.SingletonKey
	}
	if s, ok := r.t.st.stats[key]; ok {
		return &s, nil
	}
	created := stats.NewUserStats(key, now)
	if !r.t.readOnly {
		r.t.st.stats[key] = *created
	}
	return created, nil
}

func (r statsRepo) Save(ctx context.Context, s *stats.UserStats) error {
	if err := r.t.check("stats", "Save", true); err != nil {
		return err
	}
	r.t.st.stats[s.Key] = *s
	return nil
}

func (r statsRepo) FetchDay(ctx context.Context, day timeutil.Day) (*stats.StepRecord, error) {
	if err := r.t.check("stats", "FetchDay", false); err != nil {
		return nil, err
	}
	rec, ok := r.t.st.days[day]
	if !ok {
		return nil, shared.ErrStepRecordNotFound
	}
	return &rec, nil
}

func (r statsRepo) UpsertDay(ctx context.Context, rec *stats.StepRecord) error {
	if err := r.t.check("stats", "UpsertDay", true); err != nil {
		return err
	}
	r.t.st.days[rec.Day] = *rec
	return nil
}

func (r statsRepo) ListDays(ctx context.Context, from, to timeutil.Day) ([]stats.StepRecord, error) {
	if err := r.t.check("stats", "ListDays", false); err != nil {
		return nil, err
	}
	out := make([]stats.StepRecord, 0)
	for day, rec := range r.t.st.days {
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// ── achievements ─────────────────────────────────────────────────────────────

type entryRepo struct{ t *memTx }

func (r entryRepo) FetchByCategoryAndThreshold(ctx context.Context, cat achievement.Category, threshold float64) (*achievement.Entry, error) {
	if err := r.t.check("achievement", "FetchByCategoryAndThreshold", false); err != nil {
		return nil, err
	}
	for _, e := range r.t.st.entries[cat] {
		if e.Threshold == threshold {
			cp := copyEntry(e)
			return &cp, nil
		}
	}
	return nil, shared.ErrEntryNotFound
}

func (r entryRepo) FetchByCategory(ctx context.Context, cat achievement.Category) ([]achievement.Entry, error) {
	if err := r.t.check("achievement", "FetchByCategory", false); err != nil {
		return nil, err
	}
	list := r.t.st.entries[cat]
	out := make([]achievement.Entry, len(list))
	for i, e := range list {
		out[i] = copyEntry(e)
	}
	return out, nil
}

func (r entryRepo) InsertIfAbsent(ctx context.Context, e achievement.Entry) (bool, error) {
	if err := r.t.check("achievement", "InsertIfAbsent", true); err != nil {
		return false, err
	}
	list := r.t.st.entries[e.Category]
	for _, existing := range list {
		if existing.Threshold == e.Threshold {
			return false, nil
		}
	}
	list = append(list, copyEntry(e))
	sort.SliceStable(list, func(i, j int) bool { return list[i].Threshold < list[j].Threshold })
	r.t.st.entries[e.Category] = list
	return true, nil
}

func (r entryRepo) Save(ctx context.Context, e *achievement.Entry) error {
	if err := r.t.check("achievement", "Save", true); err != nil {
		return err
	}
	list := r.t.st.entries[e.Category]
	for i := range list {
		if list[i].Threshold == e.Threshold {
			list[i] = copyEntry(*e)
			return nil
		}
	}
	return shared.ErrEntryNotFound
}

// ── outbox ───────────────────────────────────────────────────────────────────

type outboxRepo struct{ t *memTx }

func (r outboxRepo) Enqueue(ctx context.Context, msgs ...notification.Message) error {
	if err := r.t.check("notification", "Enqueue", true); err != nil {
		return err
	}
	for _, m := range msgs {
		r.t.st.seq++
		m.Seq = r.t.st.seq
		r.t.st.outbox = append(r.t.st.outbox, copyMessage(m))
	}
	return nil
}

func (r outboxRepo) ClaimPending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notification.Message, error) {
	if err := r.t.check("notification", "ClaimPending", true); err != nil {
		return nil, err
	}
	out := make([]notification.Message, 0, limit)
	for i := range r.t.st.outbox {
		m := &r.t.st.outbox[i]
		if !m.IsOpen() {
			continue
		}
		if m.AvailableAt.After(now) || len(out) >= limit {
			break
		}
		m.AvailableAt = now.Add(lease)
		out = append(out, copyMessage(*m))
	}
	return out, nil
}

func (r outboxRepo) Update(ctx context.Context, m *notification.Message) error {
	if err := r.t.check("notification", "Update", true); err != nil {
		return err
	}
	for i := range r.t.st.outbox {
		if r.t.st.outbox[i].ID == m.ID {
			r.t.st.outbox[i] = copyMessage(*m)
			return nil
		}
	}
	return shared.ErrMessageNotFound
}

// Messages returns a snapshot of the outbox, for tests and diagnostics.
func (s *Store) Messages() []notification.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notification.Message, len(s.committed.outbox))
	for i, m := range s.committed.outbox {
		out[i] = copyMessage(m)
	}
	return out
}

func copyEntry(e achievement.Entry) achievement.Entry {
	if e.UnlockedAt != nil {
		t := *e.UnlockedAt
		e.UnlockedAt = &t
	}
	return e
}

func copyMessage(m notification.Message) notification.Message {
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		m.DeliveredAt = &t
	}
	return m
}
