package achievement

import (
	"context"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY (persisted unlock state)
// ══════════════════════════════════════════════════════════════════════════════

// Key is the identity of an entry.
type Key struct {
	Category  Category
	Threshold float64
}

// Entry - строка каталога вместе с состоянием разблокировки.
// Идентичность: (Category, Threshold), уникальна.
type Entry struct {
	Category  Category
	Threshold float64
	Title     string

	// Level - номер уровня для категории level.
	Level int

	// IsUnlocked меняется false -> true ровно один раз и никогда обратно.
	IsUnlocked bool

	// UnlockedAt задан тогда и только тогда, когда IsUnlocked == true.
	UnlockedAt *time.Time

	UnlockImage string
	LockImage   string
}

// NewEntry creates a locked entry from a catalog definition.
func NewEntry(def Definition) Entry {
	return Entry{
		Category:    def.Category,
		Threshold:   def.Threshold,
		Title:       def.Title,
		Level:       def.Level,
		UnlockImage: def.UnlockImage,
		LockImage:   def.LockImage,
	}
}

// Key returns the entry identity.
func (e Entry) Key() Key {
	return Key{Category: e.Category, Threshold: e.Threshold}
}

// Unlock flips the entry to unlocked. A second call fails with ErrAlreadyUnlocked
// and leaves UnlockedAt untouched.
func (e *Entry) Unlock(at time.Time) error {
	if e.IsUnlocked {
		return shared.ErrAlreadyUnlocked
	}
	t := at
	e.IsUnlocked = true
	e.UnlockedAt = &t
	return nil
}

// IsBaseline reports whether the entry is satisfied by an empty account.
// Seeding creates such entries already unlocked.
func (e Entry) IsBaseline() bool {
	return e.Threshold <= 0
}

// ImageName returns the asset matching the current unlock state.
func (e Entry) ImageName() string {
	if e.IsUnlocked {
		return e.UnlockImage
	}
	return e.LockImage
}

// Description returns the display text for this entry.
func (e Entry) Description() string {
	return Description(e.Category, e.Threshold)
}

// ToUnlock builds the notification tuple for this entry.
func (e Entry) ToUnlock() Unlock {
	return Unlock{
		Category:    e.Category,
		Threshold:   e.Threshold,
		Title:       e.Title,
		Description: e.Description(),
	}
}

// Unlock is the (category, threshold, title, description) tuple handed to the
// Notifier and returned by it when the user opens a notification.
type Unlock struct {
	Category    Category
	Threshold   float64
	Title       string
	Description string
}

// Repository persists entries. Implementations run inside the caller's
// transaction; see datastore.Tx.
type Repository interface {
	// FetchByCategoryAndThreshold returns ErrEntryNotFound when absent.
	FetchByCategoryAndThreshold(ctx context.Context, cat Category, threshold float64) (*Entry, error)

	// FetchByCategory returns the category's entries ascending by threshold.
	FetchByCategory(ctx context.Context, cat Category) ([]Entry, error)

	// InsertIfAbsent stores e unless (category, threshold) already exists.
	// It reports whether a row was created.
	InsertIfAbsent(ctx context.Context, e Entry) (bool, error)

	// Save persists the unlock state of an existing entry.
	Save(ctx context.Context, e *Entry) error
}
