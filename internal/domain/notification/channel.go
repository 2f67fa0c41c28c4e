// Package notification содержит доменную модель уведомлений о разблокировке.
package notification

import (
	"context"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRef - непрозрачная ссылка на ассет бейджа, возвращаемая Notifier.
type BadgeRef string

// Notifier schedules a user-visible notification for one unlock.
// Delivery is at-least-once: implementations must tolerate a repeated call
// for the same (category, threshold).
type Notifier interface {
	ScheduleUnlock(ctx context.Context, u achievement.Unlock) (BadgeRef, error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, u achievement.Unlock) (BadgeRef, error)

func (f NotifierFunc) ScheduleUnlock(ctx context.Context, u achievement.Unlock) (BadgeRef, error) {
	return f(ctx, u)
}

// ResolveBadge picks the badge shown for an unlock: the unlocked asset of the
// best catalog entry at or below the unlocked value.
func ResolveBadge(catalog *achievement.Catalog, u achievement.Unlock) BadgeRef {
	def := catalog.LookupBestBelowOrEqual(u.Category, u.Threshold)
	return BadgeRef(def.UnlockImage)
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTBOX
// ══════════════════════════════════════════════════════════════════════════════

// Outbox stores unlock messages written in the same transaction as the unlock.
type Outbox interface {
	// Enqueue appends messages. Seq is assigned by the store in call order.
	Enqueue(ctx context.Context, msgs ...Message) error

	// ClaimPending returns the head of the pending queue in Seq order, up to
	// limit, stopping at the first message not yet available at now. Claimed
	// messages become unavailable until now+lease.
	ClaimPending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Message, error)

	// Update persists status, attempts, availability and error of a message.
	Update(ctx context.Context, m *Message) error
}
