package notification

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD (round-trip tuple)
// ══════════════════════════════════════════════════════════════════════════════

// Payload keys.
const (
	KeyType        = "type"
	KeyValue       = "value"
	KeyBadgeImage  = "badgeImageName"
	KeyTitle       = "titleText"
	KeyDescription = "descriptionText"
)

// Payload is the flat map attached to a delivered notification. When the user
// opens the notification it comes back unchanged and ParsePayload rebuilds
// the unlock tuple from it.
type Payload map[string]string

// EncodePayload builds the payload for an unlock.
func EncodePayload(u achievement.Unlock, badge BadgeRef) Payload {
	return Payload{
		KeyType:        string(u.Category),
		KeyValue:       strconv.FormatFloat(u.Threshold, 'f', -1, 64),
		KeyBadgeImage:  string(badge),
		KeyTitle:       u.Title,
		KeyDescription: u.Description,
	}
}

// ParsePayload rebuilds the tuple and badge. Every key is required.
func ParsePayload(p Payload) (achievement.Unlock, BadgeRef, error) {
	for _, k := range []string{KeyType, KeyValue, KeyBadgeImage, KeyTitle, KeyDescription} {
		if _, ok := p[k]; !ok {
			return achievement.Unlock{}, "", shared.WrapError("notification", "ParsePayload",
				shared.ErrValidation, fmt.Sprintf("missing %q", k), shared.ErrInvalidPayload)
		}
	}

	cat, err := achievement.ParseCategory(p[KeyType])
	if err != nil {
		return achievement.Unlock{}, "", shared.WrapError("notification", "ParsePayload",
			shared.ErrValidation, "bad type", err)
	}

	v, err := strconv.ParseFloat(p[KeyValue], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return achievement.Unlock{}, "", shared.WrapError("notification", "ParsePayload",
			shared.ErrValidation, "bad value", shared.ErrInvalidPayload)
	}

	return achievement.Unlock{
		Category:    cat,
		Threshold:   v,
		Title:       p[KeyTitle],
		Description: p[KeyDescription],
	}, BadgeRef(p[KeyBadgeImage]), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCKED EVENT
// ══════════════════════════════════════════════════════════════════════════════

// UnlockedEvent is emitted once per (category, threshold) crossing.
type UnlockedEvent struct {
	shared.BaseEvent
	Unlock achievement.Unlock
	Badge  BadgeRef
}

// NewUnlockedEvent creates the event for u.
func NewUnlockedEvent(aggregateID string, u achievement.Unlock, badge BadgeRef, at time.Time) UnlockedEvent {
	return UnlockedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventAchievementUnlocked, aggregateID, at),
		Unlock:    u,
		Badge:     badge,
	}
}

// Payload implements shared.Event.
func (e UnlockedEvent) Payload() map[string]string {
	return EncodePayload(e.Unlock, e.Badge)
}

// DedupKey identifies the crossing independent of the message that carries it.
func (e UnlockedEvent) DedupKey() string {
	return DedupKey(e.Unlock.Category, e.Unlock.Threshold)
}

// DedupKey renders "category:threshold".
func DedupKey(cat achievement.Category, threshold float64) string {
	return string(cat) + ":" + strconv.FormatFloat(threshold, 'f', -1, 64)
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTBOX MESSAGE
// ══════════════════════════════════════════════════════════════════════════════

// Status - состояние сообщения в outbox.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDelivered  Status = "delivered"
	StatusSuppressed Status = "suppressed" // категория отключена настройками
	StatusDead       Status = "dead"       // исчерпаны попытки
)

// Message - строка outbox с одним событием разблокировки.
type Message struct {
	ID  string
	Seq int64

	Event UnlockedEvent

	Status   Status
	Attempts int

	// AvailableAt - когда сообщение можно забрать снова (lease или backoff).
	AvailableAt time.Time
	CreatedAt   time.Time
	DeliveredAt *time.Time
	LastError   string
}

// NewMessage wraps an event into a pending message available immediately.
func NewMessage(id string, ev UnlockedEvent) Message {
	return Message{
		ID:          id,
		Event:       ev,
		Status:      StatusPending,
		AvailableAt: ev.OccurredAt(),
		CreatedAt:   ev.OccurredAt(),
	}
}

// MarkDelivered closes the message.
func (m *Message) MarkDelivered(at time.Time) {
	t := at
	m.Status = StatusDelivered
	m.DeliveredAt = &t
	m.LastError = ""
}

// Suppress closes the message without delivery.
func (m *Message) Suppress(at time.Time) {
	t := at
	m.Status = StatusSuppressed
	m.DeliveredAt = &t
}

// MarkFailed records a failed attempt. Past maxAttempts the message is parked
// as dead, otherwise it becomes available again at retryAt.
func (m *Message) MarkFailed(cause error, retryAt time.Time, maxAttempts int) {
	m.Attempts++
	if cause != nil {
		m.LastError = cause.Error()
	}
	if maxAttempts > 0 && m.Attempts >= maxAttempts {
		m.Status = StatusDead
		return
	}
	m.AvailableAt = retryAt
}

// IsOpen reports whether the message still waits for delivery.
func (m Message) IsOpen() bool {
	return m.Status == StatusPending
}
