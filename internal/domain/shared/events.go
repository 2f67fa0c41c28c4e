package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

const (
	// EventAchievementUnlocked fires once per (category, threshold) crossing.
	// Level-ups are unlocks in the "level" category and use the same type.
	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID identifies the record that produced the event.
	AggregateID() string
	// Payload returns the event data as a flat map for transport.
	Payload() map[string]string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent creates a base event stamped with the given instant.
// The time is passed in so that events follow the injected clock.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}
