package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIERS
// Implementations of notification.Notifier. The push channel itself lives
// behind the topic; this service only publishes what to show.
// ══════════════════════════════════════════════════════════════════════════════

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// UnlockNotice is the record published per unlock.
type UnlockNotice struct {
	Type      string               `json:"type"`
	Key       string               `json:"key"`
	Title     string               `json:"title"`
	Body      string               `json:"body"`
	Payload   notification.Payload `json:"payload"`
	CreatedAt time.Time            `json:"created_at"`
}

// NewUnlockNotice renders the notice for u.
func NewUnlockNotice(u achievement.Unlock, badge notification.BadgeRef, at time.Time) UnlockNotice {
	return UnlockNotice{
		Type:      "achievement.unlocked",
		Key:       notification.DedupKey(u.Category, u.Threshold),
		Title:     achievement.NotificationTitle(u.Category),
		Body:      achievement.NotificationBody(u.Category, u.Title, u.Threshold),
		Payload:   notification.EncodePayload(u, badge),
		CreatedAt: at.UTC(),
	}
}

// KafkaNotifier publishes unlock notices to a topic, keyed by crossing so
// that all notices for one threshold land on the same partition.
type KafkaNotifier struct {
	writer  messageWriter
	catalog *achievement.Catalog
	now     func() time.Time
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, catalog *achievement.Catalog) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafkaNotifier(w, catalog)
}

func newKafkaNotifier(w messageWriter, catalog *achievement.Catalog) *KafkaNotifier {
	return &KafkaNotifier{writer: w, catalog: catalog, now: time.Now}
}

// ScheduleUnlock implements notification.Notifier.
func (n *KafkaNotifier) ScheduleUnlock(ctx context.Context, u achievement.Unlock) (notification.BadgeRef, error) {
	badge := notification.ResolveBadge(n.catalog, u)
	notice := NewUnlockNotice(u, badge, n.now())

	value, err := json.Marshal(notice)
	if err != nil {
		return "", fmt.Errorf("encode unlock notice: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(notice.Key),
		Value: value,
		Time:  notice.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(notice.Type)},
			{Key: "category", Value: []byte(u.Category)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish unlock notice %s: %w", notice.Key, err)
	}
	return badge, nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier writes notices to the log. Used when no broker is configured.
type LogNotifier struct {
	catalog *achievement.Catalog
	logger  *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(catalog *achievement.Catalog, log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{catalog: catalog, logger: log.Named("notifier")}
}

// ScheduleUnlock implements notification.Notifier.
func (n *LogNotifier) ScheduleUnlock(ctx context.Context, u achievement.Unlock) (notification.BadgeRef, error) {
	badge := notification.ResolveBadge(n.catalog, u)
	n.logger.Info(achievement.NotificationTitle(u.Category),
		logger.String("body", achievement.NotificationBody(u.Category, u.Title, u.Threshold)),
		logger.Category(string(u.Category)),
		logger.Threshold(u.Threshold),
		logger.String("badge", string(badge)),
	)
	return badge, nil
}
