package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/pkg/logger"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func levelUnlock() achievement.Unlock {
	return achievement.Unlock{
		Category:    achievement.CategoryLevel,
		Threshold:   50000,
		Title:       "Level 3",
		Description: achievement.Description(achievement.CategoryLevel, 50000),
	}
}

func TestKafkaNotifier_PublishesNotice(t *testing.T) {
	w := &captureWriter{}
	n := newKafkaNotifier(w, achievement.DefaultCatalog())
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.FixedZone("ALMT", 5*3600))
	n.now = func() time.Time { return at }

	badge, err := n.ScheduleUnlock(context.Background(), levelUnlock())
	require.NoError(t, err)
	assert.Equal(t, notification.BadgeRef("LV_3"), badge)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "level:50000", string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte("achievement.unlocked")},
		{Key: "category", Value: []byte("level")},
	}, msg.Headers)

	var notice UnlockNotice
	require.NoError(t, json.Unmarshal(msg.Value, &notice))
	assert.Equal(t, "achievement.unlocked", notice.Type)
	assert.Equal(t, "Level Up!", notice.Title)
	assert.Equal(t, "You reached Level 3", notice.Body)
	assert.Equal(t, "LV_3", notice.Payload[notification.KeyBadgeImage])
	assert.Equal(t, "50000", notice.Payload[notification.KeyValue])
	assert.True(t, at.Equal(notice.CreatedAt))
	assert.Equal(t, time.UTC, notice.CreatedAt.Location())

	// payload возвращается из уведомления без изменений
	u, ref, err := notification.ParsePayload(notice.Payload)
	require.NoError(t, err)
	assert.Equal(t, levelUnlock(), u)
	assert.Equal(t, badge, ref)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_WriteFailure(t *testing.T) {
	broker := errors.New("leader not available")
	n := newKafkaNotifier(&captureWriter{err: broker}, achievement.DefaultCatalog())

	_, err := n.ScheduleUnlock(context.Background(), levelUnlock())
	require.Error(t, err)
	assert.ErrorIs(t, err, broker)
	assert.Contains(t, err.Error(), "level:50000")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Level: logger.LevelInfo})
	n := NewLogNotifier(achievement.DefaultCatalog(), log)

	badge, err := n.ScheduleUnlock(context.Background(), achievement.Unlock{
		Category:  achievement.CategoryDailySteps,
		Threshold: 10000,
		Title:     "10k Steps",
	})
	require.NoError(t, err)
	assert.Equal(t, notification.BadgeRef("badge10kUnlock"), badge)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Daily Goal Achieved!", entry["msg"])
	assert.Equal(t, "notifier", entry["logger"])
	assert.Equal(t, "daily_steps", entry["category"])
	assert.Equal(t, "badge10kUnlock", entry["badge"])
}
