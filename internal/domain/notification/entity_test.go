package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/shared"
)

func TestPayload_RoundTrip(t *testing.T) {
	u := achievement.Unlock{
		Category:    achievement.CategoryTotalDistance,
		Threshold:   26,
		Title:       "Marathoner",
		Description: "Walked 26 km",
	}

	p := EncodePayload(u, "miles26Unlock")
	assert.Equal(t, "total_distance", p[KeyType])
	assert.Equal(t, "26", p[KeyValue])

	got, badge, err := ParsePayload(p)
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, BadgeRef("miles26Unlock"), badge)
}

func TestParsePayload_Rejects(t *testing.T) {
	valid := func() Payload {
		return EncodePayload(achievement.Unlock{
			Category:  achievement.CategoryLevel,
			Threshold: 50000,
			Title:     "50k Steps",
		}, "LV_3")
	}

	t.Run("missing key", func(t *testing.T) {
		p := valid()
		delete(p, KeyBadgeImage)
		_, _, err := ParsePayload(p)
		assert.ErrorIs(t, err, shared.ErrInvalidPayload)
	})

	t.Run("unknown type", func(t *testing.T) {
		p := valid()
		p[KeyType] = "weekly"
		_, _, err := ParsePayload(p)
		assert.True(t, errors.Is(err, shared.ErrUnknownCategory))
	})

	t.Run("bad value", func(t *testing.T) {
		for _, v := range []string{"", "ten", "NaN", "+Inf"} {
			p := valid()
			p[KeyValue] = v
			_, _, err := ParsePayload(p)
			assert.ErrorIs(t, err, shared.ErrInvalidPayload, v)
			assert.True(t, shared.IsValidation(err))
		}
	})

	t.Run("camelCase type accepted", func(t *testing.T) {
		p := valid()
		p[KeyType] = "dailySteps"
		u, _, err := ParsePayload(p)
		require.NoError(t, err)
		assert.Equal(t, achievement.CategoryDailySteps, u.Category)
	})
}

func TestResolveBadge(t *testing.T) {
	c := achievement.DefaultCatalog()

	assert.Equal(t, BadgeRef("badge10kUnlock"), ResolveBadge(c, achievement.Unlock{Category: achievement.CategoryDailySteps, Threshold: 10000}))
	assert.Equal(t, BadgeRef("badge10kUnlock"), ResolveBadge(c, achievement.Unlock{Category: achievement.CategoryDailySteps, Threshold: 12345}))
	assert.Equal(t, BadgeRef("badge3kUnlock"), ResolveBadge(c, achievement.Unlock{Category: achievement.CategoryDailySteps, Threshold: 1}))
	assert.Equal(t, BadgeRef("LV_20"), ResolveBadge(c, achievement.Unlock{Category: achievement.CategoryLevel, Threshold: 2_000_000}))
}

func TestUnlockedEvent(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	u := achievement.Unlock{Category: achievement.CategoryTotalDays, Threshold: 7, Title: "7 Days", Description: "Active for 7 days"}

	ev := NewUnlockedEvent("default", u, "days7Unlock", at)
	assert.Equal(t, shared.EventAchievementUnlocked, ev.EventType())
	assert.Equal(t, at, ev.OccurredAt())
	assert.Equal(t, "default", ev.AggregateID())
	assert.Equal(t, "total_days:7", ev.DedupKey())
	assert.Equal(t, "days7Unlock", ev.Payload()[KeyBadgeImage])

	var _ shared.Event = ev
	assert.Equal(t, "total_distance:3.5", DedupKey(achievement.CategoryTotalDistance, 3.5))
}

func TestMessage_Lifecycle(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ev := NewUnlockedEvent("default", achievement.Unlock{Category: achievement.CategoryLevel, Threshold: 10000}, "LV_2", at)

	m := NewMessage("m-1", ev)
	assert.True(t, m.IsOpen())
	assert.Equal(t, at, m.AvailableAt)

	retry := at.Add(time.Second)
	m.MarkFailed(errors.New("broker down"), retry, 3)
	assert.True(t, m.IsOpen())
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, retry, m.AvailableAt)
	assert.Equal(t, "broker down", m.LastError)

	m.MarkFailed(errors.New("broker down"), retry, 3)
	m.MarkFailed(errors.New("still down"), retry, 3)
	assert.Equal(t, StatusDead, m.Status)
	assert.False(t, m.IsOpen())

	d := NewMessage("m-2", ev)
	d.MarkDelivered(at)
	assert.Equal(t, StatusDelivered, d.Status)
	require.NotNil(t, d.DeliveredAt)
	assert.Empty(t, d.LastError)

	s := NewMessage("m-3", ev)
	s.Suppress(at)
	assert.Equal(t, StatusSuppressed, s.Status)
	assert.False(t, s.IsOpen())
}

func TestTriggers(t *testing.T) {
	var zero Triggers
	assert.True(t, zero.Allows(achievement.CategoryLevel))

	all := AllTriggers()
	for _, c := range achievement.Categories() {
		assert.True(t, all.Allows(c))
	}

	tr := NewTriggers(true, false, true, false)
	assert.True(t, tr.Allows(achievement.CategoryLevel))
	assert.False(t, tr.Allows(achievement.CategoryDailySteps))
	assert.True(t, tr.Allows(achievement.CategoryTotalDays))
	assert.False(t, tr.Allows(achievement.CategoryTotalDistance))
}
