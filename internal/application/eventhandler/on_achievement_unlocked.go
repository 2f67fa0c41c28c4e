// Package eventhandler содержит обработчики доменных событий.
// Обработчики запускаются уже после коммита и отвечают за побочные
// эффекты: доставку уведомлений и сброс кешей.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT UNLOCKED HANDLER
// Передаёт одно событие разблокировки во внешний Notifier.
// Доставка at-least-once: повтор возможен, если процесс упал между
// вызовом Notifier и отметкой в outbox. DeliveryGuard закрывает это окно.
// ═══════════════════════════════════════════════════════════════════════════

// DeliveryGuard remembers which crossings already reached the Notifier.
type DeliveryGuard interface {
	// Delivered reports whether key was marked before.
	Delivered(ctx context.Context, key string) (bool, error)
	// MarkDelivered records key.
	MarkDelivered(ctx context.Context, key string) error
}

// Outcome - итог обработки одного сообщения.
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeDuplicate  Outcome = "duplicate"
)

// OnAchievementUnlockedHandler delivers unlock events.
type OnAchievementUnlockedHandler struct {
	notifier notification.Notifier
	triggers notification.Triggers
	guard    DeliveryGuard
	logger   *logger.Logger
}

// NewOnAchievementUnlockedHandler создаёт обработчик. guard может быть nil.
func NewOnAchievementUnlockedHandler(
	notifier notification.Notifier,
	triggers notification.Triggers,
	guard DeliveryGuard,
	log *logger.Logger,
) *OnAchievementUnlockedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnAchievementUnlockedHandler{
		notifier: notifier,
		triggers: triggers,
		guard:    guard,
		logger:   log.With(logger.String("handler", "on_achievement_unlocked")),
	}
}

// Handle delivers ev. A returned error means the Notifier was not reached
// and the caller should retry later.
func (h *OnAchievementUnlockedHandler) Handle(ctx context.Context, ev notification.UnlockedEvent) (Outcome, error) {
	u := ev.Unlock
	log := h.logger.With(
		logger.Category(string(u.Category)),
		logger.Threshold(u.Threshold),
	)

	// 1. Категория может быть отключена настройками.
	if !h.triggers.Allows(u.Category) {
		log.Debug("notification suppressed by settings")
		return OutcomeSuppressed, nil
	}

	// 2. Уже доставлено в прошлой попытке?
	key := ev.DedupKey()
	if h.guard != nil {
		seen, err := h.guard.Delivered(ctx, key)
		if err != nil {
			log.Warn("delivery guard unavailable", logger.Err(err))
		} else if seen {
			log.Info("notification already delivered, skipping")
			return OutcomeDuplicate, nil
		}
	}

	// 3. Доставка.
	badge, err := h.notifier.ScheduleUnlock(ctx, u)
	if err != nil {
		return "", shared.WrapError("notification", "Deliver", shared.ErrServiceUnavailable,
			fmt.Sprintf("notify %s", key), err)
	}

	// 4. Отметка для защиты от повтора.
	if h.guard != nil {
		if err := h.guard.MarkDelivered(ctx, key); err != nil {
			log.Warn("failed to mark delivery", logger.Err(err))
		}
	}

	log.Info("unlock notification scheduled",
		logger.String("title", u.Title),
		logger.String("badge", string(badge)),
	)
	return OutcomeDelivered, nil
}

// Categories returns the categories this handler currently notifies for.
func (h *OnAchievementUnlockedHandler) Categories() []achievement.Category {
	out := make([]achievement.Category, 0, 4)
	for _, c := range achievement.Categories() {
		if h.triggers.Allows(c) {
			out = append(out, c)
		}
	}
	return out
}
