package query

import (
	"context"
	"time"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ACHIEVEMENTS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// AchievementDTO - одна запись каталога с состоянием разблокировки.
type AchievementDTO struct {
	Category    string     `json:"category"`
	Threshold   float64    `json:"threshold"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Level       int        `json:"level,omitempty"`
	IsUnlocked  bool       `json:"is_unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	ImageName   string     `json:"image_name"`
}

// AchievementListDTO is a category listing, ascending by threshold.
type AchievementListDTO struct {
	Category      string           `json:"category"`
	UnlockedCount int              `json:"unlocked_count"`
	TotalCount    int              `json:"total_count"`
	Items         []AchievementDTO `json:"items"`
}

// ListAchievementsHandler lists one category.
type ListAchievementsHandler struct {
	store   datastore.DataStore
	catalog *achievement.Catalog
}

// NewListAchievementsHandler creates the handler.
func NewListAchievementsHandler(store datastore.DataStore, catalog *achievement.Catalog) *ListAchievementsHandler {
	return &ListAchievementsHandler{store: store, catalog: catalog}
}

// Handle returns the listing for cat. Catalog entries the store has not seen
// yet are reported as locked.
func (h *ListAchievementsHandler) Handle(ctx context.Context, cat achievement.Category) (*AchievementListDTO, error) {
	if !cat.Valid() {
		return nil, shared.ErrUnknownCategory
	}

	var stored []achievement.Entry
	err := h.store.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		list, err := tx.Achievements().FetchByCategory(ctx, cat)
		if err != nil {
			return shared.Persistence("query", "ListAchievements", err)
		}
		stored = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	byThreshold := make(map[float64]achievement.Entry, len(stored))
	for _, e := range stored {
		byThreshold[e.Threshold] = e
	}

	defs := h.catalog.Definitions(cat)
	out := &AchievementListDTO{
		Category:   string(cat),
		TotalCount: len(defs),
		Items:      make([]AchievementDTO, 0, len(defs)),
	}
	for _, def := range defs {
		e, ok := byThreshold[def.Threshold]
		if !ok {
			e = achievement.NewEntry(def)
		}
		if e.IsUnlocked {
			out.UnlockedCount++
		}
		out.Items = append(out.Items, AchievementDTO{
			Category:    string(e.Category),
			Threshold:   e.Threshold,
			Title:       e.Title,
			Description: e.Description(),
			Level:       e.Level,
			IsUnlocked:  e.IsUnlocked,
			UnlockedAt:  e.UnlockedAt,
			ImageName:   e.ImageName(),
		})
	}
	return out, nil
}
