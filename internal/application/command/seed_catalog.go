package command

import (
	"context"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// SeedCatalogHandler creates missing achievement entries from the catalog.
// Existing (category, threshold) rows are left untouched, so running it on
// every start is safe.
type SeedCatalogHandler struct {
	store   datastore.DataStore
	catalog *achievement.Catalog
	clock   timeutil.Clock
	log     *logger.Logger
}

// NewSeedCatalogHandler creates the handler.
func NewSeedCatalogHandler(store datastore.DataStore, catalog *achievement.Catalog, clock timeutil.Clock, log *logger.Logger) *SeedCatalogHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SeedCatalogHandler{store: store, catalog: catalog, clock: clock, log: log}
}

// SeedResult counts created rows per category.
type SeedResult struct {
	Created map[achievement.Category]int
}

// Total returns the number of created rows.
func (r SeedResult) Total() int {
	n := 0
	for _, c := range r.Created {
		n += c
	}
	return n
}

// Handle seeds all four categories in one transaction. Entries whose threshold
// is zero describe the starting state and are created already unlocked.
func (h *SeedCatalogHandler) Handle(ctx context.Context) (SeedResult, error) {
	res := SeedResult{Created: make(map[achievement.Category]int, 4)}

	err := h.store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		res.Created = make(map[achievement.Category]int, 4)
		now := h.clock.Now()

		for _, cat := range achievement.Categories() {
			for _, def := range h.catalog.Definitions(cat) {
				e := achievement.NewEntry(def)
				if e.IsBaseline() {
					_ = e.Unlock(now)
				}
				created, err := tx.Achievements().InsertIfAbsent(ctx, e)
				if err != nil {
					return shared.Persistence("achievement", "Seed", err)
				}
				if created {
					res.Created[cat]++
				}
			}
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}

	if n := res.Total(); n > 0 {
		h.log.Info("achievement catalog seeded", logger.Int("created", n))
	}
	return res, nil
}
