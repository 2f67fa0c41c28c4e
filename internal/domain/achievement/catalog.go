package achievement

import (
	"fmt"
	"math"
	"sync"

	"github.com/alem-hub/stepquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// distanceTolerance is the slack used when matching a distance threshold exactly.
const distanceTolerance = 0.01

// Definition is one static row of the catalog.
type Definition struct {
	Category  Category
	Threshold float64
	Title     string

	// Level - номер уровня (только для категории level, иначе 0).
	Level int

	// UnlockImage / LockImage - ссылки на ассеты, для ядра непрозрачны.
	UnlockImage string
	LockImage   string
}

// Catalog holds the four threshold tables. It is immutable after construction
// and safe for unlimited concurrent reads.
//
// Every table is strictly ascending by Threshold. Lookups rely on this and scan
// linearly, stopping at the first threshold above the value.
type Catalog struct {
	tables map[Category][]Definition
}

// NewCatalog validates and copies the given tables.
func NewCatalog(tables map[Category][]Definition) (*Catalog, error) {
	c := &Catalog{tables: make(map[Category][]Definition, len(tables))}

	for _, cat := range Categories() {
		defs, ok := tables[cat]
		if !ok || len(defs) == 0 {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrInvalidState,
				fmt.Sprintf("table %s", cat), shared.ErrCatalogEmptyTable)
		}

		cp := make([]Definition, len(defs))
		copy(cp, defs)

		for i := range cp {
			cp[i].Category = cat
			if i == 0 {
				continue
			}
			if cp[i].Threshold <= cp[i-1].Threshold {
				return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrInvalidState,
					fmt.Sprintf("table %s at index %d", cat, i), shared.ErrCatalogNotSorted)
			}
			if cat == CategoryLevel && cp[i].Level != cp[i-1].Level+1 {
				return nil, shared.NewDomainError("achievement", "NewCatalog", shared.ErrInvalidState,
					fmt.Sprintf("level numbers must be contiguous, got %d after %d", cp[i].Level, cp[i-1].Level))
			}
		}
		if cat == CategoryLevel && cp[0].Level != 1 {
			return nil, shared.NewDomainError("achievement", "NewCatalog", shared.ErrInvalidState,
				"level table must start at level 1")
		}

		c.tables[cat] = cp
	}

	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the built-in catalog. It is built once per process.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := NewCatalog(defaultTables())
		if err != nil {
			panic(fmt.Sprintf("achievement: built-in catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Definitions returns a copy of the category's table, ascending.
func (c *Catalog) Definitions(cat Category) []Definition {
	defs := c.tables[cat]
	out := make([]Definition, len(defs))
	copy(out, defs)
	return out
}

// LookupExact finds the definition with exactly this threshold.
// Distance thresholds match within distanceTolerance.
func (c *Catalog) LookupExact(cat Category, threshold float64) (Definition, bool) {
	for _, d := range c.tables[cat] {
		if thresholdsEqual(cat, d.Threshold, threshold) {
			return d, true
		}
		if d.Threshold > threshold {
			break
		}
	}
	return Definition{}, false
}

// LookupBestBelowOrEqual returns the highest definition with Threshold <= value.
// When the value is below the whole table, the category's first definition is
// returned so there is always something to display.
func (c *Catalog) LookupBestBelowOrEqual(cat Category, value float64) Definition {
	defs := c.tables[cat]
	if len(defs) == 0 {
		return Definition{Category: cat}
	}

	best := -1
	for i, d := range defs {
		if d.Threshold > value {
			break
		}
		best = i
	}
	if best < 0 {
		return defs[0]
	}
	return defs[best]
}

// LevelForSteps returns the highest level whose threshold is <= totalSteps.
// The result is never below 1.
func (c *Catalog) LevelForSteps(totalSteps int64) int {
	level := 1
	for _, d := range c.tables[CategoryLevel] {
		if d.Threshold > float64(totalSteps) {
			break
		}
		level = d.Level
	}
	if level < 1 {
		return 1
	}
	return level
}

// LevelThreshold returns the step threshold of the given level.
func (c *Catalog) LevelThreshold(level int) (float64, bool) {
	for _, d := range c.tables[CategoryLevel] {
		if d.Level == level {
			return d.Threshold, true
		}
	}
	return 0, false
}

// LevelDefinition returns the catalog row for the given level.
func (c *Catalog) LevelDefinition(level int) (Definition, bool) {
	for _, d := range c.tables[CategoryLevel] {
		if d.Level == level {
			return d, true
		}
	}
	return Definition{}, false
}

// MaxLevel returns the highest defined level.
func (c *Catalog) MaxLevel() int {
	defs := c.tables[CategoryLevel]
	return defs[len(defs)-1].Level
}

func thresholdsEqual(cat Category, a, b float64) bool {
	if cat == CategoryTotalDistance {
		return math.Abs(a-b) < distanceTolerance
	}
	return a == b
}
