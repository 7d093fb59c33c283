package stars

import (
	"sort"
	"time"

	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/model"
)

const legacyAdjustmentReason = "Legacy balance adjustment"

// NeedsMigration reports whether the cache has no recorded days for any
// child, which is the case for a fresh install or an unmigrated legacy one.
func (e *Engine) NeedsMigration() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.cache.HasDays()
}

// MigrateFromOldStarLog builds a cache from the flat legacy log. Each entry is
// classified by ClassifyReason and bucketed under the day of its own
// timestamp. Each child listed in known keeps that total; when the migrated
// buckets do not add up to it, the difference is recorded as a bonus entry on
// the child's earliest migrated day so entries and total agree without
// changing recent history. A child with no legacy entries gets it on today.
func MigrateFromOldStarLog(oldLog []model.LegacyStarEntry, known map[string]int, cal *day.Calendar, now time.Time) *model.StarCache {
	cache := model.NewStarCache(CurrentSchemaVersion)

	entries := make([]model.LegacyStarEntry, len(oldLog))
	copy(entries, oldLog)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	for _, le := range entries {
		if le.ChildID == "" {
			continue
		}
		area := ClassifyReason(le.Reason)
		d := cal.Date(le.Timestamp)

		existing, _ := cache.Entry(le.ChildID, d, area)
		cache.SetEntry(le.ChildID, d, area, model.DailyAreaEntry{
			Stars:     existing.Stars + le.Amount,
			Reason:    le.Reason,
			UpdatedAt: le.Timestamp.UTC(),
		})
	}

	for child := range cache.DailyStars {
		cache.Totals[child] = cache.SumStars(child)
	}

	today := cal.Date(now)
	for child, total := range known {
		diff := total - cache.SumStars(child)
		if diff != 0 {
			d := earliestDay(cache, child, today)
			existing, _ := cache.Entry(child, d, model.AreaBonus)
			cache.SetEntry(child, d, model.AreaBonus, model.DailyAreaEntry{
				Stars:     existing.Stars + diff,
				Reason:    legacyAdjustmentReason,
				UpdatedAt: now.UTC(),
			})
		}
		cache.Totals[child] = total
	}

	return cache
}

func earliestDay(c *model.StarCache, childID, fallback string) string {
	first := ""
	for d := range c.DailyStars[childID] {
		if first == "" || d < first {
			first = d
		}
	}
	if first == "" {
		return fallback
	}
	return first
}

// ImportLegacy migrates the legacy log into the engine when NeedsMigration
// is true and returns a copy of the resulting cache. Migrated entries reach
// the remote store through the next full sync.
func (e *Engine) ImportLegacy(oldLog []model.LegacyStarEntry, known map[string]int) (*model.StarCache, error) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache.HasDays() {
		return nil, ErrAlreadyMigrated
	}

	migrated := MigrateFromOldStarLog(oldLog, known, e.cal, now)
	err := e.mutate(func(tx *txn) error {
		migrated.Weekly = tx.cache.Weekly
		tx.cache = migrated
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("migrated legacy star log", "entries", len(oldLog), "children", len(migrated.DailyStars))
	return e.cache.Clone(), nil
}
