package stars

import (
	"fmt"

	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/model"
)

// ReconcileResult reports what a full reconciliation changed locally.
type ReconcileResult struct {
	Applied  int `json:"applied"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

type entryKey struct {
	day  string
	area model.StarArea
}

// newer reports whether the remote row should replace the local entry.
// Ties keep the local value.
func newer(row model.DailyStarRow, local model.DailyAreaEntry, exists bool) bool {
	return !exists || row.UpdatedAt.After(local.UpdatedAt)
}

func validateRow(row model.DailyStarRow) error {
	if row.ChildID == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownChild)
	}
	if !row.StarAreaID.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownArea, row.StarAreaID)
	}
	if !day.Valid(row.DayDate) {
		return fmt.Errorf("%w: %q", ErrInvalidDay, row.DayDate)
	}
	if row.UpdatedAt.IsZero() {
		return fmt.Errorf("missing updated_at")
	}
	return nil
}

// ApplyRemote applies a single remote row using last-writer-wins and then
// recomputes the child's total. It reports whether the local entry changed.
func (e *Engine) ApplyRemote(row model.DailyStarRow) (bool, error) {
	if err := validateRow(row); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.knownChild(row.ChildID) {
		return false, fmt.Errorf("%w: %q", ErrUnknownChild, row.ChildID)
	}
	local, exists := e.cache.Entry(row.ChildID, row.DayDate, row.StarAreaID)
	if !newer(row, local, exists) {
		return false, nil
	}

	err := e.mutate(func(tx *txn) error {
		tx.cache.SetEntry(row.ChildID, row.DayDate, row.StarAreaID, row.Entry())
		tx.queue = tx.queue.dropSuperseded(row.ChildID, row.DayDate, row.StarAreaID, row.UpdatedAt)
		recalculate(tx.cache, row.ChildID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReconcileRemote merges the remote rows of each listed child into the cache
// by last-writer-wins, recomputes those children's totals, and queues every
// local entry the remote side lacks or holds an older version of. The whole
// reconciliation is persisted at once or not at all.
func (e *Engine) ReconcileRemote(remote map[string][]model.DailyStarRow) (ReconcileResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result ReconcileResult
	err := e.mutate(func(tx *txn) error {
		result = ReconcileResult{}
		for childID, rows := range remote {
			seen := make(map[entryKey]model.DailyStarRow, len(rows))
			for _, row := range rows {
				if row.ChildID != childID || validateRow(row) != nil {
					result.Skipped++
					continue
				}
				seen[entryKey{row.DayDate, row.StarAreaID}] = row

				local, exists := tx.cache.Entry(childID, row.DayDate, row.StarAreaID)
				if newer(row, local, exists) {
					tx.cache.SetEntry(childID, row.DayDate, row.StarAreaID, row.Entry())
					tx.queue = tx.queue.dropSuperseded(childID, row.DayDate, row.StarAreaID, row.UpdatedAt)
					result.Applied++
				}
			}

			recalculate(tx.cache, childID)

			for d, areas := range tx.cache.DailyStars[childID] {
				for area, entry := range areas {
					r, onRemote := seen[entryKey{d, area}]
					if onRemote && !entry.UpdatedAt.After(r.UpdatedAt) {
						continue
					}
					if tx.queue.hasKey(childID, d, area) {
						continue
					}
					e.enqueue(tx, childID, d, area, entry)
					result.Enqueued++
				}
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return result, nil
}
