package stars

import (
	"fmt"

	"github.com/dukerupert/starchart/internal/model"
)

// SpendResult is the outcome of SpendStars.
type SpendResult struct {
	Success  bool   `json:"success"`
	NewTotal int    `json:"newTotal"`
	Error    string `json:"error,omitempty"`
}

// AddStarsToArea adds delta (which may be negative or zero) to the child's
// entry for area on dayDate, defaulting to today. The reason is stored
// verbatim. The total moves by delta and a pending mutation is queued.
func (e *Engine) AddStarsToArea(childID string, area model.StarArea, delta int, reason, dayDate string) (model.DailyAreaEntry, error) {
	if !area.Valid() {
		return model.DailyAreaEntry{}, fmt.Errorf("%w: %q", ErrUnknownArea, area)
	}
	if childID == "" {
		return model.DailyAreaEntry{}, fmt.Errorf("%w: empty id", ErrUnknownChild)
	}
	d, err := e.resolveDay(dayDate)
	if err != nil {
		return model.DailyAreaEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var entry model.DailyAreaEntry
	err = e.mutate(func(tx *txn) error {
		entry = e.addStars(tx, childID, area, delta, reason, d)
		if delta > 0 {
			e.trackWeekly(tx, childID, d, delta)
		}
		return nil
	})
	if err != nil {
		return model.DailyAreaEntry{}, err
	}
	return entry, nil
}

// AddStars records delta for today in the area inferred from reason. See
// ClassifyReason for how the area is chosen.
func (e *Engine) AddStars(childID string, delta int, reason string) (model.DailyAreaEntry, error) {
	return e.AddStarsToArea(childID, ClassifyReason(reason), delta, reason, "")
}

// addStars folds delta into the entry and the total and queues the new value.
func (e *Engine) addStars(tx *txn, childID string, area model.StarArea, delta int, reason, dayDate string) model.DailyAreaEntry {
	existing, _ := tx.cache.Entry(childID, dayDate, area)
	entry := model.DailyAreaEntry{
		Stars:     existing.Stars + delta,
		Reason:    reason,
		UpdatedAt: e.now(),
	}
	tx.cache.SetEntry(childID, dayDate, area, entry)
	tx.cache.Totals[childID] += delta
	e.enqueue(tx, childID, dayDate, area, entry)
	return entry
}

// GetStarsForArea returns the stars recorded for one area on dayDate
// (today when empty), or 0.
func (e *Engine) GetStarsForArea(childID string, area model.StarArea, dayDate string) int {
	d, err := e.resolveDay(dayDate)
	if err != nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	entry, _ := e.cache.Entry(childID, d, area)
	return entry.Stars
}

// GetStarsForDay sums every area recorded for the child on dayDate.
func (e *Engine) GetStarsForDay(childID, dayDate string) model.DayStars {
	result := model.DayStars{ByArea: map[model.StarArea]int{}}
	d, err := e.resolveDay(dayDate)
	if err != nil {
		return result
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for area, entry := range e.cache.DailyStars[childID][d] {
		result.ByArea[area] = entry.Stars
		result.Total += entry.Stars
	}
	return result
}

// GetTotalStars returns the child's running total, or 0.
func (e *Engine) GetTotalStars(childID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Totals[childID]
}

// GetRecentStarHistory returns exactly days entries, oldest first, ending
// today. Days without data report a total of 0.
func (e *Engine) GetRecentStarHistory(childID string, days int) []model.DayTotal {
	dates := e.cal.LastDays(days)

	e.mu.Lock()
	defer e.mu.Unlock()

	history := make([]model.DayTotal, len(dates))
	for i, d := range dates {
		total := 0
		for _, entry := range e.cache.DailyStars[childID][d] {
			total += entry.Stars
		}
		history[i] = model.DayTotal{Date: d, Total: total}
	}
	return history
}

// RecalculateTotals recomputes the child's total from its entries, stores it
// and returns it. A child without data gets a total of 0.
func (e *Engine) RecalculateTotals(childID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total int
	err := e.mutate(func(tx *txn) error {
		total = recalculate(tx.cache, childID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func recalculate(c *model.StarCache, childID string) int {
	total := c.SumStars(childID)
	c.Totals[childID] = total
	return total
}

// SpendStars deducts amount from the child's balance by recording a negative
// bonus entry for today. When the balance is too small nothing changes and
// ErrInsufficientBalance is returned alongside an unsuccessful result.
func (e *Engine) SpendStars(childID string, amount int, reason string) (SpendResult, error) {
	if amount <= 0 {
		return SpendResult{Success: false, Error: ErrInvalidAmount.Error()}, ErrInvalidAmount
	}
	if childID == "" {
		return SpendResult{Success: false, Error: ErrUnknownChild.Error()}, fmt.Errorf("%w: empty id", ErrUnknownChild)
	}
	today := e.cal.Today()

	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.cache.Totals[childID]
	if amount > total {
		return SpendResult{Success: false, NewTotal: total, Error: insufficientStarsMessage}, ErrInsufficientBalance
	}

	err := e.mutate(func(tx *txn) error {
		e.addStars(tx, childID, model.AreaBonus, -amount, reason, today)
		return nil
	})
	if err != nil {
		return SpendResult{Success: false, NewTotal: total, Error: err.Error()}, err
	}
	return SpendResult{Success: true, NewTotal: e.cache.Totals[childID]}, nil
}
