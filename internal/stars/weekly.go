package stars

import (
	"github.com/dukerupert/starchart/internal/model"
)

const weeklyBonusReason = "Weekly goal bonus"

// trackWeekly adds a positive delta to the child's weekly tracker when
// dayDate falls in the current week. A tracker left over from an earlier
// week is reset first.
func (e *Engine) trackWeekly(tx *txn, childID, dayDate string, delta int) {
	current := e.cal.WeekStart(e.now())
	t, err := e.cal.Parse(dayDate)
	if err != nil || e.cal.WeekStart(t) != current {
		return
	}

	tracker := currentTracker(tx.cache, childID, current)
	tracker.Stars += delta
	tx.cache.Weekly[childID] = tracker
}

func currentTracker(c *model.StarCache, childID, weekStart string) model.WeeklyStarTracker {
	tracker, ok := c.Weekly[childID]
	if !ok || tracker.WeekStart != weekStart {
		return model.WeeklyStarTracker{WeekStart: weekStart}
	}
	return tracker
}

// GetWeeklyTracker returns the child's tracker for the current week.
func (e *Engine) GetWeeklyTracker(childID string) model.WeeklyStarTracker {
	current := e.cal.WeekStart(e.now())

	e.mu.Lock()
	defer e.mu.Unlock()
	return currentTracker(e.cache, childID, current)
}

// ConvertWeeklyBonus awards bonus stars once per week when the child has
// earned at least goal stars this week. The bonus goes through the normal
// accounting path and does not count toward the tracker. It reports whether a
// conversion happened.
func (e *Engine) ConvertWeeklyBonus(childID string, goal, bonus int) (bool, error) {
	if goal <= 0 || bonus <= 0 {
		return false, ErrInvalidAmount
	}
	current := e.cal.WeekStart(e.now())
	today := e.cal.Today()

	e.mu.Lock()
	defer e.mu.Unlock()

	tracker := currentTracker(e.cache, childID, current)
	if tracker.Converted || tracker.Stars < goal {
		return false, nil
	}

	err := e.mutate(func(tx *txn) error {
		tracker.Converted = true
		tx.cache.Weekly[childID] = tracker
		e.addStars(tx, childID, model.AreaBonus, bonus, weeklyBonusReason, today)
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
