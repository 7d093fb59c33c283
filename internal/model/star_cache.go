package model

import "time"

// StarCache is the local snapshot of every child's star breakdown.
// DailyStars is keyed child -> day -> area.
type StarCache struct {
	SchemaVersion int                                                `json:"schemaVersion"`
	DailyStars    map[string]map[string]map[StarArea]DailyAreaEntry `json:"dailyStars"`
	Totals        map[string]int                                     `json:"totals"`
	Weekly        map[string]WeeklyStarTracker                       `json:"weekly,omitempty"`
	LastSyncedAt  *time.Time                                         `json:"lastSyncedAt"`
}

// NewStarCache returns an empty cache stamped with version.
func NewStarCache(version int) *StarCache {
	c := &StarCache{SchemaVersion: version}
	c.ensureMaps()
	return c
}

func (c *StarCache) ensureMaps() {
	if c.DailyStars == nil {
		c.DailyStars = make(map[string]map[string]map[StarArea]DailyAreaEntry)
	}
	if c.Totals == nil {
		c.Totals = make(map[string]int)
	}
	if c.Weekly == nil {
		c.Weekly = make(map[string]WeeklyStarTracker)
	}
}

// Normalize allocates any nil maps left behind by decoding.
func (c *StarCache) Normalize() {
	c.ensureMaps()
}

// Entry returns the entry for a key and whether it exists.
func (c *StarCache) Entry(childID, dayDate string, area StarArea) (DailyAreaEntry, bool) {
	e, ok := c.DailyStars[childID][dayDate][area]
	return e, ok
}

// SetEntry stores an entry, creating intermediate maps as needed. It does not
// touch Totals.
func (c *StarCache) SetEntry(childID, dayDate string, area StarArea, e DailyAreaEntry) {
	c.ensureMaps()
	days, ok := c.DailyStars[childID]
	if !ok {
		days = make(map[string]map[StarArea]DailyAreaEntry)
		c.DailyStars[childID] = days
	}
	areas, ok := days[dayDate]
	if !ok {
		areas = make(map[StarArea]DailyAreaEntry)
		days[dayDate] = areas
	}
	areas[area] = e
}

// SumStars adds up every entry recorded for a child.
func (c *StarCache) SumStars(childID string) int {
	sum := 0
	for _, areas := range c.DailyStars[childID] {
		for _, e := range areas {
			sum += e.Stars
		}
	}
	return sum
}

// HasDays reports whether any child has at least one recorded day.
func (c *StarCache) HasDays() bool {
	for _, days := range c.DailyStars {
		if len(days) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *StarCache) Clone() *StarCache {
	out := &StarCache{SchemaVersion: c.SchemaVersion}
	out.ensureMaps()
	for child, days := range c.DailyStars {
		dst := make(map[string]map[StarArea]DailyAreaEntry, len(days))
		for d, areas := range days {
			a := make(map[StarArea]DailyAreaEntry, len(areas))
			for k, v := range areas {
				a[k] = v
			}
			dst[d] = a
		}
		out.DailyStars[child] = dst
	}
	for k, v := range c.Totals {
		out.Totals[k] = v
	}
	for k, v := range c.Weekly {
		out.Weekly[k] = v
	}
	if c.LastSyncedAt != nil {
		t := *c.LastSyncedAt
		out.LastSyncedAt = &t
	}
	return out
}
