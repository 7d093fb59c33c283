package model

import "time"

// StarArea is the accounting bucket a star adjustment belongs to.
type StarArea string

const (
	AreaMorning   StarArea = "morning"
	AreaBedtime   StarArea = "bedtime"
	AreaChores    StarArea = "chores"
	AreaTimer     StarArea = "timer"
	AreaBonus     StarArea = "bonus"
	AreaChallenge StarArea = "challenge"
)

// StarAreas lists every area in display order.
var StarAreas = []StarArea{AreaMorning, AreaBedtime, AreaChores, AreaTimer, AreaBonus, AreaChallenge}

// Valid reports whether a is one of the closed set of areas.
func (a StarArea) Valid() bool {
	switch a {
	case AreaMorning, AreaBedtime, AreaChores, AreaTimer, AreaBonus, AreaChallenge:
		return true
	}
	return false
}

type DailyAreaEntry struct {
	Stars     int       `json:"stars"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WeeklyStarTracker struct {
	WeekStart string `json:"weekStart"`
	Stars     int    `json:"stars"`
	Converted bool   `json:"converted"`
}

// DayStars is one child's breakdown for a single day.
type DayStars struct {
	Total  int              `json:"total"`
	ByArea map[StarArea]int `json:"byArea"`
}

// DayTotal is one point of a star history chart.
type DayTotal struct {
	Date  string `json:"date"`
	Total int    `json:"total"`
}

type LegacyStarEntry struct {
	ChildID   string    `json:"childId"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// LegacyExport is a dump of the flat star log with each child's known total.
type LegacyExport struct {
	Entries  []LegacyStarEntry `json:"entries"`
	Children map[string]int    `json:"children"`
}
