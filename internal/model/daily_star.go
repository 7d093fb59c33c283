package model

import "time"

// DailyStarRow is one row of the remote daily_stars table. The change feed
// delivers rows in the same shape.
type DailyStarRow struct {
	ChildID    string    `json:"child_id"`
	DayDate    string    `json:"day_date"`
	StarAreaID StarArea  `json:"star_area_id"`
	Stars      int       `json:"stars"`
	Reason     string    `json:"reason"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Entry converts the row to its local cache representation.
func (r DailyStarRow) Entry() DailyAreaEntry {
	return DailyAreaEntry{Stars: r.Stars, Reason: r.Reason, UpdatedAt: r.UpdatedAt}
}

type MutationType string

const MutationUpsertDailyStars MutationType = "UPSERT_DAILY_STARS"

// PendingMutation is a local write not yet acknowledged by the remote store.
// Stars carries the entry's running value, not the delta.
type PendingMutation struct {
	ID            string       `json:"id"`
	Type          MutationType `json:"type"`
	ChildID       string       `json:"childId"`
	DayDate       string       `json:"dayDate"`
	StarAreaID    StarArea     `json:"starAreaId"`
	Stars         int          `json:"stars"`
	Reason        string       `json:"reason"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	QueuedAt      time.Time    `json:"queuedAt"`
	RetryCount    int          `json:"retryCount"`
	LastError     string       `json:"lastError,omitempty"`
	NextAttemptAt *time.Time   `json:"nextAttemptAt,omitempty"`
}

// Row returns the remote upsert payload for the mutation.
func (m PendingMutation) Row() DailyStarRow {
	return DailyStarRow{
		ChildID:    m.ChildID,
		DayDate:    m.DayDate,
		StarAreaID: m.StarAreaID,
		Stars:      m.Stars,
		Reason:     m.Reason,
		UpdatedAt:  m.UpdatedAt,
	}
}

// SyncStatus summarizes offline state for status indicators.
type SyncStatus struct {
	Pending      int        `json:"pending"`
	DeadLetters  int        `json:"dead_letters"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Syncing      bool       `json:"syncing"`
}

// StarNotification is the change-feed payload for one updated daily_stars row.
type StarNotification struct {
	ChildID    string    `json:"childId"`
	DayDate    string    `json:"dayDate"`
	StarAreaID StarArea  `json:"starAreaId"`
	Stars      int       `json:"stars"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (n StarNotification) Row() DailyStarRow {
	return DailyStarRow{
		ChildID:    n.ChildID,
		DayDate:    n.DayDate,
		StarAreaID: n.StarAreaID,
		Stars:      n.Stars,
		Reason:     n.Reason,
		UpdatedAt:  n.UpdatedAt,
	}
}

// Notification converts the row to its change-feed payload.
func (r DailyStarRow) Notification() StarNotification {
	return StarNotification{
		ChildID:    r.ChildID,
		DayDate:    r.DayDate,
		StarAreaID: r.StarAreaID,
		Stars:      r.Stars,
		Reason:     r.Reason,
		UpdatedAt:  r.UpdatedAt,
	}
}
