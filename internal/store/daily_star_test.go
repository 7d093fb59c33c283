package store

import (
	"testing"
	"time"

	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/model"
)

func setupDailyStarTestDB(t *testing.T) *DailyStarStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDailyStarStore(db)
}

func TestDailyStarUpsert(t *testing.T) {
	ds := setupDailyStarTestDB(t)
	t1 := time.Date(2024, 1, 15, 8, 0, 0, 123456789, time.UTC)

	got, applied, err := ds.Upsert(model.DailyStarRow{
		ChildID: "bria", DayDate: "2024-01-15", StarAreaID: model.AreaMorning,
		Stars: 2, Reason: "Brushed teeth 🦷", UpdatedAt: t1,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !applied || got.Stars != 2 {
		t.Errorf("stars = %d applied = %v, want 2 applied", got.Stars, applied)
	}
	if got.Reason != "Brushed teeth 🦷" {
		t.Errorf("reason = %q, want %q", got.Reason, "Brushed teeth 🦷")
	}
	if !got.UpdatedAt.Equal(t1) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, t1)
	}

	// Same key overwrites rather than duplicating
	t2 := t1.Add(time.Minute)
	got, applied, err = ds.Upsert(model.DailyStarRow{
		ChildID: "bria", DayDate: "2024-01-15", StarAreaID: model.AreaMorning,
		Stars: 5, Reason: "more", UpdatedAt: t2,
	})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if !applied || got.Stars != 5 {
		t.Errorf("stars = %d applied = %v, want 5 applied", got.Stars, applied)
	}

	rows, err := ds.ListByChild("bria")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestDailyStarUpsertKeepsNewerRow(t *testing.T) {
	ds := setupDailyStarTestDB(t)
	newer := time.Date(2024, 1, 15, 17, 0, 1, 0, time.UTC)
	key := model.DailyStarRow{ChildID: "bria", DayDate: "2024-01-15", StarAreaID: model.AreaMorning}

	row := key
	row.Stars, row.UpdatedAt = 2, newer
	if _, _, err := ds.Upsert(row); err != nil {
		t.Fatalf("upsert newer: %v", err)
	}

	// Older and equal timestamps, including a fractional second that sorts
	// before the whole one, must not replace it.
	for _, at := range []time.Time{newer.Add(-time.Second), newer.Add(-500 * time.Millisecond), newer} {
		stale := key
		stale.Stars, stale.UpdatedAt = 1, at
		got, applied, err := ds.Upsert(stale)
		if err != nil {
			t.Fatalf("upsert stale %v: %v", at, err)
		}
		if applied {
			t.Errorf("upsert at %v applied, want rejected", at)
		}
		if got.Stars != 2 || !got.UpdatedAt.Equal(newer) {
			t.Errorf("stored = %d at %v, want 2 at %v", got.Stars, got.UpdatedAt, newer)
		}
	}

	later := key
	later.Stars, later.UpdatedAt = 7, newer.Add(time.Millisecond)
	got, applied, err := ds.Upsert(later)
	if err != nil {
		t.Fatalf("upsert later: %v", err)
	}
	if !applied || got.Stars != 7 {
		t.Errorf("stored = %d applied = %v, want 7 applied", got.Stars, applied)
	}
}

func TestDailyStarListByChild(t *testing.T) {
	ds := setupDailyStarTestDB(t)
	now := time.Now().UTC()

	ds.Upsert(model.DailyStarRow{ChildID: "bria", DayDate: "2024-01-16", StarAreaID: model.AreaChores, Stars: 1, UpdatedAt: now})
	ds.Upsert(model.DailyStarRow{ChildID: "bria", DayDate: "2024-01-15", StarAreaID: model.AreaBedtime, Stars: 1, UpdatedAt: now})
	ds.Upsert(model.DailyStarRow{ChildID: "naya", DayDate: "2024-01-15", StarAreaID: model.AreaBedtime, Stars: 3, UpdatedAt: now})

	rows, err := ds.ListByChild("bria")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].DayDate != "2024-01-15" {
		t.Errorf("rows[0].DayDate = %q, want %q", rows[0].DayDate, "2024-01-15")
	}

	empty, err := ds.ListByChild("nobody")
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected 0 rows, got %d", len(empty))
	}

	ids, err := ds.ListChildIDs()
	if err != nil {
		t.Fatalf("list child ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "bria" || ids[1] != "naya" {
		t.Errorf("child ids = %v, want [bria naya]", ids)
	}
}

func TestDailyStarRejectsUnknownArea(t *testing.T) {
	ds := setupDailyStarTestDB(t)

	_, _, err := ds.Upsert(model.DailyStarRow{
		ChildID: "bria", DayDate: "2024-01-15", StarAreaID: model.StarArea("recess"),
		Stars: 1, UpdatedAt: time.Now(),
	})
	if err == nil {
		t.Error("expected error for unknown star area")
	}
}

func TestDailyStarGetMissing(t *testing.T) {
	ds := setupDailyStarTestDB(t)

	got, err := ds.Get("bria", "2024-01-15", model.AreaMorning)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing row")
	}
}
