package stars

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/model"
)

func legacyLog() []model.LegacyStarEntry {
	return []model.LegacyStarEntry{
		{ChildID: "bria", Amount: 2, Reason: "Morning routine", Timestamp: time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)},
		{ChildID: "bria", Amount: 1, Reason: "BEDTIME on time", Timestamp: time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC)},
		{ChildID: "bria", Amount: 3, Reason: "Did chores", Timestamp: time.Date(2024, 1, 11, 15, 0, 0, 0, time.UTC)},
		{ChildID: "bria", Amount: 1, Reason: "Morning stretch", Timestamp: time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)},
		{ChildID: "naya", Amount: 5, Reason: "Was kind", Timestamp: time.Date(2024, 1, 12, 1, 0, 0, 0, time.UTC)},
		{ChildID: "naya", Amount: -2, Reason: "Spent on toy", Timestamp: time.Date(2024, 1, 12, 2, 0, 0, 0, time.UTC)},
	}
}

func TestMigrateFromOldStarLog(t *testing.T) {
	cal := day.NewWithClock(time.UTC, func() time.Time { return testNow })

	c := MigrateFromOldStarLog(legacyLog(), map[string]int{"bria": 8, "naya": 3, "kai": 4}, cal, testNow)

	if c.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schemaVersion = %d, want %d", c.SchemaVersion, CurrentSchemaVersion)
	}
	morning, _ := c.Entry("bria", "2024-01-10", model.AreaMorning)
	if morning.Stars != 3 {
		t.Errorf("bria morning = %d, want 3", morning.Stars)
	}
	if morning.Reason != "Morning stretch" {
		t.Errorf("reason = %q, want latest legacy reason", morning.Reason)
	}
	if e, _ := c.Entry("bria", "2024-01-10", model.AreaBedtime); e.Stars != 1 {
		t.Errorf("bria bedtime = %d, want 1", e.Stars)
	}
	if e, _ := c.Entry("bria", "2024-01-11", model.AreaChores); e.Stars != 3 {
		t.Errorf("bria chores = %d, want 3", e.Stars)
	}
	if e, _ := c.Entry("naya", "2024-01-12", model.AreaBonus); e.Stars != 3 {
		t.Errorf("naya bonus = %d, want 3", e.Stars)
	}

	// Known totals are trusted
	if c.Totals["bria"] != 8 || c.Totals["naya"] != 3 || c.Totals["kai"] != 4 {
		t.Errorf("totals = %v, want bria:8 naya:3 kai:4", c.Totals)
	}
	// and a balancing entry on the earliest migrated day keeps entries and
	// total in agreement without touching recent days
	adj, ok := c.Entry("bria", "2024-01-10", model.AreaBonus)
	if !ok || adj.Stars != 1 || adj.Reason != "Legacy balance adjustment" {
		t.Errorf("adjustment = %+v (ok=%v), want +1 legacy adjustment on 2024-01-10", adj, ok)
	}
	if _, ok := c.Entry("bria", "2024-01-15", model.AreaBonus); ok {
		t.Error("expected no adjustment dated today for bria")
	}
	// A child with no history can only be balanced today
	if e, ok := c.Entry("kai", "2024-01-15", model.AreaBonus); !ok || e.Stars != 4 {
		t.Errorf("kai adjustment = %+v (ok=%v), want 4 today", e, ok)
	}
	for child, total := range c.Totals {
		if sum := c.SumStars(child); sum != total {
			t.Errorf("%s sum = %d, total = %d", child, sum, total)
		}
	}
	if _, ok := c.Entry("naya", "2024-01-15", model.AreaBonus); ok {
		t.Error("expected no adjustment when totals already agree")
	}
}

func TestMigrateUsesReferenceTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	cal := day.NewWithClock(loc, func() time.Time { return testNow })

	log := []model.LegacyStarEntry{
		{ChildID: "bria", Amount: 1, Reason: "bedtime", Timestamp: time.Date(2024, 1, 11, 3, 0, 0, 0, time.UTC)},
	}
	c := MigrateFromOldStarLog(log, nil, cal, testNow)

	if _, ok := c.Entry("bria", "2024-01-10", model.AreaBedtime); !ok {
		t.Error("expected 03:00 UTC entry to land on the previous Denver day")
	}
	if c.Totals["bria"] != 1 {
		t.Errorf("total = %d, want 1", c.Totals["bria"])
	}
}

func TestImportLegacyRunsOnce(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if !e.NeedsMigration() {
		t.Fatal("expected fresh engine to need migration")
	}
	c, err := e.ImportLegacy(legacyLog(), map[string]int{"bria": 7, "naya": 3})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if c.Totals["bria"] != 7 {
		t.Errorf("returned total = %d, want 7", c.Totals["bria"])
	}
	if got := e.GetTotalStars("bria"); got != 7 {
		t.Errorf("engine total = %d, want 7", got)
	}
	if e.NeedsMigration() {
		t.Error("expected migration to be complete")
	}

	if _, err := e.ImportLegacy(legacyLog(), nil); !errors.Is(err, ErrAlreadyMigrated) {
		t.Errorf("err = %v, want ErrAlreadyMigrated", err)
	}
}
