package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/starchart/internal/model"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSchedulerInitialSyncAndNudge(t *testing.T) {
	c, engine, remote, _ := setupCoordinator(t, Config{})
	engine.AddStarsToArea("bria", model.AreaMorning, 1, "", "")

	s := NewScheduler(c, time.Hour, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	// Initial full sync pushes what was queued before start
	waitFor(t, func() bool { return engine.LastSyncedAt() != nil })
	if engine.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", engine.PendingCount())
	}

	engine.AddStarsToArea("bria", model.AreaBedtime, 2, "", "")
	s.Nudge()
	s.Nudge()
	waitFor(t, func() bool { return engine.PendingCount() == 0 })

	if _, ok := remote.get("bria", "2024-01-15", model.AreaBedtime); !ok {
		t.Error("expected nudged flush to push bedtime")
	}
}

func TestSchedulerFlushTicker(t *testing.T) {
	c, engine, _, _ := setupCoordinator(t, Config{})

	s := NewScheduler(c, 10*time.Millisecond, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return engine.LastSyncedAt() != nil })
	engine.AddStarsToArea("bria", model.AreaChores, 1, "", "")
	waitFor(t, func() bool { return engine.PendingCount() == 0 })
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	c, _, _, _ := setupCoordinator(t, Config{})
	s := NewScheduler(c, 0, 0)
	// Should not block or panic
	s.Stop()
}

func TestSchedulerRequestSync(t *testing.T) {
	c, engine, remote, clock := setupCoordinator(t, Config{})
	engine.AddStarsToArea("bria", model.AreaMorning, 1, "", "")

	s := NewScheduler(c, time.Hour, time.Hour)
	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, func() bool { return engine.LastSyncedAt() != nil })

	remote.put(model.DailyStarRow{ChildID: "bria", DayDate: "2024-01-15", StarAreaID: model.AreaTimer, Stars: 2, UpdatedAt: testNow})
	clock.Advance(time.Minute)
	s.RequestSync()
	waitFor(t, func() bool { return engine.GetStarsForArea("bria", model.AreaTimer, "2024-01-15") == 2 })
}
