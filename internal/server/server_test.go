package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/starchart/internal/backup"
	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/realtime"
	"github.com/dukerupert/starchart/internal/remote"
	"github.com/dukerupert/starchart/internal/stars"
	"github.com/dukerupert/starchart/internal/store"
	"github.com/dukerupert/starchart/internal/syncer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupHub(t *testing.T, token string) (*httptest.Server, *Hub) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open hub db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewHub(db, HubConfig{Token: token}, quietLogger())
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts, h
}

type device struct {
	engine      *stars.Engine
	coordinator *syncer.Coordinator
	listener    *realtime.Listener
	api         http.Handler
}

func setupDevice(t *testing.T, hubURL, token string, now func() time.Time) *device {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open device db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine, err := stars.Open(store.NewKVStore(db), stars.Config{
		Children: []string{"bria"},
		Calendar: day.NewWithClock(time.UTC, now),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}

	client := remote.NewClient(remote.Config{BaseURL: hubURL, Token: token})
	c := syncer.New(engine, client, syncer.Config{Logger: quietLogger(), Now: now})

	feed, err := realtime.FeedURL(hubURL)
	if err != nil {
		t.Fatalf("feed url: %v", err)
	}
	l := realtime.New(engine, realtime.Config{URL: feed, Token: token, MinBackoff: 10 * time.Millisecond, Logger: quietLogger()})

	b := backup.NewManager(backup.Config{Logger: quietLogger()}, engine)
	d := NewDevice(engine, c, nil, l, b, DeviceConfig{WeeklyGoal: 10, WeeklyBonus: 2}, quietLogger())
	return &device{engine: engine, coordinator: c, listener: l, api: d.Router()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHubHealthAndAuth(t *testing.T) {
	ts, _ := setupHub(t, "s3cret")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/daily-stars?child_id=bria")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
}

func TestTwoDevicesConverge(t *testing.T) {
	ts, hub := setupHub(t, "s3cret")

	clock := time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	kitchen := setupDevice(t, ts.URL, "s3cret", now)
	tablet := setupDevice(t, ts.URL, "s3cret", func() time.Time { return clock.Add(time.Second) })

	ctx := context.Background()
	tablet.listener.Start(ctx)
	defer tablet.listener.Stop()
	waitFor(t, func() bool { return hub.Subscribers() == 1 })

	// Kitchen awards stars through its local API and flushes
	req := httptest.NewRequest("POST", "/api/children/bria/stars", strings.NewReader(`{"area":"chores","delta":3,"reason":"dishes"}`))
	rec := httptest.NewRecorder()
	kitchen.api.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add stars status = %d: %s", rec.Code, rec.Body)
	}
	if res := kitchen.coordinator.FlushPendingQueue(ctx); res.Synced != 1 {
		t.Fatalf("flush = %+v, want 1 synced", res)
	}

	// Tablet hears about it over the change feed
	waitFor(t, func() bool { return tablet.engine.GetTotalStars("bria") == 3 })
	if got := tablet.engine.PendingCount(); got != 0 {
		t.Errorf("tablet pending = %d, want 0 (remote changes are not re-queued)", got)
	}

	// Tablet writes a later value offline, then reconciles
	tablet.listener.Stop()
	tablet.engine.AddStarsToArea("bria", model.AreaBedtime, 2, "lights out", "")
	if _, err := tablet.coordinator.PerformFullSync(ctx, nil); err != nil {
		t.Fatalf("tablet full sync: %v", err)
	}
	if _, err := kitchen.coordinator.PerformFullSync(ctx, nil); err != nil {
		t.Fatalf("kitchen full sync: %v", err)
	}

	for name, d := range map[string]*device{"kitchen": kitchen, "tablet": tablet} {
		if got := d.engine.GetTotalStars("bria"); got != 5 {
			t.Errorf("%s total = %d, want 5", name, got)
		}
		if d.engine.LastSyncedAt() == nil {
			t.Errorf("%s lastSyncedAt not set", name)
		}
	}

	// Sync status over the device API
	rec = httptest.NewRecorder()
	kitchen.api.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sync/status", nil))
	var status model.SyncStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Pending != 0 || status.LastSyncedAt == nil {
		t.Errorf("status = %+v", status)
	}
}

func TestDeviceHealth(t *testing.T) {
	ts, _ := setupHub(t, "")
	d := setupDevice(t, ts.URL, "", time.Now)
	d.engine.AddStarsToArea("bria", model.AreaMorning, 1, "", "")

	rec := httptest.NewRecorder()
	d.api.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" || body["pending"] != float64(1) {
		t.Errorf("health = %v", body)
	}
}
