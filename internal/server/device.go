package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/starchart/internal/backup"
	"github.com/dukerupert/starchart/internal/handler"
	"github.com/dukerupert/starchart/internal/middleware"
	"github.com/dukerupert/starchart/internal/realtime"
	"github.com/dukerupert/starchart/internal/stars"
	"github.com/dukerupert/starchart/internal/syncer"
)

// DeviceConfig holds the device API settings.
type DeviceConfig struct {
	WeeklyGoal  int
	WeeklyBonus int
}

// Device is the local API the UI calls on each device.
type Device struct {
	engine *stars.Engine
	starH  *handler.StarHandler
	syncH  *handler.SyncHandler
	logger *slog.Logger
}

// NewDevice wires the device API. scheduler, listener and backups may be nil.
func NewDevice(engine *stars.Engine, coordinator *syncer.Coordinator, scheduler *syncer.Scheduler, listener *realtime.Listener, backups *backup.Manager, cfg DeviceConfig, logger *slog.Logger) *Device {
	var onChange func()
	if scheduler != nil {
		onChange = scheduler.Nudge
	}
	return &Device{
		engine: engine,
		starH:  handler.NewStarHandler(engine, cfg.WeeklyGoal, cfg.WeeklyBonus, onChange, logger.With("component", "stars")),
		syncH:  handler.NewSyncHandler(engine, coordinator, listener, backups, logger.With("component", "sync")),
		logger: logger,
	}
}

func (s *Device) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Star accounting
	mux.HandleFunc("GET /api/children/{child}/stars", s.starH.Summary)
	mux.HandleFunc("POST /api/children/{child}/stars", s.starH.Add)
	mux.HandleFunc("GET /api/children/{child}/days/{day}", s.starH.Day)
	mux.HandleFunc("GET /api/children/{child}/history", s.starH.History)
	mux.HandleFunc("POST /api/children/{child}/spend", s.starH.Spend)
	mux.HandleFunc("POST /api/children/{child}/recalculate", s.starH.Recalculate)
	mux.HandleFunc("GET /api/children/{child}/weekly", s.starH.Weekly)
	mux.HandleFunc("POST /api/children/{child}/weekly/convert", s.starH.ConvertWeekly)

	// Sync
	mux.HandleFunc("GET /api/sync/status", s.syncH.Status)
	mux.HandleFunc("POST /api/sync/flush", s.syncH.Flush)
	mux.HandleFunc("POST /api/sync/full", s.syncH.FullSync)
	mux.HandleFunc("GET /api/sync/pending", s.syncH.Pending)
	mux.HandleFunc("GET /api/sync/dead-letters", s.syncH.DeadLetters)
	mux.HandleFunc("POST /api/sync/dead-letters/requeue", s.syncH.RequeueDeadLetters)

	// Legacy import and backups
	mux.HandleFunc("POST /api/migrate", s.syncH.Migrate)
	mux.HandleFunc("GET /api/backups", s.syncH.ListBackups)
	mux.HandleFunc("POST /api/backup", s.syncH.Backup)
	mux.HandleFunc("POST /api/backup/restore", s.syncH.RestoreBackup)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Device) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"pending": s.engine.PendingCount(),
	})
}
