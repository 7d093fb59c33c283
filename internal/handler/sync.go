package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/starchart/internal/backup"
	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/realtime"
	"github.com/dukerupert/starchart/internal/stars"
	"github.com/dukerupert/starchart/internal/syncer"
)

// SyncHandler exposes sync, migration and backup controls.
type SyncHandler struct {
	engine      *stars.Engine
	coordinator *syncer.Coordinator
	listener    *realtime.Listener
	backups     *backup.Manager
	logger      *slog.Logger
}

// NewSyncHandler creates a SyncHandler. listener and backups may be nil.
func NewSyncHandler(engine *stars.Engine, c *syncer.Coordinator, l *realtime.Listener, b *backup.Manager, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{engine: engine, coordinator: c, listener: l, backups: b, logger: logger}
}

type statusResponse struct {
	model.SyncStatus
	Realtime *realtime.Stats `json:"realtime,omitempty"`
	Backup   *backup.Status  `json:"backup,omitempty"`
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{SyncStatus: h.coordinator.Status()}
	if h.listener != nil {
		s := h.listener.Stats()
		resp.Realtime = &s
	}
	if h.backups != nil {
		s := h.backups.Status()
		resp.Backup = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SyncHandler) Flush(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.FlushPendingQueue(r.Context()))
}

func (h *SyncHandler) FullSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Children []string `json:"children"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.coordinator.PerformFullSync(r.Context(), req.Children)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SyncHandler) Pending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.PendingMutations())
}

func (h *SyncHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.DeadLetters())
}

func (h *SyncHandler) RequeueDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RequeueDeadLetters()
	if err != nil {
		h.logger.Error("requeue dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to requeue dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

// Migrate imports a legacy flat star log. It only runs on an empty cache.
func (h *SyncHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	var req model.LegacyExport
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	cache, err := h.engine.ImportLegacy(req.Entries, req.Children)
	if errors.Is(err, stars.ErrAlreadyMigrated) {
		writeError(w, http.StatusConflict, "star data already migrated")
		return
	}
	if err != nil {
		h.logger.Error("import legacy star log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to migrate star log")
		return
	}

	h.logger.Info("legacy star log migrated", "entries", len(req.Entries), "children", len(cache.Totals))
	writeJSON(w, http.StatusOK, map[string]any{"migrated": true, "totals": cache.Totals})
}

func (h *SyncHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, http.StatusServiceUnavailable, backup.ErrNotConfigured.Error())
		return
	}
	objects, err := h.backups.List(r.Context())
	if err != nil {
		h.writeBackupError(w, "list backups", err)
		return
	}
	if objects == nil {
		objects = []backup.Object{}
	}
	writeJSON(w, http.StatusOK, objects)
}

func (h *SyncHandler) Backup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, http.StatusServiceUnavailable, backup.ErrNotConfigured.Error())
		return
	}
	obj, err := h.backups.RunNow(r.Context())
	if err != nil {
		h.writeBackupError(w, "run backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}

func (h *SyncHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, http.StatusServiceUnavailable, backup.ErrNotConfigured.Error())
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.backups.Restore(r.Context(), req.Key); err != nil {
		h.writeBackupError(w, "restore backup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (h *SyncHandler) writeBackupError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, backup.ErrNoBackups):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backup.ErrBadPassphrase):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusBadGateway, "failed to "+op)
	}
}
