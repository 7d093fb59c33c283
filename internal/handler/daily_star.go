package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/store"
	"github.com/dukerupert/starchart/internal/websocket"
)

// DailyStarHandler serves the hub's daily_stars table.
type DailyStarHandler struct {
	store  *store.DailyStarStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewDailyStarHandler(s *store.DailyStarStore, hub *websocket.Hub, logger *slog.Logger) *DailyStarHandler {
	return &DailyStarHandler{store: s, hub: hub, logger: logger}
}

func (h *DailyStarHandler) List(w http.ResponseWriter, r *http.Request) {
	childID := strings.TrimSpace(r.URL.Query().Get("child_id"))
	if childID == "" {
		writeError(w, http.StatusBadRequest, "child_id is required")
		return
	}

	rows, err := h.store.ListByChild(childID)
	if err != nil {
		h.logger.Error("list daily stars", "child_id", childID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list daily stars")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *DailyStarHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ListChildIDs()
	if err != nil {
		h.logger.Error("list children", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list children")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// Upsert stores the row by (child_id, day_date, star_area_id) and broadcasts
// the change to subscribed devices.
func (h *DailyStarHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var row model.DailyStarRow
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	row.ChildID = strings.TrimSpace(row.ChildID)
	switch {
	case row.ChildID == "":
		writeError(w, http.StatusBadRequest, "child_id is required")
		return
	case !day.Valid(row.DayDate):
		writeError(w, http.StatusBadRequest, "day_date must be YYYY-MM-DD")
		return
	case !row.StarAreaID.Valid():
		writeError(w, http.StatusBadRequest, "unknown star_area_id")
		return
	case row.UpdatedAt.IsZero():
		writeError(w, http.StatusBadRequest, "updated_at is required")
		return
	}

	saved, applied, err := h.store.Upsert(row)
	if err != nil {
		h.logger.Error("upsert daily stars", "child_id", row.ChildID, "day", row.DayDate, "area", row.StarAreaID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save daily stars")
		return
	}

	// A stale write leaves the row alone; devices already hold the newer one.
	if applied && h.hub != nil {
		msg, err := websocket.NewMessage("daily_star", "upserted", saved.ChildID, saved.Notification())
		if err != nil {
			h.logger.Error("build change message", "error", err)
		} else {
			h.hub.Broadcast(msg)
		}
	}

	writeJSON(w, http.StatusOK, saved)
}
