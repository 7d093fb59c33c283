package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/stars"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 366
)

// StarHandler exposes the star accounting engine to the device UI.
type StarHandler struct {
	engine      *stars.Engine
	weeklyGoal  int
	weeklyBonus int
	// onChange runs after every local write so queued mutations go out soon.
	onChange func()
	logger   *slog.Logger
}

func NewStarHandler(engine *stars.Engine, weeklyGoal, weeklyBonus int, onChange func(), logger *slog.Logger) *StarHandler {
	return &StarHandler{
		engine:      engine,
		weeklyGoal:  weeklyGoal,
		weeklyBonus: weeklyBonus,
		onChange:    onChange,
		logger:      logger,
	}
}

func (h *StarHandler) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

// child returns the {child} path value, writing a 404 for unknown children.
func (h *StarHandler) child(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("child")
	if !h.engine.KnownChild(id) {
		writeError(w, http.StatusNotFound, "child not found")
		return "", false
	}
	return id, true
}

type summaryResponse struct {
	ChildID string                  `json:"child_id"`
	Total   int                     `json:"total"`
	Today   model.DayStars          `json:"today"`
	Weekly  model.WeeklyStarTracker `json:"weekly"`
}

// Summary returns the child's running total and today's breakdown.
func (h *StarHandler) Summary(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		ChildID: childID,
		Total:   h.engine.GetTotalStars(childID),
		Today:   h.engine.GetStarsForDay(childID, ""),
		Weekly:  h.engine.GetWeeklyTracker(childID),
	})
}

func (h *StarHandler) Day(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	d := r.PathValue("day")
	if !day.Valid(d) {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Date string `json:"date"`
		model.DayStars
	}{d, h.engine.GetStarsForDay(childID, d)})
}

func (h *StarHandler) History(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxHistoryDays {
			writeError(w, http.StatusBadRequest, "days must be between 0 and 366")
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, h.engine.GetRecentStarHistory(childID, days))
}

type addStarsRequest struct {
	// Area is inferred from Reason when empty.
	Area   model.StarArea `json:"area"`
	Delta  int            `json:"delta"`
	Reason string         `json:"reason"`
	Day    string         `json:"day"`
}

type addStarsResponse struct {
	Area  model.StarArea       `json:"area"`
	Entry model.DailyAreaEntry `json:"entry"`
	Total int                  `json:"total"`
}

func (h *StarHandler) Add(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	var req addStarsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Area == "" {
		req.Area = stars.ClassifyReason(req.Reason)
	}

	entry, err := h.engine.AddStarsToArea(childID, req.Area, req.Delta, req.Reason, req.Day)
	if err != nil {
		h.writeEngineError(w, "add stars", err)
		return
	}
	h.changed()

	writeJSON(w, http.StatusCreated, addStarsResponse{
		Area:  req.Area,
		Entry: entry,
		Total: h.engine.GetTotalStars(childID),
	})
}

func (h *StarHandler) Spend(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.engine.SpendStars(childID, req.Amount, req.Reason)
	switch {
	case errors.Is(err, stars.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, res)
		return
	case errors.Is(err, stars.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, res)
		return
	case err != nil:
		h.writeEngineError(w, "spend stars", err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, res)
}

func (h *StarHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	total, err := h.engine.RecalculateTotals(childID)
	if err != nil {
		h.writeEngineError(w, "recalculate totals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

type weeklyResponse struct {
	model.WeeklyStarTracker
	Goal  int `json:"goal"`
	Bonus int `json:"bonus"`
}

func (h *StarHandler) Weekly(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, weeklyResponse{
		WeeklyStarTracker: h.engine.GetWeeklyTracker(childID),
		Goal:              h.weeklyGoal,
		Bonus:             h.weeklyBonus,
	})
}

func (h *StarHandler) ConvertWeekly(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}
	if h.weeklyGoal <= 0 || h.weeklyBonus <= 0 {
		writeError(w, http.StatusBadRequest, "weekly goal is not configured")
		return
	}

	converted, err := h.engine.ConvertWeeklyBonus(childID, h.weeklyGoal, h.weeklyBonus)
	if err != nil {
		h.writeEngineError(w, "convert weekly bonus", err)
		return
	}
	if converted {
		h.changed()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"converted": converted,
		"total":     h.engine.GetTotalStars(childID),
	})
}

// writeEngineError maps engine sentinels to status codes.
func (h *StarHandler) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, stars.ErrUnknownArea),
		errors.Is(err, stars.ErrInvalidDay),
		errors.Is(err, stars.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, stars.ErrUnknownChild):
		writeError(w, http.StatusNotFound, "child not found")
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
