package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/starchart/internal/handler"
	"github.com/dukerupert/starchart/internal/middleware"
	"github.com/dukerupert/starchart/internal/store"
	ws "github.com/dukerupert/starchart/internal/websocket"
)

// HubConfig holds the hub API settings.
type HubConfig struct {
	// Token is the shared device token. Empty disables authentication.
	Token string
	// WriteLimit caps upserts per client address per minute.
	WriteLimit int
}

// Hub is the hosted daily_stars API and change feed.
type Hub struct {
	db          *sql.DB
	hub         *ws.Hub
	dailyStarH  *handler.DailyStarHandler
	rateLimiter *middleware.RateLimiter
	cfg         HubConfig
	logger      *slog.Logger
}

func NewHub(db *sql.DB, cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.WriteLimit <= 0 {
		cfg.WriteLimit = 600
	}
	hub := ws.NewHub(logger.With("component", "websocket"))
	return &Hub{
		db:          db,
		hub:         hub,
		dailyStarH:  handler.NewDailyStarHandler(store.NewDailyStarStore(db), hub, logger.With("component", "daily_stars")),
		rateLimiter: middleware.NewRateLimiter(),
		cfg:         cfg,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Hub) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Subscribers returns the number of connected devices.
func (s *Hub) Subscribers() int {
	return s.hub.ClientCount()
}

func (s *Hub) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Authenticated routes
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/daily-stars", s.dailyStarH.List)
	apiMux.HandleFunc("GET /api/children", s.dailyStarH.ListChildren)
	apiMux.Handle("PUT /api/daily-stars", middleware.RateLimit(s.rateLimiter, s.cfg.WriteLimit, time.Minute)(http.HandlerFunc(s.dailyStarH.Upsert)))
	apiMux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	outerMux.Handle("/", middleware.RequireToken(s.cfg.Token)(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Hub) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"subscribers": s.hub.ClientCount(),
	})
}
