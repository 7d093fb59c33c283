package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/logging"
	"github.com/dukerupert/starchart/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("STARHUB_LOG_LEVEL"), os.Getenv("STARHUB_LOG_FORMAT"))

	port := os.Getenv("STARHUB_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("STARHUB_DB_PATH")
	if dbPath == "" {
		dbPath = "starhub.db"
	}

	writeLimit, _ := strconv.Atoi(os.Getenv("STARHUB_WRITE_LIMIT"))

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	token := os.Getenv("STARHUB_TOKEN")
	if token == "" {
		slog.Warn("STARHUB_TOKEN not set, API is unauthenticated")
	}

	srv := server.NewHub(db, server.HubConfig{Token: token, WriteLimit: writeLimit}, logger)

	// No WriteTimeout: change feed connections stay open.
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("starhub starting", "addr", ":"+port, "db", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
