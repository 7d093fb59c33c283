package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/starchart/internal/backup"
	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/day"
	"github.com/dukerupert/starchart/internal/logging"
	"github.com/dukerupert/starchart/internal/model"
	"github.com/dukerupert/starchart/internal/realtime"
	"github.com/dukerupert/starchart/internal/remote"
	"github.com/dukerupert/starchart/internal/server"
	"github.com/dukerupert/starchart/internal/stars"
	"github.com/dukerupert/starchart/internal/store"
	"github.com/dukerupert/starchart/internal/syncer"
)

func main() {
	logger := logging.Setup(os.Getenv("STARCHART_LOG_LEVEL"), os.Getenv("STARCHART_LOG_FORMAT"))

	port := envString("STARCHART_PORT", "8081")
	dbPath := envString("STARCHART_DB_PATH", "starchart.db")
	remoteURL := os.Getenv("STARCHART_REMOTE_URL")
	remoteToken := os.Getenv("STARCHART_REMOTE_TOKEN")

	cal, err := day.New(os.Getenv("STARCHART_TIMEZONE"))
	if err != nil {
		slog.Error("invalid timezone", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, err := stars.Open(store.NewKVStore(db), stars.Config{
		Children: envList("STARCHART_CHILDREN"),
		Calendar: cal,
		Logger:   logger.With("component", "stars"),
	})
	if err != nil {
		slog.Error("failed to load star cache", "error", err)
		os.Exit(1)
	}

	if path := os.Getenv("STARCHART_LEGACY_IMPORT"); path != "" && engine.NeedsMigration() {
		if err := importLegacy(engine, path); err != nil {
			slog.Error("legacy import failed", "path", path, "error", err)
			os.Exit(1)
		}
	}

	client := remote.NewClient(remote.Config{BaseURL: remoteURL, Token: remoteToken})
	coordinator := syncer.New(engine, client, syncer.Config{
		MaxRetries: envInt("STARCHART_MAX_RETRIES", 10),
		Logger:     logger.With("component", "syncer"),
	})
	scheduler := syncer.NewScheduler(coordinator,
		envDuration("STARCHART_FLUSH_INTERVAL", 30*time.Second),
		envDuration("STARCHART_SYNC_INTERVAL", 5*time.Minute))

	var listener *realtime.Listener
	if remoteURL != "" {
		feed, err := realtime.FeedURL(remoteURL)
		if err != nil {
			slog.Error("invalid remote URL", "url", remoteURL, "error", err)
			os.Exit(1)
		}
		listener = realtime.New(engine, realtime.Config{
			URL:       feed,
			Token:     remoteToken,
			Logger:    logger.With("component", "realtime"),
			OnConnect: scheduler.RequestSync,
		})
	}

	backups := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("STARCHART_BACKUP_ENDPOINT"),
			Bucket:    os.Getenv("STARCHART_BACKUP_BUCKET"),
			Region:    os.Getenv("STARCHART_BACKUP_REGION"),
			AccessKey: os.Getenv("STARCHART_BACKUP_ACCESS_KEY"),
			SecretKey: os.Getenv("STARCHART_BACKUP_SECRET_KEY"),
		},
		Passphrase: os.Getenv("STARCHART_BACKUP_PASSPHRASE"),
		Prefix:     os.Getenv("STARCHART_BACKUP_PREFIX"),
		Interval:   envDuration("STARCHART_BACKUP_INTERVAL", 24*time.Hour),
		Keep:       envInt("STARCHART_BACKUP_KEEP", 14),
		Logger:     logger.With("component", "backup"),
	}, engine)

	srv := server.NewDevice(engine, coordinator, scheduler, listener, backups, server.DeviceConfig{
		WeeklyGoal:  envInt("STARCHART_WEEKLY_GOAL", 0),
		WeeklyBonus: envInt("STARCHART_WEEKLY_BONUS", 0),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if remoteURL != "" {
		scheduler.Start(ctx)
		listener.Start(ctx)
	} else {
		slog.Warn("STARCHART_REMOTE_URL not set, running offline")
	}
	backups.Start(ctx)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Full syncs and backups run inside the request.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starchart starting", "addr", ":"+port, "db", dbPath, "remote", remoteURL != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	if listener != nil {
		listener.Stop()
	}
	scheduler.Stop()
	backups.Stop()
	cancel()

	if remoteURL != "" {
		res := coordinator.FlushPendingQueue(shutdownCtx)
		slog.Info("final flush", "synced", res.Synced, "failed", res.Failed)
	}
}

func importLegacy(engine *stars.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var export model.LegacyExport
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("decode legacy export: %w", err)
	}
	cache, err := engine.ImportLegacy(export.Entries, export.Children)
	if err != nil {
		return err
	}
	slog.Info("imported legacy star log", "entries", len(export.Entries), "children", len(cache.Totals))
	return nil
}
