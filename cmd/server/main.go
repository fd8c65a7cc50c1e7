package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tingjian/internal/server/api"
	"tingjian/internal/server/auth"
	"tingjian/internal/server/config"
	"tingjian/internal/server/database"
	"tingjian/internal/server/service"
	"tingjian/internal/server/storage"
	"tingjian/internal/server/vision"

	"github.com/joho/godotenv"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config; a .env file is optional.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using process environment")
	}
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"vision_model", cfg.VisionModel,
		"vision_timeout", cfg.VisionTimeout,
		"protect_index", cfg.ProtectIndex,
	)

	if cfg.APIKey == "" {
		slog.Error("API_KEY is not set; the vision backend cannot be reached")
		os.Exit(1)
	}

	guard := auth.NewTokenSet(cfg.AccessTokens)
	if guard.Size() == 0 {
		slog.Error("ACCESS_TOKENS is empty; no client could ever authenticate")
		os.Exit(1)
	}
	slog.Info("access guard loaded", "tokens", guard.Size())

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize capture storage
	store := storage.NewImageStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("capture storage initialized", "path", cfg.StoragePath)

	// Wire the orchestrator. The register starts empty on every boot:
	// follow-ups need a fresh capture after a restart.
	register := storage.NewRegister()
	visionClient := vision.New(cfg.APIKey, cfg.VisionBaseURL, cfg.VisionModel)
	repo := database.NewRepository(db)
	svc := service.NewCaptureService(store, register, visionClient, repo, cfg)

	// Setup HTTP router
	handler := api.NewHandler(svc, db, cfg)
	e := api.SetupRouter(handler, guard, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited cleanly")
}
