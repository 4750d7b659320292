package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/geoimport/internal/application"
	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
	"github.com/JonMunkholm/geoimport/internal/logging"
	"github.com/JonMunkholm/geoimport/internal/web"
)

func main() {
	// Load and validate configuration (.env files first, environment wins)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg)

	ctx := context.Background()
	app, err := application.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := web.NewServer(app.Service, app.Uploads, cfg, app.Registry)

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Import.SweepInterval > 0 {
		go app.Service.StartStagingJanitor(jobCtx, core.JanitorConfig{
			Interval: cfg.Import.SweepInterval,
			MaxAge:   cfg.Import.StagingMaxAge,
		})
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then let running sessions finish so their
		// cleaners drop the staging relations.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if status := app.Service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := app.Service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		app.Close()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
