package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/feed-fetcher/internal/api"
	"github.com/lysyi3m/feed-fetcher/internal/cfg"
	"github.com/lysyi3m/feed-fetcher/internal/database"
	"github.com/lysyi3m/feed-fetcher/internal/dialect"
	"github.com/lysyi3m/feed-fetcher/internal/tasks"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Feed fetcher failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appCfg, err := cfg.Load()
	if err != nil {
		return err
	}
	if appCfg == nil {
		return nil
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting feed fetcher", "version", appCfg.Version, "driver", appCfg.DBDriver)

	store, err := database.Open(appCfg.DBDriver, appCfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	registry, err := dialect.NewDefaultRegistry()
	if err != nil {
		return fmt.Errorf("failed to load built-in dialects: %w", err)
	}
	if err := registry.LoadDir(appCfg.DialectsDir); err != nil {
		return fmt.Errorf("failed to load dialects from %s: %w", appCfg.DialectsDir, err)
	}
	slog.Info("Dialects loaded", "publishers", registry.Keys())

	pipeline := tasks.NewFetchFeedTask(
		store,
		dialect.NewNormalizer(registry),
		&http.Client{},
		tasks.NewHostLimiter(appCfg.HostRate, appCfg.HostBurst),
		tasks.FetchOptions{
			MaxAttempts:  appCfg.MaxAttempts,
			BackoffBase:  appCfg.BackoffBase,
			BackoffCap:   appCfg.BackoffCap,
			FetchTimeout: appCfg.FetchTimeout,
			UserAgent:    appCfg.UserAgent,
		},
	)

	scheduler := tasks.NewScheduler(store, pipeline, tasks.Options{
		WorkerCount:  appCfg.WorkerCount,
		QueueSize:    appCfg.QueueSize,
		PollInterval: appCfg.PollInterval,
	})

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(api.NewHandler(store, scheduler, registry), appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		slog.Info("Stopping scheduler...")
		scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	slog.Info("Feed fetcher started", "workers", appCfg.WorkerCount, "poll_interval", appCfg.PollInterval)

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Feed fetcher stopped")
	return nil
}
