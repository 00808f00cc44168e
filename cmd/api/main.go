// Package main is the entry point for the URNS API server.
//
// It loads configuration, builds the reminder store (in-memory or
// snapshot-backed), wires the scheduler, trigger, and delivery engines,
// mounts the HTTP API on the core chassis, and runs the event loop and
// listener until a shutdown signal arrives.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	"urns/internal/api/handlers"
	"urns/internal/config"
	"urns/internal/core"
	"urns/internal/delivery"
	"urns/internal/scheduler"
	"urns/internal/store"
	"urns/internal/trigger"
	"urns/internal/types"
)

// reminderStore is the union of the store slices the engines and handlers
// consume, satisfied by both store backends.
type reminderStore interface {
	Create(rec *types.Reminder) string
	Get(id string) (*types.Reminder, bool)
	List(appID string) []*types.Reminder
	Update(id string, fn func(*types.Reminder)) bool
	Delete(id string) bool
	DeleteAll(appID string) []string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("urns API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	clock := types.RealClock{}

	reminders, err := buildStore(cfg, clock, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(clock, logger)
	webhookClient := delivery.NewClient(cfg.Delivery, cfg.Auth.AppKey, logger)
	deliveryEngine := delivery.NewEngine(reminders, sched, webhookClient, cfg.Delivery, clock, logger)
	triggerEngine := trigger.NewEngine(reminders, sched, deliveryEngine, clock, logger)

	restoreReminders(reminders, triggerEngine, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	reminderHandler := handlers.NewReminderHandler(reminders, triggerEngine, sched, srv.Validator, logger)
	srv.RouteRegistrars = append(srv.RouteRegistrars, reminderHandler.RegisterRoutes)
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// buildStore selects the store backend: snapshot-backed when a snapshot path
// is configured, purely in-memory otherwise.
func buildStore(cfg *config.Config, clock types.Clock, logger *slog.Logger) (reminderStore, error) {
	if cfg.Store.SnapshotPath == "" {
		logger.Info("using in-memory reminder store")
		return store.NewMemoryStore(clock), nil
	}

	snap := store.NewSnapshotStore(cfg.Store.SnapshotPath, clock, logger)
	if err := snap.Load(); err != nil {
		return nil, fmt.Errorf("loading reminder snapshot: %w", err)
	}
	logger.Info("using snapshot-backed reminder store", "path", cfg.Store.SnapshotPath)
	return snap, nil
}

// restoreReminders re-registers every surviving non-terminal reminder after
// a restart. Past-due one-shots fire immediately once the scheduler loop
// starts.
func restoreReminders(reminders reminderStore, triggerEngine *trigger.Engine, logger *slog.Logger) {
	restored := 0
	for _, rem := range reminders.List("") {
		if rem.Status.Terminal() {
			continue
		}
		if _, err := triggerEngine.Register(rem); err != nil {
			logger.Error("failed to restore reminder schedule",
				"reminder_id", rem.ID, "error", err)
			continue
		}
		restored++
	}
	if restored > 0 {
		logger.Info("reminder schedules restored", "count", restored)
	}
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
