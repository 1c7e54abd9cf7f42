// Package main is the long-running academy process: the JSON API plus the
// maintenance scheduler.
//
// Scheduled jobs:
// - repair_game_state: completes check-ins whose fan-out failed
// - extend_schedules: keeps the rolling horizon of open-ended schedules
// - rebuild_leaderboard: reloads the Redis leaderboard from the store
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/smartdefence/academy-hub/config"
	"github.com/smartdefence/academy-hub/internal/app"
	"github.com/smartdefence/academy-hub/internal/infrastructure/scheduler"
	"github.com/smartdefence/academy-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/smartdefence/academy-hub/internal/interface/http"
	"github.com/smartdefence/academy-hub/internal/interface/http/handlers"
	"github.com/smartdefence/academy-hub/pkg/logger"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:  os.Stdout,
		Level:   logger.ParseLevel(cfg.App.LogLevel),
		Format:  cfg.App.LogFormat,
		Service: cfg.App.Name,
		Env:     string(cfg.App.Environment),
	})
	slog.SetDefault(log)
	timeutil.SetLocation(cfg.App.Location)

	log.Info("starting academy worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"driver", cfg.Database.Driver,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORE
	// ─────────────────────────────────────────────────────────────────────────
	backend, err := app.OpenBackend(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database connection")
		_ = backend.Close()
	}()
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := app.OpenCache(cfg.Redis, log)
	switch {
	case err != nil:
		log.Warn("failed to connect to Redis, caching disabled", "addr", cfg.Redis.Addr, "error", err)
		cache = nil
	case cache == nil:
		log.Info("Redis disabled")
	default:
		defer cache.Close()
		log.Info("Redis connection established", "addr", cfg.Redis.Addr)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS & HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := app.NewEventBus(true, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = bus.Close()
		snap := bus.Metrics().Snapshot()
		log.Info("event bus stats",
			"handler_executions", snap.HandlerExecutions,
			"handler_failures", snap.HandlerFailures,
			"avg_handler_duration", snap.AverageHandlerDuration,
		)
	}()

	svc, err := app.Build(cfg, backend, cache, bus, timeutil.SystemClock{}, log)
	if err != nil {
		return err
	}
	if err := svc.Subscribe(bus); err != nil {
		return fmt.Errorf("subscribe event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = newScheduler(cfg, backend, cache, svc, log)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.PingCheck(backend))
	if cache != nil {
		health.AddOptionalCheck("redis", handlers.PingCheck(cache.Client))
		health.AddOptionalCheck("redis_circuit", handlers.BreakerCheck(cache.Client.Breaker()))
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		AdminAPIKeys: cfg.HTTP.AdminAPIKeys,
		Version:      cfg.App.Version,
	}, dependencies(svc, sched, health, log))

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}

	log.Info("shutdown completed")
	return nil
}

// newScheduler registers the maintenance jobs. The leaderboard rebuild needs
// Redis and is skipped without it.
func newScheduler(cfg *config.Config, backend *app.Backend, cache *app.Cache, svc *app.Services, log *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: cfg.App.Location,
	})

	extendAt, err := scheduler.ParseCronExpression(cfg.Scheduler.ExtendSchedulesCron)
	if err != nil {
		return nil, fmt.Errorf("extend schedules cron: %w", err)
	}

	if err := sched.Register(
		jobs.NewRepairGameStateJob(svc.Repair, cfg.Scheduler.RepairBatch, log),
		scheduler.Every(cfg.Scheduler.RepairInterval),
	); err != nil {
		return nil, err
	}
	if err := sched.Register(
		jobs.NewExtendSchedulesJob(backend.ClassGroups, svc.Reconcile, log),
		extendAt,
	); err != nil {
		return nil, err
	}
	if cache != nil {
		if err := sched.Register(
			jobs.NewRebuildLeaderboardJob(backend.Game, cache.Leaderboard, cfg.Scheduler.LeaderboardSize, log),
			scheduler.Every(cfg.Scheduler.RebuildLeaderboardInterval),
		); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// dependencies maps the services onto the API. The QR route stays 501 when
// no signing secret is configured, the jobs routes when the scheduler is off.
func dependencies(svc *app.Services, sched *scheduler.Scheduler, health handlers.HealthChecker, log *slog.Logger) httpapi.Dependencies {
	deps := httpapi.Dependencies{
		CheckIn:       svc.CheckIn,
		Reconcile:     svc.Reconcile,
		CancelLesson:  svc.CancelLesson,
		Repair:        svc.Repair,
		Lessons:       svc.Lessons,
		Progress:      svc.Progress,
		Pattern:       svc.Pattern,
		Leaderboard:   svc.Leaderboard,
		HealthChecker: health,
		Logger:        log,
	}
	if svc.QRToken != nil {
		deps.QRToken = svc.QRToken
	}
	if sched != nil {
		deps.Jobs = sched
	}
	return deps
}
