package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smartdefence/academy-hub/config"
	"github.com/smartdefence/academy-hub/internal/app"
	"github.com/smartdefence/academy-hub/internal/infrastructure/messaging"
	"github.com/smartdefence/academy-hub/pkg/logger"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

var rootCmd = &cobra.Command{
	Use:           "academyctl",
	Short:         "Academy schedule, check-in and gamification admin tool",
	Long:          "academyctl runs migrations, previews and reconciles class schedules, records check-ins and repairs game state against the configured store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command; ctx is cancelled on interrupt.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Database override: postgres:// URL or SQLite file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(checkInCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(leaderboardCmd)
}

// applyDBFlag points cfg at the --db value: URLs select Postgres, anything
// else is a SQLite path.
func applyDBFlag(cfg *config.Config, value string) {
	if value == "" {
		return
	}
	if strings.HasPrefix(value, "postgres://") || strings.HasPrefix(value, "postgresql://") {
		cfg.Database.Driver = config.DriverPostgres
		cfg.Database.URL = value
		return
	}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.SQLitePath = value
}

// ─────────────────────────────────────────────────────────────────────────────
// Runtime
// ─────────────────────────────────────────────────────────────────────────────

// runtime is what a subcommand works with. Events are delivered
// synchronously so derived data is updated before the process exits.
type runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	backend *app.Backend
	cache   *app.Cache
	bus     *messaging.InMemoryEventBus
	svc     *app.Services
}

func (r *runtime) Close() {
	if r.bus != nil {
		_ = r.bus.Close()
	}
	if r.cache != nil {
		_ = r.cache.Close()
	}
	if r.backend != nil {
		_ = r.backend.Close()
	}
}

type openOptions struct {
	migrate bool
}

func openRuntime(ctx context.Context, cmd *cobra.Command, opts openOptions) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dbFlag, _ := cmd.Flags().GetString("db")
	applyDBFlag(cfg, dbFlag)
	if opts.migrate {
		cfg.Database.AutoMigrate = true
	}

	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	log := logger.New(logger.Options{Output: os.Stderr, Level: level, Format: "text", Service: "academyctl"})
	timeutil.SetLocation(cfg.App.Location)

	rt := &runtime{cfg: cfg, log: log}

	rt.backend, err = app.OpenBackend(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	rt.cache, err = app.OpenCache(cfg.Redis, log)
	if err != nil {
		log.Warn("Redis unavailable, continuing without cache", "error", err)
		rt.cache = nil
	}

	rt.bus, err = app.NewEventBus(false, log)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.svc, err = app.Build(cfg, rt.backend, rt.cache, rt.bus, timeutil.SystemClock{}, log)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.svc.Subscribe(rt.bus); err != nil {
		rt.Close()
		return nil, fmt.Errorf("subscribe event handlers: %w", err)
	}
	return rt, nil
}
