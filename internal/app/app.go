// Package app wires the academy from configuration: the store for the
// configured driver, the optional Redis layer, the command and query
// handlers and the event bus. cmd/worker and cmd/academyctl share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartdefence/academy-hub/config"
	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/application/eventhandler"
	"github.com/smartdefence/academy-hub/internal/application/query"
	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/internal/infrastructure/messaging"
	"github.com/smartdefence/academy-hub/internal/infrastructure/persistence/postgres"
	"github.com/smartdefence/academy-hub/internal/infrastructure/persistence/redis"
	"github.com/smartdefence/academy-hub/internal/infrastructure/persistence/sqlite"
	"github.com/smartdefence/academy-hub/pkg/retry"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Directory is the enrollment and curriculum lookup.
type Directory interface {
	attendance.EnrollmentChecker
	progress.Curriculum
}

// Backend is the store for the configured driver behind domain interfaces.
type Backend struct {
	Driver string

	ClassGroups schedule.ClassGroupRepository
	Lessons     schedule.LessonStore
	CheckIns    attendance.Repository
	Progress    progress.Repository
	Game        gamification.Store
	Directory   Directory

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the database.
func (b *Backend) Ping(ctx context.Context) error { return b.ping(ctx) }

// Close releases the connection pool.
func (b *Backend) Close() error { return b.close() }

// OpenBackend connects to the configured database, retrying while it comes
// up, and applies migrations when AutoMigrate is set. The SQLite store
// always migrates on open.
func OpenBackend(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Backend, error) {
	onRetry := func(attempt int, err error, delay time.Duration) {
		log.Warn("database not reachable, retrying",
			"driver", cfg.Driver, "attempt", attempt, "delay", delay, "error", err)
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		settings := postgres.PoolSettings{
			MaxConns:        int32(cfg.MaxConns),
			MinConns:        int32(cfg.MinConns),
			MaxConnLifetime: cfg.ConnMaxLifetime,
			MaxConnIdleTime: cfg.ConnMaxIdleTime,
		}
		var conn *postgres.Connection
		err := retry.StartupRetrier(onRetry).Do(ctx, func(ctx context.Context) error {
			c, err := postgres.Connect(ctx, cfg.URL, settings)
			if err != nil {
				return retry.Retryable(err)
			}
			conn = c
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		if cfg.AutoMigrate {
			n, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			log.Info("database schema is up to date", "applied", n)
		}

		store := postgres.NewStore(conn)
		return &Backend{
			Driver:      cfg.Driver,
			ClassGroups: store.ClassGroups(),
			Lessons:     store.Lessons(),
			CheckIns:    store.CheckIns(),
			Progress:    store.Progress(),
			Game:        store.Game(),
			Directory:   store.Directory(),
			ping:        conn.Ping,
			close:       func() error { conn.Close(); return nil },
		}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Backend{
			Driver:      cfg.Driver,
			ClassGroups: store.ClassGroups(),
			Lessons:     store.Lessons(),
			CheckIns:    store.CheckIns(),
			Progress:    store.Progress(),
			Game:        store.Game(),
			Directory:   store.Directory(),
			ping:        store.Ping,
			close:       store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache bundles the Redis-backed pieces. A nil *Cache means Redis is off.
type Cache struct {
	Client      *redis.Cache
	Leaderboard *redis.LeaderboardCache
	Summaries   *redis.SummaryCache
	Locker      *redis.Locker
}

// Close closes the client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.Client.Close()
}

// OpenCache connects to Redis. It returns (nil, nil) when Redis is disabled;
// a connection failure is returned so the caller decides whether to run
// without it.
func OpenCache(cfg config.RedisConfig, log *slog.Logger) (*Cache, error) {
	if cfg.Disabled {
		return nil, nil
	}

	rc := redis.DefaultConfig()
	rc.Addr = cfg.Addr
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		rc.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.KeyPrefix != "" {
		rc.KeyPrefix = cfg.KeyPrefix
	}
	rc.Logger = log

	client, err := redis.NewCache(rc)
	if err != nil {
		return nil, err
	}
	return &Cache{
		Client:      client,
		Leaderboard: redis.NewLeaderboardCache(client),
		Summaries:   redis.NewSummaryCache(client, redis.TTLSummary),
		Locker:      redis.NewLocker(client),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICES
// ══════════════════════════════════════════════════════════════════════════════

// Services holds every command and query handler.
type Services struct {
	Engine *gamification.Engine
	Signer *attendance.QRSigner
	Window attendance.Window

	CheckIn      *command.CheckInHandler
	Reconcile    *command.ReconcileScheduleHandler
	CancelLesson *command.CancelLessonHandler
	QRToken      *command.IssueQRTokenHandler
	Gamify       *command.ApplyGamificationHandler
	Repair       *command.RepairGameStateHandler
	Fanout       *eventhandler.ProgressFanout

	Lessons     *query.ListLessonsHandler
	Progress    *query.GetStudentProgressHandler
	Pattern     *query.GetAttendancePatternHandler
	Leaderboard *query.GetLeaderboardHandler

	OnXPAwarded *eventhandler.OnXPAwardedHandler
}

// Build creates the handlers. cache may be nil; events may be nil, in which
// case nothing is published.
func Build(cfg *config.Config, b *Backend, cache *Cache, events shared.EventPublisher, clock timeutil.Clock, log *slog.Logger) (*Services, error) {
	loc := cfg.App.Location
	if loc == nil {
		loc = timeutil.Location()
	}

	rules := gamification.DefaultRules()
	rules.BaseXP = cfg.Gamification.BaseXP
	rules.TechniqueXP = cfg.Gamification.TechniqueXP
	rules.MaxTechniquesCounted = cfg.Gamification.MaxTechniquesCounted
	rules.FirstOfMonthBonus = cfg.Gamification.FirstOfMonthBonus

	s := &Services{
		Engine: gamification.NewEngine(rules, loc),
		Window: attendance.Window{
			Before:    cfg.CheckIn.WindowBefore,
			After:     cfg.CheckIn.WindowAfter,
			LateAfter: cfg.CheckIn.LateGrace,
		},
	}

	if cfg.CheckIn.QRSecret != "" {
		signer, err := attendance.NewQRSigner([]byte(cfg.CheckIn.QRSecret), cfg.CheckIn.QRTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("qr signer: %w", err)
		}
		s.Signer = signer
	}

	// Optional Redis pieces stay nil interfaces when Redis is off.
	var (
		locker       command.Locker
		summaries    query.SummaryCache
		board        query.LeaderboardReader
		boardWriter  eventhandler.LeaderboardWriter
		invalidation eventhandler.SummaryInvalidator
	)
	if cache != nil {
		locker = cache.Locker
		summaries = cache.Summaries
		board = cache.Leaderboard
		boardWriter = cache.Leaderboard
		invalidation = cache.Summaries
	}

	s.Gamify = command.NewApplyGamificationHandler(b.Game, s.Engine, events, clock, log)
	s.Fanout = eventhandler.NewProgressFanout(b.Progress, b.Directory, s.Gamify, log)

	s.CheckIn = command.NewCheckInHandler(
		b.Lessons, b.CheckIns, b.Directory, s.Signer, s.Fanout, events, clock, log,
		command.CheckInHandlerConfig{Window: s.Window},
	)
	s.Reconcile = command.NewReconcileScheduleHandler(
		b.ClassGroups, b.Lessons, b.Directory, locker, events, clock, log,
		command.ReconcileScheduleConfig{
			HorizonDays:       cfg.Schedule.HorizonDays,
			TitleFormat:       cfg.Schedule.TitleFormat,
			MaxInsertAttempts: cfg.Schedule.MaxInsertAttempts,
			LockTTL:           cfg.Schedule.LockTTL,
			Location:          loc,
		},
	)
	s.CancelLesson = command.NewCancelLessonHandler(b.Lessons, log)
	if s.Signer != nil {
		s.QRToken = command.NewIssueQRTokenHandler(b.Lessons, s.Signer, clock)
	}
	s.Repair = command.NewRepairGameStateHandler(
		b.Game, s.Engine, b.CheckIns, b.Lessons, b.Progress, b.Directory, s.Fanout, events, clock, log,
	)

	s.Lessons = query.NewListLessonsHandler(b.ClassGroups, b.Lessons, clock)
	s.Progress = query.NewGetStudentProgressHandler(b.Game, b.Progress, b.Directory, b.CheckIns, summaries, log)
	s.Pattern = query.NewGetAttendancePatternHandler(b.CheckIns, clock, loc)
	s.Leaderboard = query.NewGetLeaderboardHandler(board, b.Game, log)

	if boardWriter != nil || invalidation != nil {
		s.OnXPAwarded = eventhandler.NewOnXPAwardedHandler(boardWriter, invalidation, log)
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// NewEventBus creates the in-process bus with the audit subscriber attached.
func NewEventBus(async bool, log *slog.Logger) (*messaging.InMemoryEventBus, error) {
	cfg := messaging.DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = async
	cfg.Logger = log
	bus := messaging.NewInMemoryEventBus(cfg)

	audit := log.With("component", "audit")
	err := bus.SubscribeAll(func(e shared.Event) error {
		audit.Debug("domain event", "event_type", e.EventType(), "aggregate_id", e.AggregateID())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe audit log: %w", err)
	}
	return bus, nil
}

// Subscribe attaches the derived-data handlers to bus.
func (s *Services) Subscribe(bus shared.EventSubscriber) error {
	if s.OnXPAwarded == nil {
		return nil
	}
	return bus.Subscribe(shared.EventXPAwarded, s.OnXPAwarded.Handle)
}

