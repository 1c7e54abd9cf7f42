package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/retry"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE SCHEDULE COMMAND
// Brings a class group's stored lessons in line with its recurring schedule.
// Lessons with check-ins are never removed; everything else in the future is
// rebuilt from the schedule.
// ══════════════════════════════════════════════════════════════════════════════

// Locker serializes reconciliation runs for one class group across processes.
type Locker interface {
	// TryLock acquires key for ttl. ok is false when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases key if token still owns it.
	Unlock(ctx context.Context, key, token string) error
}

// ReconcileScheduleCommand asks for one reconciliation pass.
type ReconcileScheduleCommand struct {
	// ClassGroupID is the group to reconcile.
	ClassGroupID string `validate:"required"`

	// Schedule, when set, replaces the stored schedule before reconciling.
	Schedule *schedule.RecurringSchedule

	// Now overrides the clock (tests, CLI previews).
	Now time.Time

	// SkipIfBusy returns ErrReconcileInProgress instead of waiting when
	// another run holds the group. Background passes set it; schedule edits
	// never do.
	SkipIfBusy bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ReconcileScheduleCommand) Validate() error {
	if err := validateCommand("ReconcileSchedule", c); err != nil {
		return err
	}
	if c.Schedule != nil {
		return c.Schedule.Validate()
	}
	return nil
}

// ReconcileScheduleResult reports what the pass did.
type ReconcileScheduleResult struct {
	ClassGroupID string

	Inserted  int
	Deleted   int
	Kept      int
	Protected int
	Past      int

	// Blocked counts candidates whose date is held by a retained lesson.
	Blocked int

	// SkippedDeletes counts lessons that gained a check-in between planning
	// and deleting.
	SkippedDeletes int

	// Conflicts counts inserts abandoned after uniqueness conflicts.
	Conflicts int

	// Contended is set when the pass ran without the group lock because
	// another run kept holding it.
	Contended bool

	// Warnings from expansion (e.g. empty weekday set).
	Warnings []string

	ReconciledAt time.Time
}

// IsNoop reports whether the pass changed nothing.
func (r *ReconcileScheduleResult) IsNoop() bool {
	return r.Inserted == 0 && r.Deleted == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileScheduleConfig contains configuration for the handler.
type ReconcileScheduleConfig struct {
	// HorizonDays is how far ahead open-ended schedules are generated.
	HorizonDays int

	// TitleFormat names generated lessons; receives the sequence number.
	TitleFormat string

	// MaxInsertAttempts bounds retries of one insert after conflicts.
	MaxInsertAttempts int

	// LockTTL bounds how long a crashed run can hold the group lock.
	LockTTL time.Duration

	// LockAttempts bounds how often a busy group lock is tried before the
	// pass runs without it.
	LockAttempts int

	// Location is the academy time zone.
	Location *time.Location
}

// DefaultReconcileScheduleConfig returns default configuration.
func DefaultReconcileScheduleConfig() ReconcileScheduleConfig {
	return ReconcileScheduleConfig{
		HorizonDays:       365,
		TitleFormat:       schedule.DefaultTitleFormat,
		MaxInsertAttempts: 4,
		LockTTL:           2 * time.Minute,
		LockAttempts:      8,
		Location:          timeutil.Location(),
	}
}

// ReconcileScheduleHandler handles ReconcileScheduleCommand.
type ReconcileScheduleHandler struct {
	groups         schedule.ClassGroupRepository
	lessons        schedule.LessonStore
	curriculum     progress.Curriculum
	locker         Locker
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger
	config         ReconcileScheduleConfig
}

// NewReconcileScheduleHandler creates a new ReconcileScheduleHandler.
// curriculum and locker may be nil.
func NewReconcileScheduleHandler(
	groups schedule.ClassGroupRepository,
	lessons schedule.LessonStore,
	curriculum progress.Curriculum,
	locker Locker,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
	config ReconcileScheduleConfig,
) *ReconcileScheduleHandler {
	defaults := DefaultReconcileScheduleConfig()
	if config.HorizonDays <= 0 {
		config.HorizonDays = defaults.HorizonDays
	}
	if config.TitleFormat == "" {
		config.TitleFormat = defaults.TitleFormat
	}
	if config.MaxInsertAttempts <= 0 {
		config.MaxInsertAttempts = defaults.MaxInsertAttempts
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.LockAttempts <= 0 {
		config.LockAttempts = defaults.LockAttempts
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReconcileScheduleHandler{
		groups:         groups,
		lessons:        lessons,
		curriculum:     curriculum,
		locker:         locker,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         logger.With("handler", "reconcile_schedule"),
		config:         config,
	}
}

// Handle executes the reconcile command.
func (h *ReconcileScheduleHandler) Handle(ctx context.Context, cmd ReconcileScheduleCommand) (*ReconcileScheduleResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("reconcile_schedule: validation failed: %w", err)
	}

	now := cmd.Now
	if now.IsZero() {
		now = h.clock.Now()
	}

	// The edit is stored before locking so a busy group never loses it.
	if cmd.Schedule != nil {
		if err := h.saveSchedule(ctx, cmd.ClassGroupID, *cmd.Schedule, now); err != nil {
			return nil, err
		}
	}

	locked, release, err := h.lock(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer release()

	group, err := h.groups.GetByID(ctx, cmd.ClassGroupID)
	if err != nil {
		return nil, fmt.Errorf("reconcile_schedule: failed to get class group: %w", err)
	}

	result := &ReconcileScheduleResult{ClassGroupID: group.ID, ReconciledAt: now, Contended: !locked}

	var candidates []schedule.Candidate
	if group.Active {
		horizon := schedule.ResolveHorizon(group.Schedule, now, h.config.HorizonDays, h.config.Location)
		expansion := schedule.Expand(group.Schedule, horizon, 1, h.config.Location)
		candidates = expansion.Candidates
		result.Warnings = expansion.Warnings
	}
	for _, w := range result.Warnings {
		h.logger.Warn("schedule expansion warning", "class_group_id", group.ID, "warning", w)
	}

	stored, err := h.lessons.ListByClassGroup(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("reconcile_schedule: failed to list lessons: %w", err)
	}

	plan := schedule.PlanReconciliation(stored, candidates, now)
	result.Kept = len(plan.Kept)
	result.Protected = len(plan.Protected)
	result.Past = len(plan.Past)
	result.Blocked = len(plan.Blocked)

	for _, l := range plan.Delete {
		deleted, err := h.lessons.DeleteUnprotected(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("reconcile_schedule: failed to delete lesson %s: %w", l.ID, err)
		}
		if !deleted {
			result.SkippedDeletes++
			h.logger.Info("lesson gained a check-in during reconciliation, kept",
				"class_group_id", group.ID,
				"lesson_id", l.ID,
				"sequence", l.Sequence,
			)
			continue
		}
		result.Deleted++
	}

	// A renumbered insert moves the rest of the plan along with it.
	shift := 0
	for _, c := range plan.Insert {
		c.Sequence += shift
		inserted, seq, err := h.insertCandidate(ctx, group, c, now)
		if err != nil {
			return nil, err
		}
		if !inserted {
			result.Conflicts++
			continue
		}
		result.Inserted++
		shift += seq - c.Sequence
	}

	h.logger.Info("class group reconciled",
		"class_group_id", group.ID,
		"inserted", result.Inserted,
		"deleted", result.Deleted,
		"kept", result.Kept,
		"protected", result.Protected,
		"blocked", result.Blocked,
		"conflicts", result.Conflicts,
		"contended", result.Contended,
	)

	event := shared.NewScheduleReconciledEvent(group.ID, result.Inserted, result.Deleted, result.Kept, result.Protected, result.Conflicts)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish schedule reconciled event", "class_group_id", group.ID, "error", err)
	}

	return result, nil
}

func (h *ReconcileScheduleHandler) saveSchedule(ctx context.Context, groupID string, s schedule.RecurringSchedule, now time.Time) error {
	group, err := h.groups.GetByID(ctx, groupID)
	if err != nil {
		return fmt.Errorf("reconcile_schedule: failed to get class group: %w", err)
	}
	if err := group.ReplaceSchedule(s, now); err != nil {
		return fmt.Errorf("reconcile_schedule: %w", err)
	}
	if err := h.groups.Save(ctx, group); err != nil {
		return fmt.Errorf("reconcile_schedule: failed to save schedule: %w", err)
	}
	return nil
}

var errLockBusy = errors.New("reconcile lock busy")

// lock takes the group lock, waiting a bounded time for a concurrent run.
// When the wait runs out the pass goes ahead unlocked: deletes re-check
// protection and inserts resolve conflicts in the store. With SkipIfBusy a
// busy group returns ErrReconcileInProgress instead.
func (h *ReconcileScheduleHandler) lock(ctx context.Context, cmd ReconcileScheduleCommand) (bool, func(), error) {
	noop := func() {}
	if h.locker == nil {
		return true, noop, nil
	}

	key := "reconcile:" + cmd.ClassGroupID
	attempts := h.config.LockAttempts
	if cmd.SkipIfBusy {
		attempts = 1
	}
	waiter := &retry.Policy{
		Attempts:  attempts,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
		Jitter:    0.2,
		RetryIf:   func(err error) bool { return errors.Is(err, errLockBusy) },
	}

	var token string
	err := waiter.Do(ctx, func(ctx context.Context) error {
		t, ok, err := h.locker.TryLock(ctx, key, h.config.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return errLockBusy
		}
		token = t
		return nil
	})

	switch {
	case err == nil:
		return true, func() {
			// Released on a fresh context: ctx may already be cancelled.
			if err := h.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				h.logger.Warn("failed to release reconcile lock", "class_group_id", cmd.ClassGroupID, "error", err)
			}
		}, nil
	case !errors.Is(err, errLockBusy):
		return false, noop, fmt.Errorf("reconcile_schedule: failed to acquire lock: %w", err)
	case cmd.SkipIfBusy:
		return false, noop, shared.ErrReconcileInProgress
	default:
		h.logger.Warn("reconcile lock still busy, running unlocked", "class_group_id", cmd.ClassGroupID)
		return false, noop, nil
	}
}

// errDateTaken stops retries when another writer already owns the date.
var errDateTaken = errors.New("date already has a lesson")

// insertCandidate inserts one lesson at its planned sequence, renumbering
// after the stored maximum on sequence conflicts, and returns the sequence
// used. It returns false without error when the date was taken or retries
// ran out.
func (h *ReconcileScheduleHandler) insertCandidate(ctx context.Context, group *schedule.ClassGroup, c schedule.Candidate, now time.Time) (bool, int, error) {
	seq := c.Sequence
	retrier := retry.ConflictRetrier(h.config.MaxInsertAttempts,
		func(err error) bool { return errors.Is(err, shared.ErrLessonConflict) },
		func(attempt int, err error, delay time.Duration) {
			h.logger.Debug("lesson insert conflict, retrying",
				"class_group_id", group.ID,
				"date", c.Date.String(),
				"attempt", attempt,
				"delay", delay,
			)
		},
	)

	err := retrier.Do(ctx, func(ctx context.Context) error {
		c.Sequence = seq
		lesson := schedule.NewLesson(uuid.NewString(), group.ID, c, h.config.TitleFormat, now)
		lesson.LessonPlanID = h.lessonPlanFor(ctx, group, seq)

		err := h.lessons.Insert(ctx, lesson)
		if !errors.Is(err, shared.ErrLessonConflict) {
			if err != nil {
				return retry.Permanent(err)
			}
			return nil
		}

		if _, ferr := h.lessons.FindByDate(ctx, group.ID, c.Date); ferr == nil {
			return retry.Permanent(errDateTaken)
		}
		maxSeq, merr := h.lessons.MaxSequence(ctx, group.ID)
		if merr != nil {
			return retry.Permanent(merr)
		}
		seq = maxSeq + 1
		return err
	})

	switch {
	case err == nil:
		return true, seq, nil
	case errors.Is(err, errDateTaken):
		h.logger.Info("lesson date taken by another writer, skipped",
			"class_group_id", group.ID,
			"date", c.Date.String(),
		)
		return false, seq, nil
	case errors.Is(err, shared.ErrLessonConflict):
		h.logger.Warn("lesson insert abandoned after conflicts",
			"class_group_id", group.ID,
			"date", c.Date.String(),
			"error_code", shared.ErrorCode(err),
		)
		return false, seq, nil
	default:
		return false, seq, fmt.Errorf("reconcile_schedule: failed to insert lesson: %w", err)
	}
}

// lessonPlanFor links the N-th lesson of a group to the course's N-th plan.
func (h *ReconcileScheduleHandler) lessonPlanFor(ctx context.Context, group *schedule.ClassGroup, seq int) string {
	if h.curriculum == nil || group.CourseID == "" {
		return ""
	}
	planID, err := h.curriculum.LessonPlanForSequence(ctx, group.CourseID, seq)
	if err != nil {
		h.logger.Warn("failed to resolve lesson plan", "class_group_id", group.ID, "sequence", seq, "error", err)
		return ""
	}
	return planID
}
