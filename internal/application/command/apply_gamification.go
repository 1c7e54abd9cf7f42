package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY GAMIFICATION COMMAND
// Applies one check-in to the student's game state: streak, XP, level and
// achievements, all in one transaction under the student's lock.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyGamificationCommand carries one committed check-in.
type ApplyGamificationCommand struct {
	StudentID string `validate:"required"`
	CheckInID string `validate:"required"`

	// CheckedInAt decides the streak day.
	CheckedInAt time.Time `validate:"required"`

	// Techniques practised in the lesson.
	Techniques int `validate:"gte=0"`

	// MasteredTechniques is the student's mastered count after this lesson.
	MasteredTechniques int `validate:"gte=0"`

	CorrelationID string
}

// Validate validates the command.
func (c ApplyGamificationCommand) Validate() error {
	return validateCommand("ApplyGamification", c)
}

// GamificationSummary is returned to the check-in caller.
type GamificationSummary struct {
	StudentID string

	// Applied is false when the check-in had already been applied.
	Applied bool

	XPGained      int
	TotalXP       int
	Level         int
	PreviousLevel int
	LevelUp       bool
	LevelProgress int

	CurrentStreak int
	LongestStreak int
	StreakChange  gamification.StreakChange

	Award        gamification.Award
	Achievements []gamification.AchievementDefinition
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyGamificationHandler handles ApplyGamificationCommand.
type ApplyGamificationHandler struct {
	store          gamification.Store
	engine         *gamification.Engine
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger
}

// NewApplyGamificationHandler creates a new ApplyGamificationHandler.
func NewApplyGamificationHandler(
	store gamification.Store,
	engine *gamification.Engine,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
) *ApplyGamificationHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ApplyGamificationHandler{
		store:          store,
		engine:         engine,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         logger.With("handler", "apply_gamification"),
	}
}

// Handle applies the check-in. Applying the same check-in twice is a no-op
// returning the current state with Applied == false.
func (h *ApplyGamificationHandler) Handle(ctx context.Context, cmd ApplyGamificationCommand) (*GamificationSummary, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("apply_gamification: validation failed: %w", err)
	}

	var (
		outcome gamification.Outcome
		applied bool
	)

	err := h.store.WithStudentLock(ctx, cmd.StudentID, func(ctx context.Context, tx gamification.Tx) error {
		state, err := tx.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load game state: %w", err)
		}

		done, err := tx.HasCheckInEntry(ctx, cmd.CheckInID)
		if err != nil {
			return fmt.Errorf("failed to check ledger: %w", err)
		}
		if done {
			outcome = gamification.Outcome{Previous: *state, State: *state}
			return nil
		}

		unlocked, err := tx.Unlocked(ctx)
		if err != nil {
			return fmt.Errorf("failed to load achievements: %w", err)
		}

		outcome = h.engine.ApplyCheckIn(*state, gamification.CheckInFact{
			CheckInID:          cmd.CheckInID,
			At:                 cmd.CheckedInAt,
			Techniques:         cmd.Techniques,
			MasteredTechniques: cmd.MasteredTechniques,
		}, unlocked)

		for _, def := range outcome.Unlocked {
			if _, err := tx.Unlock(ctx, def.Code, cmd.CheckedInAt); err != nil {
				return fmt.Errorf("failed to unlock %s: %w", def.Code, err)
			}
		}
		for i := range outcome.Transactions {
			entry := &outcome.Transactions[i]
			entry.ID = uuid.NewString()
			if err := tx.Append(ctx, entry); err != nil {
				return fmt.Errorf("failed to append ledger entry: %w", err)
			}
		}

		outcome.State.UpdatedAt = h.clock.Now()
		if err := tx.Save(ctx, &outcome.State); err != nil {
			return fmt.Errorf("failed to save game state: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply_gamification: %w", err)
	}

	summary := summarize(outcome, applied)
	if applied {
		h.logger.Info("check-in gamified",
			"student_id", cmd.StudentID,
			"check_in_id", cmd.CheckInID,
			"xp_gained", summary.XPGained,
			"total_xp", summary.TotalXP,
			"level", summary.Level,
			"streak", summary.CurrentStreak,
		)
		h.publish(cmd, outcome)
	}
	return summary, nil
}

func summarize(o gamification.Outcome, applied bool) *GamificationSummary {
	s := &GamificationSummary{
		StudentID:     o.State.StudentID,
		Applied:       applied,
		TotalXP:       o.State.TotalXP,
		Level:         gamification.LevelForXP(o.State.TotalXP),
		PreviousLevel: gamification.LevelForXP(o.Previous.TotalXP),
		LevelUp:       o.LevelUp,
		LevelProgress: gamification.ProgressToNextLevel(o.State.TotalXP),
		CurrentStreak: o.State.Streak.Current,
		LongestStreak: o.State.Streak.Longest,
		StreakChange:  o.StreakChange,
		Award:         o.Award,
		Achievements:  o.Unlocked,
	}
	if applied {
		s.XPGained = o.XPGained()
	} else {
		s.StreakChange = gamification.StreakUnchanged
	}
	return s
}

// publish emits events after commit. Failures are logged only.
func (h *ApplyGamificationHandler) publish(cmd ApplyGamificationCommand, o gamification.Outcome) {
	studentID := cmd.StudentID
	events := []shared.Event{
		shared.NewXPAwardedEvent(studentID, o.XPGained(), o.State.TotalXP, string(gamification.ReasonCheckIn)),
	}
	if o.LevelUp {
		events = append(events, shared.NewLevelUpEvent(studentID,
			gamification.LevelForXP(o.Previous.TotalXP), o.State.Level, o.State.TotalXP))
	}
	for _, def := range o.Unlocked {
		events = append(events, shared.NewAchievementUnlockedEvent(studentID, string(def.Code), def.Name, def.XPReward))
	}
	if o.StreakChange == gamification.StreakReset && o.Previous.Streak.Current > 1 {
		events = append(events, shared.NewStreakBrokenEvent(studentID, o.Previous.Streak.Current, o.DaysMissed))
	}

	for _, e := range events {
		if err := h.eventPublisher.Publish(e); err != nil {
			h.logger.Warn("failed to publish event",
				"event_type", e.EventType(),
				"student_id", studentID,
				"error", err,
			)
		}
	}
}
