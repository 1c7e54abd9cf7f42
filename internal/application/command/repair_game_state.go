package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPAIR GAME STATE COMMAND
// Completes check-ins whose fan-out failed: re-applies missing progress and
// replays the check-in history into the game state. Running it twice changes
// nothing the second time.
// ══════════════════════════════════════════════════════════════════════════════

// RepairGameStateCommand selects what to repair.
type RepairGameStateCommand struct {
	// StudentID limits the pass to one student. Empty repairs every
	// inconsistent student.
	StudentID string

	// Limit bounds how many students one pass looks at (0 = default).
	Limit int `validate:"gte=0"`
}

// Validate validates the command.
func (c RepairGameStateCommand) Validate() error {
	return validateCommand("RepairGameState", c)
}

// StudentRepair describes what changed for one student.
type StudentRepair struct {
	StudentID       string `json:"student_id"`
	ProgressApplied int    `json:"progress_applied"`
	Appended        int    `json:"appended"`
	XPBefore        int    `json:"xp_before"`
	XPAfter         int    `json:"xp_after"`
}

// RepairGameStateResult summarizes a repair pass.
type RepairGameStateResult struct {
	Examined int
	Repaired []StudentRepair
	Failed   map[string]error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RepairGameStateHandler handles RepairGameStateCommand.
type RepairGameStateHandler struct {
	gameStore      gamification.Store
	engine         *gamification.Engine
	checkIns       attendance.Repository
	lessons        schedule.LessonStore
	progressRepo   progress.Repository
	curriculum     progress.Curriculum
	fanout         Fanout
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger
	defaultLimit   int
}

// NewRepairGameStateHandler creates a new RepairGameStateHandler.
func NewRepairGameStateHandler(
	gameStore gamification.Store,
	engine *gamification.Engine,
	checkIns attendance.Repository,
	lessons schedule.LessonStore,
	progressRepo progress.Repository,
	curriculum progress.Curriculum,
	fanout Fanout,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
) *RepairGameStateHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RepairGameStateHandler{
		gameStore:      gameStore,
		engine:         engine,
		checkIns:       checkIns,
		lessons:        lessons,
		progressRepo:   progressRepo,
		curriculum:     curriculum,
		fanout:         fanout,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         logger.With("handler", "repair_game_state"),
		defaultLimit:   500,
	}
}

// Handle runs one repair pass.
func (h *RepairGameStateHandler) Handle(ctx context.Context, cmd RepairGameStateCommand) (*RepairGameStateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("repair_game_state: validation failed: %w", err)
	}
	limit := cmd.Limit
	if limit == 0 {
		limit = h.defaultLimit
	}

	students := []string{cmd.StudentID}
	if cmd.StudentID == "" {
		var err error
		students, err = h.findInconsistent(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("repair_game_state: %w", err)
		}
	}

	result := &RepairGameStateResult{Examined: len(students), Failed: make(map[string]error)}
	for _, studentID := range students {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		repair, err := h.repairStudent(ctx, studentID)
		if err != nil {
			result.Failed[studentID] = err
			h.logger.Error("failed to repair student", "student_id", studentID, "error", err)
			continue
		}
		if repair.Appended > 0 || repair.ProgressApplied > 0 || repair.XPBefore != repair.XPAfter {
			result.Repaired = append(result.Repaired, repair)
		}
	}

	h.logger.Info("repair pass finished",
		"examined", result.Examined,
		"repaired", len(result.Repaired),
		"failed", len(result.Failed),
	)
	return result, nil
}

// findInconsistent unions students with ledger problems and students with
// check-ins that never reached progress.
func (h *RepairGameStateHandler) findInconsistent(ctx context.Context, limit int) ([]string, error) {
	ids, err := h.gameStore.InconsistentStudents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find inconsistent students: %w", err)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}

	pending, err := h.progressRepo.UnappliedCheckIns(ctx, "", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find unapplied check-ins: %w", err)
	}
	for _, checkInID := range pending {
		ci, err := h.checkIns.GetByID(ctx, checkInID)
		if err != nil {
			return nil, fmt.Errorf("failed to get check-in %s: %w", checkInID, err)
		}
		if !seen[ci.StudentID] {
			seen[ci.StudentID] = true
			ids = append(ids, ci.StudentID)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

func (h *RepairGameStateHandler) repairStudent(ctx context.Context, studentID string) (StudentRepair, error) {
	repair := StudentRepair{StudentID: studentID}

	// 1. Progress for check-ins the fan-out never reached. The fan-out also
	// gamifies them; that part is idempotent per check-in.
	pending, err := h.progressRepo.UnappliedCheckIns(ctx, studentID, 0)
	if err != nil {
		return repair, fmt.Errorf("failed to list unapplied check-ins: %w", err)
	}
	for _, checkInID := range pending {
		if h.fanout == nil {
			break
		}
		ci, err := h.checkIns.GetByID(ctx, checkInID)
		if err != nil {
			return repair, fmt.Errorf("failed to get check-in: %w", err)
		}
		lesson, err := h.lessons.GetByID(ctx, ci.LessonID)
		if err != nil {
			return repair, fmt.Errorf("failed to get lesson: %w", err)
		}
		if _, err := h.fanout.Handle(ctx, FanoutInput{CheckIn: ci, Lesson: lesson}); err != nil {
			return repair, fmt.Errorf("failed to re-apply check-in %s: %w", checkInID, err)
		}
		repair.ProgressApplied++
	}

	// 2. Replay history into the game state.
	facts, err := h.history(ctx, studentID)
	if err != nil {
		return repair, err
	}
	mastered, err := h.progressRepo.CountMastered(ctx, studentID)
	if err != nil {
		return repair, fmt.Errorf("failed to count mastered techniques: %w", err)
	}

	now := h.clock.Now()
	err = h.gameStore.WithStudentLock(ctx, studentID, func(ctx context.Context, tx gamification.Tx) error {
		state, err := tx.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load game state: %w", err)
		}
		ledger, err := tx.Ledger(ctx)
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}
		unlocked, err := tx.Unlocked(ctx)
		if err != nil {
			return fmt.Errorf("failed to load achievements: %w", err)
		}

		res := h.engine.Replay(gamification.ReplayInput{
			StudentID:          studentID,
			CheckIns:           facts,
			Ledger:             ledger,
			Unlocked:           unlocked,
			MasteredTechniques: mastered,
		}, now)

		for _, def := range res.Unlocked {
			if _, err := tx.Unlock(ctx, def.Code, now); err != nil {
				return fmt.Errorf("failed to unlock %s: %w", def.Code, err)
			}
		}
		for i := range res.Missing {
			entry := &res.Missing[i]
			entry.ID = uuid.NewString()
			if err := tx.Append(ctx, entry); err != nil {
				return fmt.Errorf("failed to append ledger entry: %w", err)
			}
		}

		repair.XPBefore = state.TotalXP
		repair.XPAfter = res.State.TotalXP
		repair.Appended = len(res.Missing)

		if len(res.Missing) == 0 && sameState(*state, res.State) {
			return nil
		}
		return tx.Save(ctx, &res.State)
	})
	if err != nil {
		return repair, fmt.Errorf("failed to replay game state: %w", err)
	}

	if repair.Appended > 0 || repair.XPBefore != repair.XPAfter {
		h.logger.Info("game state repaired",
			"student_id", studentID,
			"appended", repair.Appended,
			"xp_before", repair.XPBefore,
			"xp_after", repair.XPAfter,
		)
		if err := h.eventPublisher.Publish(shared.NewGameStateRepairedEvent(studentID, repair.Appended, repair.XPBefore, repair.XPAfter)); err != nil {
			h.logger.Warn("failed to publish repaired event", "student_id", studentID, "error", err)
		}
		if repair.XPAfter != repair.XPBefore {
			if err := h.eventPublisher.Publish(shared.NewXPAwardedEvent(studentID, repair.XPAfter-repair.XPBefore, repair.XPAfter, string(gamification.ReasonRepair))); err != nil {
				h.logger.Warn("failed to publish xp event", "student_id", studentID, "error", err)
			}
		}
	}
	return repair, nil
}

// history turns the student's check-ins into engine facts.
func (h *RepairGameStateHandler) history(ctx context.Context, studentID string) ([]gamification.CheckInFact, error) {
	records, err := h.checkIns.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}

	techniqueCount := make(map[string]int)
	facts := make([]gamification.CheckInFact, 0, len(records))
	for _, ci := range records {
		n, ok := techniqueCount[ci.LessonID]
		if !ok {
			lesson, err := h.lessons.GetByID(ctx, ci.LessonID)
			if err != nil && !shared.IsNotFound(err) {
				return nil, fmt.Errorf("failed to get lesson: %w", err)
			}
			techniques, err := LessonTechniques(ctx, h.curriculum, lesson)
			if err != nil {
				return nil, err
			}
			n = len(techniques)
			techniqueCount[ci.LessonID] = n
		}
		facts = append(facts, gamification.CheckInFact{
			CheckInID:  ci.ID,
			At:         ci.CheckedInAt,
			Techniques: n,
		})
	}
	return facts, nil
}

func sameState(a, b gamification.GameState) bool {
	return a.TotalXP == b.TotalXP &&
		a.Level == b.Level &&
		a.CheckIns == b.CheckIns &&
		a.Streak == b.Streak
}
