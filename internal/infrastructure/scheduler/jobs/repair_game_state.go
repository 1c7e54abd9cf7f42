// Package jobs contains the academy's scheduled maintenance jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartdefence/academy-hub/internal/application/command"
)

// GameStateRepairer runs one repair pass.
type GameStateRepairer interface {
	Handle(ctx context.Context, cmd command.RepairGameStateCommand) (*command.RepairGameStateResult, error)
}

// RepairGameStateJob finishes check-ins whose fan-out failed.
type RepairGameStateJob struct {
	repairer GameStateRepairer
	limit    int
	logger   *slog.Logger
}

// NewRepairGameStateJob creates the job; limit bounds students per pass.
func NewRepairGameStateJob(repairer GameStateRepairer, limit int, logger *slog.Logger) *RepairGameStateJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepairGameStateJob{repairer: repairer, limit: limit, logger: logger.With("job", "repair_game_state")}
}

func (j *RepairGameStateJob) Name() string { return "repair_game_state" }

func (j *RepairGameStateJob) Description() string {
	return "re-applies missing progress and replays game state for inconsistent students"
}

// Run executes one pass. Individual student failures are logged and
// retried on the next pass; only a failure to start the pass is returned.
func (j *RepairGameStateJob) Run(ctx context.Context) error {
	res, err := j.repairer.Handle(ctx, command.RepairGameStateCommand{Limit: j.limit})
	if err != nil {
		return fmt.Errorf("repair pass: %w", err)
	}

	for studentID, ferr := range res.Failed {
		j.logger.Warn("student repair failed", "student_id", studentID, "error", ferr)
	}
	if len(res.Repaired) > 0 || len(res.Failed) > 0 {
		j.logger.Info("repair pass finished",
			"examined", res.Examined,
			"repaired", len(res.Repaired),
			"failed", len(res.Failed),
		)
	}
	return nil
}
