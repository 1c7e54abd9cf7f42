package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// Reconciler runs one reconciliation pass for a class group.
type Reconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileScheduleCommand) (*command.ReconcileScheduleResult, error)
}

// ExtendSchedulesJob keeps open-ended schedules stocked with lessons up to
// the horizon by reconciling every active class group.
type ExtendSchedulesJob struct {
	groups     schedule.ClassGroupRepository
	reconciler Reconciler
	logger     *slog.Logger
}

// NewExtendSchedulesJob creates the job.
func NewExtendSchedulesJob(groups schedule.ClassGroupRepository, reconciler Reconciler, logger *slog.Logger) *ExtendSchedulesJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtendSchedulesJob{groups: groups, reconciler: reconciler, logger: logger.With("job", "extend_schedules")}
}

func (j *ExtendSchedulesJob) Name() string { return "extend_schedules" }

func (j *ExtendSchedulesJob) Description() string {
	return "reconciles every active class group so the rolling horizon stays filled"
}

// Run reconciles each group. A group locked by a concurrent run is skipped.
func (j *ExtendSchedulesJob) Run(ctx context.Context) error {
	groups, err := j.groups.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active class groups: %w", err)
	}

	var failed int
	for _, g := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := j.reconciler.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: g.ID, SkipIfBusy: true})
		switch {
		case errors.Is(err, shared.ErrReconcileInProgress):
			j.logger.Debug("class group busy, skipped", "class_group_id", g.ID)
		case err != nil:
			failed++
			j.logger.Error("reconcile failed", "class_group_id", g.ID, "error", err)
		case !res.IsNoop():
			j.logger.Info("schedule extended",
				"class_group_id", g.ID,
				"inserted", res.Inserted,
				"deleted", res.Deleted,
			)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d class groups failed to reconcile", failed, len(groups))
	}
	return nil
}
