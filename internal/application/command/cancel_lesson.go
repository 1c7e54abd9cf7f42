package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// CancelLessonCommand cancels one lesson instance. Cancelled lessons refuse
// check-ins; reconciliation treats them like any other stored lesson.
type CancelLessonCommand struct {
	LessonID string `validate:"required"`
	Reason   string `validate:"max=500"`
}

// CancelLessonHandler handles CancelLessonCommand.
type CancelLessonHandler struct {
	lessons schedule.LessonStore
	logger  *slog.Logger
}

// NewCancelLessonHandler creates a new CancelLessonHandler.
func NewCancelLessonHandler(lessons schedule.LessonStore, logger *slog.Logger) *CancelLessonHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CancelLessonHandler{lessons: lessons, logger: logger.With("handler", "cancel_lesson")}
}

// Handle marks the lesson CANCELLED. Cancelling twice is a no-op.
func (h *CancelLessonHandler) Handle(ctx context.Context, cmd CancelLessonCommand) (*schedule.Lesson, error) {
	if err := validateCommand("CancelLesson", cmd); err != nil {
		return nil, fmt.Errorf("cancel_lesson: validation failed: %w", err)
	}

	lesson, err := h.lessons.GetByID(ctx, cmd.LessonID)
	if err != nil {
		return nil, fmt.Errorf("cancel_lesson: failed to get lesson: %w", err)
	}
	if lesson.Status == schedule.StatusCancelled {
		return lesson, nil
	}
	if lesson.Status == schedule.StatusCompleted {
		return nil, shared.NewDomainError("schedule", "CancelLesson", shared.ErrInvalidState, "lesson already completed")
	}

	if err := h.lessons.SetStatus(ctx, lesson.ID, schedule.StatusCancelled); err != nil {
		return nil, fmt.Errorf("cancel_lesson: failed to update status: %w", err)
	}
	lesson.Status = schedule.StatusCancelled

	h.logger.Info("lesson cancelled",
		"lesson_id", lesson.ID,
		"class_group_id", lesson.ClassGroupID,
		"reason", cmd.Reason,
	)
	return lesson, nil
}
