package query

import (
	"context"
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST LESSONS QUERY
// Занятия группы с вычисляемыми статусом и защитой.
// ══════════════════════════════════════════════════════════════════════════════

// ListLessonsQuery содержит параметры запроса.
type ListLessonsQuery struct {
	ClassGroupID string

	// From/To ограничивают даты (включительно); нулевые - без ограничения.
	From shared.Date
	To   shared.Date
}

// LessonDTO - занятие.
type LessonDTO struct {
	ID           string    `json:"id"`
	Sequence     int       `json:"sequence"`
	Title        string    `json:"title"`
	Date         string    `json:"date"`
	StartsAt     time.Time `json:"starts_at"`
	DurationMin  int       `json:"duration_minutes"`
	Status       string    `json:"status"`
	Protected    bool      `json:"protected"`
	LessonPlanID string    `json:"lesson_plan_id,omitempty"`
}

// ListLessonsHandler обрабатывает запрос.
type ListLessonsHandler struct {
	groups  schedule.ClassGroupRepository
	lessons schedule.LessonStore
	clock   timeutil.Clock
}

// NewListLessonsHandler создаёт обработчик.
func NewListLessonsHandler(groups schedule.ClassGroupRepository, lessons schedule.LessonStore, clock timeutil.Clock) *ListLessonsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &ListLessonsHandler{groups: groups, lessons: lessons, clock: clock}
}

// Handle выполняет запрос.
func (h *ListLessonsHandler) Handle(ctx context.Context, q ListLessonsQuery) ([]LessonDTO, error) {
	if q.ClassGroupID == "" {
		return nil, shared.NewDomainError("query", "ListLessons", shared.ErrValidation, "class_group_id is required")
	}
	if _, err := h.groups.GetByID(ctx, q.ClassGroupID); err != nil {
		return nil, fmt.Errorf("list_lessons: %w", err)
	}

	stored, err := h.lessons.ListByClassGroup(ctx, q.ClassGroupID)
	if err != nil {
		return nil, fmt.Errorf("list_lessons: failed to list lessons: %w", err)
	}

	now := h.clock.Now()
	out := make([]LessonDTO, 0, len(stored))
	for _, l := range stored {
		if !q.From.IsZero() && l.ScheduledOn.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && l.ScheduledOn.After(q.To) {
			continue
		}
		out = append(out, LessonDTO{
			ID:           l.ID,
			Sequence:     l.Sequence,
			Title:        l.Title,
			Date:         l.ScheduledOn.String(),
			StartsAt:     l.StartsAt,
			DurationMin:  int(l.Duration / time.Minute),
			Status:       string(l.EffectiveStatus(now)),
			Protected:    l.Protected,
			LessonPlanID: l.LessonPlanID,
		})
	}
	return out, nil
}
