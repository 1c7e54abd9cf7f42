// Package eventhandler содержит обработчики последствий check-in'а и доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// PROGRESS FAN-OUT
// Разносит подтверждённый check-in по прогрессу:
// 1. Техники занятия: счётчики и уровень владения
// 2. Прогресс по курсу: число посещений, статус выпуска
// 3. Геймификация: XP, серия, уровень, достижения
//
// Прогресс применяется не более одного раза на check-in (отметка в хранилище),
// геймификация идемпотентна по журналу очков. Поэтому повторный вызов
// (например, из repair) безопасен.
// ═══════════════════════════════════════════════════════════════════════════

// GamificationApplier: применение check-in к игровому состоянию.
type GamificationApplier interface {
	Handle(ctx context.Context, cmd command.ApplyGamificationCommand) (*command.GamificationSummary, error)
}

// ProgressFanout реализует command.Fanout.
type ProgressFanout struct {
	progressRepo progress.Repository
	curriculum   progress.Curriculum
	gamification GamificationApplier
	logger       *slog.Logger
}

// NewProgressFanout создаёт fan-out. curriculum может быть nil: тогда
// техники и курс не отслеживаются.
func NewProgressFanout(
	progressRepo progress.Repository,
	curriculum progress.Curriculum,
	gamification GamificationApplier,
	logger *slog.Logger,
) *ProgressFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressFanout{
		progressRepo: progressRepo,
		curriculum:   curriculum,
		gamification: gamification,
		logger:       logger.With("handler", "progress_fanout"),
	}
}

var _ command.Fanout = (*ProgressFanout)(nil)

// Handle применяет check-in. Ошибка любого шага возвращается как есть;
// запись посещения к этому моменту уже сохранена.
func (f *ProgressFanout) Handle(ctx context.Context, in command.FanoutInput) (*command.FanoutSummary, error) {
	ci, lesson := in.CheckIn, in.Lesson
	if ci == nil || lesson == nil {
		return nil, shared.NewDomainError("progress", "Fanout", shared.ErrInvalidInput, "check-in and lesson are required")
	}

	// 1. Техники и курс
	techniques, err := command.LessonTechniques(ctx, f.curriculum, lesson)
	if err != nil {
		return nil, fmt.Errorf("fanout: %w", err)
	}
	courseID, err := f.courseFor(ctx, lesson.ClassGroupID)
	if err != nil {
		return nil, fmt.Errorf("fanout: %w", err)
	}

	ids := make([]string, 0, len(techniques))
	for _, t := range techniques {
		ids = append(ids, t.ID)
	}

	applied, err := f.progressRepo.ApplyPractice(ctx, progress.PracticeInput{
		CheckInID:    ci.ID,
		StudentID:    ci.StudentID,
		CourseID:     courseID,
		TechniqueIDs: ids,
		At:           ci.CheckedInAt,
		Day:          shared.DateOf(ci.CheckedInAt, timeutil.Location()),
	})
	if err != nil {
		return nil, fmt.Errorf("fanout: failed to apply practice: %w", err)
	}

	summary := &command.FanoutSummary{
		ProgressApplied:    applied.Applied,
		Techniques:         applied.Techniques,
		Course:             applied.Course,
		MasteredTechniques: applied.MasteredCount,
	}
	if !applied.Applied {
		f.logger.Debug("progress already applied", "check_in_id", ci.ID)
		if summary.MasteredTechniques, err = f.progressRepo.CountMastered(ctx, ci.StudentID); err != nil {
			return nil, fmt.Errorf("fanout: failed to count mastered techniques: %w", err)
		}
	}

	// 2. Выпуск
	if courseID != "" {
		graduation, err := f.graduation(ctx, ci.StudentID, courseID, summary.Course)
		if err != nil {
			// Статус выпуска: справочная информация, не блокируем геймификацию
			f.logger.Warn("failed to compute graduation status",
				"student_id", ci.StudentID,
				"course_id", courseID,
				"error", err,
			)
		} else {
			summary.Graduation = graduation
		}
	}

	// 3. Геймификация
	if f.gamification != nil {
		game, err := f.gamification.Handle(ctx, command.ApplyGamificationCommand{
			StudentID:          ci.StudentID,
			CheckInID:          ci.ID,
			CheckedInAt:        ci.CheckedInAt,
			Techniques:         len(techniques),
			MasteredTechniques: summary.MasteredTechniques,
			CorrelationID:      in.CorrelationID,
		})
		if err != nil {
			return nil, fmt.Errorf("fanout: %w", err)
		}
		summary.Gamification = game
	}

	f.logger.Info("check-in fanned out",
		"student_id", ci.StudentID,
		"check_in_id", ci.ID,
		"techniques", len(techniques),
		"course_id", courseID,
		"progress_applied", summary.ProgressApplied,
	)
	return summary, nil
}

func (f *ProgressFanout) courseFor(ctx context.Context, classGroupID string) (string, error) {
	if f.curriculum == nil {
		return "", nil
	}
	courseID, err := f.curriculum.CourseForClassGroup(ctx, classGroupID)
	if err != nil {
		return "", fmt.Errorf("failed to get course for class group: %w", err)
	}
	return courseID, nil
}

func (f *ProgressFanout) graduation(ctx context.Context, studentID, courseID string, cp *progress.CourseProgress) (*progress.GraduationStatus, error) {
	course, err := f.curriculum.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		if cp, err = f.progressRepo.GetCourseProgress(ctx, studentID, courseID); err != nil {
			return nil, err
		}
	}
	required, err := f.curriculum.RequiredTechniques(ctx, courseID)
	if err != nil {
		return nil, err
	}
	list, err := f.progressRepo.ListTechniques(ctx, studentID)
	if err != nil {
		return nil, err
	}
	practiced := make(map[string]*progress.TechniqueProgress, len(list))
	for _, tp := range list {
		practiced[tp.TechniqueID] = tp
	}

	status := progress.Graduation(*course, *cp, required, practiced)
	return &status, nil
}
