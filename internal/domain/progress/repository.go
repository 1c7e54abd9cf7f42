package progress

import (
	"context"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// PracticeInput: всё, что один check-in добавляет к прогрессу.
type PracticeInput struct {
	CheckInID    string
	StudentID    string
	CourseID     string // пусто, если группа не привязана к курсу
	TechniqueIDs []string
	At           time.Time
	Day          shared.Date
}

// PracticeResult: состояние прогресса после применения.
type PracticeResult struct {
	// Applied == false, если этот check-in уже был применён ранее.
	Applied       bool
	Techniques    []*TechniqueProgress
	Course        *CourseProgress
	MasteredCount int
}

// Repository хранит прогресс по техникам и курсам.
type Repository interface {
	// ApplyPractice атомарно: помечает check-in как применённый
	// (не более одного раза), увеличивает счётчики техник и курса.
	ApplyPractice(ctx context.Context, in PracticeInput) (*PracticeResult, error)

	// ListTechniques возвращает прогресс ученика по всем техникам.
	ListTechniques(ctx context.Context, studentID string) ([]*TechniqueProgress, error)

	// GetCourseProgress возвращает прогресс по курсу (нулевой, если нет записей).
	GetCourseProgress(ctx context.Context, studentID, courseID string) (*CourseProgress, error)

	// CountMastered возвращает число освоенных техник.
	CountMastered(ctx context.Context, studentID string) (int, error)

	// UnappliedCheckIns возвращает ID check-in'ов без применённого прогресса.
	// Пустой studentID: по всем ученикам.
	UnappliedCheckIns(ctx context.Context, studentID string, limit int) ([]string, error)
}

// Curriculum: внешний сервис учебной программы (только чтение).
type Curriculum interface {
	// CourseForClassGroup возвращает курс группы или "" без курса.
	CourseForClassGroup(ctx context.Context, classGroupID string) (string, error)

	// Course возвращает ErrCourseNotFound, если курса нет.
	Course(ctx context.Context, courseID string) (*Course, error)

	// TechniquesForLessonPlan возвращает техники плана занятия.
	TechniquesForLessonPlan(ctx context.Context, lessonPlanID string) ([]Technique, error)

	// LessonPlanForSequence возвращает план N-го занятия курса или "".
	LessonPlanForSequence(ctx context.Context, courseID string, sequence int) (string, error)

	// RequiredTechniques возвращает обязательные техники курса.
	RequiredTechniques(ctx context.Context, courseID string) ([]RequiredTechnique, error)
}
