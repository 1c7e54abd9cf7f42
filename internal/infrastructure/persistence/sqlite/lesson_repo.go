package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// LessonRepository implements schedule.LessonStore.
type LessonRepository struct {
	db *sql.DB
}

var _ schedule.LessonStore = (*LessonRepository)(nil)

const lessonColumns = `l.id, l.class_group_id, l.sequence, l.title, l.scheduled_on, l.starts_at,
	l.duration_minutes, l.status, COALESCE(l.lesson_plan_id, ''), l.created_at`

// GetByID returns a lesson.
func (r *LessonRepository) GetByID(ctx context.Context, id string) (*schedule.Lesson, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons l WHERE l.id = ?`, id)
	l, err := scanLesson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return l, nil
}

// ListByClassGroup returns the group's lessons by sequence with protection.
func (r *LessonRepository) ListByClassGroup(ctx context.Context, classGroupID string) ([]schedule.TrackedLesson, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lessonColumns+`,
			EXISTS (SELECT 1 FROM check_ins c WHERE c.lesson_id = l.id)
		FROM lessons l
		WHERE l.class_group_id = ?
		ORDER BY l.sequence`, classGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	var out []schedule.TrackedLesson
	for rows.Next() {
		var protected int
		l, err := scanLesson(rows, &protected)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		out = append(out, schedule.TrackedLesson{Lesson: l, Protected: protected == 1})
	}
	return out, rows.Err()
}

// FindByDate returns the group's lesson on date.
func (r *LessonRepository) FindByDate(ctx context.Context, classGroupID string, date shared.Date) (*schedule.Lesson, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons l
		WHERE l.class_group_id = ? AND l.scheduled_on = ?`, classGroupID, date.String())
	l, err := scanLesson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find lesson by date: %w", err)
	}
	return l, nil
}

// MaxSequence returns the highest sequence of the group, 0 when empty.
func (r *LessonRepository) MaxSequence(ctx context.Context, classGroupID string) (int, error) {
	var maxSeq int
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM lessons WHERE class_group_id = ?`,
		classGroupID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get max sequence: %w", err)
	}
	return maxSeq, nil
}

// IsProtected reports whether any check-in references the lesson.
func (r *LessonRepository) IsProtected(ctx context.Context, lessonID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM check_ins WHERE lesson_id = ?)`, lessonID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check protection: %w", err)
	}
	return exists == 1, nil
}

// Insert stores a new lesson.
func (r *LessonRepository) Insert(ctx context.Context, l *schedule.Lesson) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lessons (id, class_group_id, sequence, title, scheduled_on, starts_at,
			duration_minutes, status, lesson_plan_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ClassGroupID, l.Sequence, l.Title, l.ScheduledOn.String(), toMillis(l.StartsAt),
		int(l.Duration/time.Minute), string(l.Status), nullString(l.LessonPlanID), toMillis(l.CreatedAt),
	)
	if isUniqueViolation(err) {
		return shared.ErrLessonConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert lesson: %w", err)
	}
	return nil
}

// DeleteUnprotected removes the lesson unless a check-in references it.
func (r *LessonRepository) DeleteUnprotected(ctx context.Context, lessonID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM lessons
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM check_ins WHERE lesson_id = lessons.id)`, lessonID)
	if err != nil {
		return false, fmt.Errorf("failed to delete lesson: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete lesson: %w", err)
	}
	return n == 1, nil
}

// SetStatus updates the stored status.
func (r *LessonRepository) SetStatus(ctx context.Context, lessonID string, status schedule.Status) error {
	if !status.IsValid() {
		return shared.NewDomainError("schedule", "SetStatus", shared.ErrInvalidInput, "unknown lesson status")
	}
	res, err := r.db.ExecContext(ctx, `UPDATE lessons SET status = ? WHERE id = ?`, string(status), lessonID)
	if err != nil {
		return fmt.Errorf("failed to update lesson status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrLessonNotFound
	}
	return nil
}

func scanLesson(row rowScanner, extra ...any) (*schedule.Lesson, error) {
	var (
		l           schedule.Lesson
		scheduledOn string
		startsAt    int64
		durationMin int
		status      string
		createdAt   int64
	)
	dest := []any{&l.ID, &l.ClassGroupID, &l.Sequence, &l.Title, &scheduledOn, &startsAt,
		&durationMin, &status, &l.LessonPlanID, &createdAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	day, err := shared.ParseDate(scheduledOn)
	if err != nil {
		return nil, err
	}
	l.ScheduledOn = day
	l.StartsAt = fromMillis(startsAt)
	l.Duration = time.Duration(durationMin) * time.Minute
	l.Status = schedule.Status(status)
	l.CreatedAt = fromMillis(createdAt)
	return &l, nil
}
