package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON REPOSITORY
// Protection is computed with EXISTS on check_ins in every read. Deletion
// re-checks it in the same statement, and a check-in committed concurrently
// surfaces as a foreign key violation, which keeps the lesson.
// ══════════════════════════════════════════════════════════════════════════════

// LessonRepository implements schedule.LessonStore for PostgreSQL.
type LessonRepository struct {
	conn *Connection
}

var _ schedule.LessonStore = (*LessonRepository)(nil)

const lessonColumns = `l.id, l.class_group_id, l.sequence, l.title, l.scheduled_on, l.starts_at,
	l.duration_minutes, l.status, COALESCE(l.lesson_plan_id, ''), l.created_at`

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a lesson.
func (r *LessonRepository) GetByID(ctx context.Context, id string) (*schedule.Lesson, error) {
	l, err := scanLesson(r.conn.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons l WHERE l.id = $1`, id))
	if IsNoRows(err) {
		return nil, shared.ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return l, nil
}

// ListByClassGroup returns the group's lessons by sequence with protection.
func (r *LessonRepository) ListByClassGroup(ctx context.Context, classGroupID string) ([]schedule.TrackedLesson, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+lessonColumns+`,
			EXISTS (SELECT 1 FROM check_ins c WHERE c.lesson_id = l.id)
		FROM lessons l
		WHERE l.class_group_id = $1
		ORDER BY l.sequence`, classGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	var out []schedule.TrackedLesson
	for rows.Next() {
		var protected bool
		l, err := scanLesson(rows, &protected)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		out = append(out, schedule.TrackedLesson{Lesson: l, Protected: protected})
	}
	return out, rows.Err()
}

// FindByDate returns the group's lesson on date.
func (r *LessonRepository) FindByDate(ctx context.Context, classGroupID string, date shared.Date) (*schedule.Lesson, error) {
	l, err := scanLesson(r.conn.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons l
		WHERE l.class_group_id = $1 AND l.scheduled_on = $2`, classGroupID, dateArg(date)))
	if IsNoRows(err) {
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
	err := r.conn.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM lessons WHERE class_group_id = $1`,
		classGroupID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get max sequence: %w", err)
	}
	return maxSeq, nil
}

// IsProtected reports whether a check-in references the lesson.
func (r *LessonRepository) IsProtected(ctx context.Context, lessonID string) (bool, error) {
	var protected bool
	err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM check_ins WHERE lesson_id = $1)`, lessonID).Scan(&protected)
	if err != nil {
		return false, fmt.Errorf("failed to check lesson protection: %w", err)
	}
	return protected, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Insert stores a new lesson.
func (r *LessonRepository) Insert(ctx context.Context, l *schedule.Lesson) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO lessons (id, class_group_id, sequence, title, scheduled_on, starts_at,
			duration_minutes, status, lesson_plan_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.ClassGroupID, l.Sequence, l.Title, dateArg(l.ScheduledOn), l.StartsAt.UTC(),
		int(l.Duration/time.Minute), string(l.Status), textArg(l.LessonPlanID), l.CreatedAt.UTC(),
	)
	if IsUniqueViolation(err) {
		return shared.ErrLessonConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert lesson: %w", err)
	}
	return nil
}

// DeleteUnprotected deletes the lesson unless a check-in references it.
func (r *LessonRepository) DeleteUnprotected(ctx context.Context, lessonID string) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM lessons l
		WHERE l.id = $1 AND NOT EXISTS (SELECT 1 FROM check_ins c WHERE c.lesson_id = l.id)`, lessonID)
	if IsForeignKeyViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete lesson: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatus changes the stored status.
func (r *LessonRepository) SetStatus(ctx context.Context, lessonID string, status schedule.Status) error {
	tag, err := r.conn.Exec(ctx, `UPDATE lessons SET status = $2 WHERE id = $1`, lessonID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update lesson status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrLessonNotFound
	}
	return nil
}

func scanLesson(row pgx.Row, extra ...any) (*schedule.Lesson, error) {
	var (
		l           schedule.Lesson
		scheduledOn time.Time
		durationMin int
		status      string
	)
	dest := append([]any{&l.ID, &l.ClassGroupID, &l.Sequence, &l.Title, &scheduledOn, &l.StartsAt,
		&durationMin, &status, &l.LessonPlanID, &l.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	l.ScheduledOn = dateOf(&scheduledOn)
	l.StartsAt = l.StartsAt.UTC()
	l.Duration = time.Duration(durationMin) * time.Minute
	l.Status = schedule.Status(status)
	return &l, nil
}
