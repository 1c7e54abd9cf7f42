package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CheckInRepository implements attendance.Repository for PostgreSQL.
type CheckInRepository struct {
	conn *Connection
}

var _ attendance.Repository = (*CheckInRepository)(nil)

const checkInColumns = `id, student_id, lesson_id, class_group_id, checked_in_at, method, presence,
	location, notes, created_at`

// Create inserts a record. Concurrent duplicates lose on the unique index;
// a lesson deleted concurrently fails the foreign key.
func (r *CheckInRepository) Create(ctx context.Context, c *attendance.CheckIn) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO check_ins (`+checkInColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.StudentID, c.LessonID, c.ClassGroupID, c.CheckedInAt.UTC(), string(c.Method),
		string(c.Presence), c.Location, c.Notes, c.CreatedAt.UTC(),
	)
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return shared.WrapError("attendance", "CheckIn", shared.ErrDuplicateCheckIn,
			"student already checked in to this lesson", nil)
	case IsForeignKeyViolation(err):
		return shared.ErrLessonNotFound
	default:
		return fmt.Errorf("failed to create check-in: %w", err)
	}
}

// GetByID returns a record.
func (r *CheckInRepository) GetByID(ctx context.Context, id string) (*attendance.CheckIn, error) {
	return one(r.conn.QueryRow(ctx, `SELECT `+checkInColumns+` FROM check_ins WHERE id = $1`, id))
}

// GetByStudentAndLesson returns the pair's record.
func (r *CheckInRepository) GetByStudentAndLesson(ctx context.Context, studentID, lessonID string) (*attendance.CheckIn, error) {
	return one(r.conn.QueryRow(ctx, `SELECT `+checkInColumns+` FROM check_ins
		WHERE student_id = $1 AND lesson_id = $2`, studentID, lessonID))
}

// ListByStudent returns the student's records, oldest first.
func (r *CheckInRepository) ListByStudent(ctx context.Context, studentID string) ([]*attendance.CheckIn, error) {
	return r.list(ctx, `SELECT `+checkInColumns+` FROM check_ins
		WHERE student_id = $1 ORDER BY checked_in_at, id`, studentID)
}

// ListByLesson returns the lesson's records, oldest first.
func (r *CheckInRepository) ListByLesson(ctx context.Context, lessonID string) ([]*attendance.CheckIn, error) {
	return r.list(ctx, `SELECT `+checkInColumns+` FROM check_ins
		WHERE lesson_id = $1 ORDER BY checked_in_at, id`, lessonID)
}

// History returns past, non-cancelled lessons of the student's groups, newest first.
func (r *CheckInRepository) History(ctx context.Context, studentID string, until time.Time, limit int) ([]attendance.LessonAttendance, error) {
	if limit <= 0 {
		limit = attendance.PatternWindow
	}
	rows, err := r.conn.Query(ctx, `
		SELECT l.id, l.starts_at, c.checked_in_at
		FROM lessons l
		JOIN enrollments e ON e.class_group_id = l.class_group_id AND e.student_id = $1
		LEFT JOIN check_ins c ON c.lesson_id = l.id AND c.student_id = e.student_id
		WHERE l.starts_at < $2 AND l.status <> 'CANCELLED'
		ORDER BY l.starts_at DESC
		LIMIT $3`, studentID, until.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance history: %w", err)
	}
	defer rows.Close()

	var out []attendance.LessonAttendance
	for rows.Next() {
		var (
			la        attendance.LessonAttendance
			checkedIn *time.Time
		)
		if err := rows.Scan(&la.LessonID, &la.StartsAt, &checkedIn); err != nil {
			return nil, fmt.Errorf("failed to scan attendance history: %w", err)
		}
		if checkedIn != nil {
			la.Attended = true
			la.CheckedInAt = *checkedIn
		}
		out = append(out, la)
	}
	return out, rows.Err()
}

func (r *CheckInRepository) list(ctx context.Context, query string, args ...any) ([]*attendance.CheckIn, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var out []*attendance.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func one(row pgx.Row) (*attendance.CheckIn, error) {
	c, err := scanCheckIn(row)
	if IsNoRows(err) {
		return nil, shared.ErrCheckInNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get check-in: %w", err)
	}
	return c, nil
}

func scanCheckIn(row pgx.Row) (*attendance.CheckIn, error) {
	var (
		c                attendance.CheckIn
		method, presence string
	)
	if err := row.Scan(&c.ID, &c.StudentID, &c.LessonID, &c.ClassGroupID, &c.CheckedInAt, &method,
		&presence, &c.Location, &c.Notes, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Method = attendance.Method(method)
	c.Presence = attendance.Presence(presence)
	return &c, nil
}
