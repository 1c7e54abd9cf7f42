package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// CheckInRepository implements attendance.Repository.
type CheckInRepository struct {
	db *sql.DB
}

var _ attendance.Repository = (*CheckInRepository)(nil)

const checkInColumns = `id, student_id, lesson_id, class_group_id, checked_in_at, method, presence,
	location, notes, created_at`

// Create inserts a record; the (student, lesson) unique index rejects duplicates.
func (r *CheckInRepository) Create(ctx context.Context, c *attendance.CheckIn) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO check_ins (`+checkInColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StudentID, c.LessonID, c.ClassGroupID, toMillis(c.CheckedInAt), string(c.Method),
		string(c.Presence), c.Location, c.Notes, toMillis(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return shared.WrapError("attendance", "CheckIn", shared.ErrDuplicateCheckIn,
			"student already checked in to this lesson", nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create check-in: %w", err)
	}
	return nil
}

// GetByID returns a record.
func (r *CheckInRepository) GetByID(ctx context.Context, id string) (*attendance.CheckIn, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+checkInColumns+` FROM check_ins WHERE id = ?`, id)
	return r.one(row)
}

// GetByStudentAndLesson returns the pair's record.
func (r *CheckInRepository) GetByStudentAndLesson(ctx context.Context, studentID, lessonID string) (*attendance.CheckIn, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+checkInColumns+` FROM check_ins
		WHERE student_id = ? AND lesson_id = ?`, studentID, lessonID)
	return r.one(row)
}

// ListByStudent returns the student's records, oldest first.
func (r *CheckInRepository) ListByStudent(ctx context.Context, studentID string) ([]*attendance.CheckIn, error) {
	return r.list(ctx, `SELECT `+checkInColumns+` FROM check_ins
		WHERE student_id = ? ORDER BY checked_in_at, id`, studentID)
}

// ListByLesson returns the lesson's records, oldest first.
func (r *CheckInRepository) ListByLesson(ctx context.Context, lessonID string) ([]*attendance.CheckIn, error) {
	return r.list(ctx, `SELECT `+checkInColumns+` FROM check_ins
		WHERE lesson_id = ? ORDER BY checked_in_at, id`, lessonID)
}

// History returns past, non-cancelled lessons of the student's groups, newest first.
func (r *CheckInRepository) History(ctx context.Context, studentID string, until time.Time, limit int) ([]attendance.LessonAttendance, error) {
	if limit <= 0 {
		limit = attendance.PatternWindow
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.starts_at, c.checked_in_at
		FROM lessons l
		JOIN enrollments e ON e.class_group_id = l.class_group_id AND e.student_id = ?
		LEFT JOIN check_ins c ON c.lesson_id = l.id AND c.student_id = e.student_id
		WHERE l.starts_at < ? AND l.status <> 'CANCELLED'
		ORDER BY l.starts_at DESC
		LIMIT ?`, studentID, toMillis(until), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance history: %w", err)
	}
	defer rows.Close()

	var out []attendance.LessonAttendance
	for rows.Next() {
		var (
			la        attendance.LessonAttendance
			startsAt  int64
			checkedIn sql.NullInt64
		)
		if err := rows.Scan(&la.LessonID, &startsAt, &checkedIn); err != nil {
			return nil, fmt.Errorf("failed to scan attendance history: %w", err)
		}
		la.StartsAt = fromMillis(startsAt)
		if checkedIn.Valid {
			la.Attended = true
			la.CheckedInAt = fromMillis(checkedIn.Int64)
		}
		out = append(out, la)
	}
	return out, rows.Err()
}

func (r *CheckInRepository) one(row *sql.Row) (*attendance.CheckIn, error) {
	c, err := scanCheckIn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCheckInNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get check-in: %w", err)
	}
	return c, nil
}

func (r *CheckInRepository) list(ctx context.Context, query string, args ...any) ([]*attendance.CheckIn, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

func scanCheckIn(row rowScanner) (*attendance.CheckIn, error) {
	var (
		c                    attendance.CheckIn
		checkedIn, createdAt int64
		method, presence     string
	)
	if err := row.Scan(&c.ID, &c.StudentID, &c.LessonID, &c.ClassGroupID, &checkedIn, &method,
		&presence, &c.Location, &c.Notes, &createdAt); err != nil {
		return nil, err
	}
	c.CheckedInAt = fromMillis(checkedIn)
	c.CreatedAt = fromMillis(createdAt)
	c.Method = attendance.Method(method)
	c.Presence = attendance.Presence(presence)
	return &c, nil
}
