package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/smartdefence/academy-hub/internal/domain/progress"
)

// ProgressRepository implements progress.Repository.
type ProgressRepository struct {
	db *sql.DB
}

var _ progress.Repository = (*ProgressRepository)(nil)

// ApplyPractice marks the check-in as applied and bumps technique and course
// counters in one transaction. A check-in already marked leaves counters as they are.
func (r *ProgressRepository) ApplyPractice(ctx context.Context, in progress.PracticeInput) (*progress.PracticeResult, error) {
	res := &progress.PracticeResult{}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		mark, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO progress_applications (check_in_id, applied_at) VALUES (?, ?)`,
			in.CheckInID, toMillis(in.At))
		if err != nil {
			return fmt.Errorf("failed to mark check-in applied: %w", err)
		}
		n, err := mark.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to mark check-in applied: %w", err)
		}
		res.Applied = n == 1

		if res.Applied {
			for _, techniqueID := range uniqueIDs(in.TechniqueIDs) {
				tp, err := getTechniqueProgress(ctx, tx, in.StudentID, techniqueID)
				if err != nil {
					return err
				}
				tp.RecordPractice(in.At)
				if err := saveTechniqueProgress(ctx, tx, tp); err != nil {
					return err
				}
				res.Techniques = append(res.Techniques, tp)
			}

			if in.CourseID != "" {
				cp, err := getCourseProgress(ctx, tx, in.StudentID, in.CourseID)
				if err != nil {
					return err
				}
				cp.RecordAttendance(in.Day)
				if err := saveCourseProgress(ctx, tx, cp); err != nil {
					return err
				}
				res.Course = cp
			}
		}

		res.MasteredCount, err = countMastered(ctx, tx, in.StudentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListTechniques returns the student's technique progress ordered by technique.
func (r *ProgressRepository) ListTechniques(ctx context.Context, studentID string) ([]*progress.TechniqueProgress, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, technique_id, practice_count, last_practiced_at, proficiency
		FROM technique_progress WHERE student_id = ? ORDER BY technique_id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list technique progress: %w", err)
	}
	defer rows.Close()

	var out []*progress.TechniqueProgress
	for rows.Next() {
		tp, err := scanTechniqueProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan technique progress: %w", err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

// GetCourseProgress returns a zero record when the student has none.
func (r *ProgressRepository) GetCourseProgress(ctx context.Context, studentID, courseID string) (*progress.CourseProgress, error) {
	return getCourseProgress(ctx, r.db, studentID, courseID)
}

// CountMastered returns the number of mastered techniques.
func (r *ProgressRepository) CountMastered(ctx context.Context, studentID string) (int, error) {
	return countMastered(ctx, r.db, studentID)
}

// UnappliedCheckIns returns check-ins without a progress application, oldest first.
func (r *ProgressRepository) UnappliedCheckIns(ctx context.Context, studentID string, limit int) ([]string, error) {
	query := `
		SELECT c.id FROM check_ins c
		LEFT JOIN progress_applications p ON p.check_in_id = c.id
		WHERE p.check_in_id IS NULL AND (? = '' OR c.student_id = ?)
		ORDER BY c.checked_in_at, c.id`
	args := []any{studentID, studentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unapplied check-ins: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan check-in id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Statement helpers
// ─────────────────────────────────────────────────────────────────────────────

func getTechniqueProgress(ctx context.Context, q querier, studentID, techniqueID string) (*progress.TechniqueProgress, error) {
	row := q.QueryRowContext(ctx, `
		SELECT student_id, technique_id, practice_count, last_practiced_at, proficiency
		FROM technique_progress WHERE student_id = ? AND technique_id = ?`, studentID, techniqueID)
	tp, err := scanTechniqueProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &progress.TechniqueProgress{
			StudentID:   studentID,
			TechniqueID: techniqueID,
			Proficiency: progress.ProficiencyLearning,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get technique progress: %w", err)
	}
	return tp, nil
}

func saveTechniqueProgress(ctx context.Context, q querier, tp *progress.TechniqueProgress) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO technique_progress (student_id, technique_id, practice_count, last_practiced_at, proficiency)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (student_id, technique_id) DO UPDATE SET
			practice_count = excluded.practice_count,
			last_practiced_at = excluded.last_practiced_at,
			proficiency = excluded.proficiency`,
		tp.StudentID, tp.TechniqueID, tp.PracticeCount, toMillis(tp.LastPracticedAt), string(tp.Proficiency))
	if err != nil {
		return fmt.Errorf("failed to save technique progress: %w", err)
	}
	return nil
}

func scanTechniqueProgress(row rowScanner) (*progress.TechniqueProgress, error) {
	var (
		tp          progress.TechniqueProgress
		last        int64
		proficiency string
	)
	if err := row.Scan(&tp.StudentID, &tp.TechniqueID, &tp.PracticeCount, &last, &proficiency); err != nil {
		return nil, err
	}
	tp.LastPracticedAt = fromMillis(last)
	tp.Proficiency = progress.Proficiency(proficiency)
	return &tp, nil
}

func getCourseProgress(ctx context.Context, q querier, studentID, courseID string) (*progress.CourseProgress, error) {
	cp := &progress.CourseProgress{StudentID: studentID, CourseID: courseID}
	var last sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT attended_lessons, last_attended_on FROM course_progress
		WHERE student_id = ? AND course_id = ?`, studentID, courseID).Scan(&cp.AttendedLessons, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course progress: %w", err)
	}
	if cp.LastAttendedOn, err = scanDate(last); err != nil {
		return nil, fmt.Errorf("failed to parse last attended date: %w", err)
	}
	return cp, nil
}

func saveCourseProgress(ctx context.Context, q querier, cp *progress.CourseProgress) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO course_progress (student_id, course_id, attended_lessons, last_attended_on)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (student_id, course_id) DO UPDATE SET
			attended_lessons = excluded.attended_lessons,
			last_attended_on = excluded.last_attended_on`,
		cp.StudentID, cp.CourseID, cp.AttendedLessons, dateValue(cp.LastAttendedOn))
	if err != nil {
		return fmt.Errorf("failed to save course progress: %w", err)
	}
	return nil
}

func countMastered(ctx context.Context, q querier, studentID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM technique_progress WHERE student_id = ? AND proficiency = ?`,
		studentID, string(progress.ProficiencyMastered)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count mastered techniques: %w", err)
	}
	return n, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
