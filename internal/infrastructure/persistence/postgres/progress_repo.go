package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smartdefence/academy-hub/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// progress_applications is the once-per-check-in marker: the insert that
// wins the primary key is the only one that bumps counters.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

var _ progress.Repository = (*ProgressRepository)(nil)

// ApplyPractice marks the check-in and bumps counters in one transaction.
func (r *ProgressRepository) ApplyPractice(ctx context.Context, in progress.PracticeInput) (*progress.PracticeResult, error) {
	res := &progress.PracticeResult{}

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO progress_applications (check_in_id, applied_at) VALUES ($1, $2)
			ON CONFLICT (check_in_id) DO NOTHING`, in.CheckInID, in.At.UTC())
		if err != nil {
			return fmt.Errorf("failed to mark check-in applied: %w", err)
		}
		res.Applied = tag.RowsAffected() == 1

		if res.Applied {
			seen := make(map[string]bool, len(in.TechniqueIDs))
			for _, techniqueID := range in.TechniqueIDs {
				if techniqueID == "" || seen[techniqueID] {
					continue
				}
				seen[techniqueID] = true

				tp, err := lockTechniqueProgress(ctx, tx, in.StudentID, techniqueID)
				if err != nil {
					return err
				}
				tp.RecordPractice(in.At)
				if _, err := tx.Exec(ctx, `
					INSERT INTO technique_progress (student_id, technique_id, practice_count, last_practiced_at, proficiency)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (student_id, technique_id) DO UPDATE SET
						practice_count = EXCLUDED.practice_count,
						last_practiced_at = EXCLUDED.last_practiced_at,
						proficiency = EXCLUDED.proficiency`,
					tp.StudentID, tp.TechniqueID, tp.PracticeCount, tp.LastPracticedAt.UTC(), string(tp.Proficiency)); err != nil {
					return fmt.Errorf("failed to save technique progress: %w", err)
				}
				res.Techniques = append(res.Techniques, tp)
			}

			if in.CourseID != "" {
				cp, err := getCourseProgress(ctx, tx, in.StudentID, in.CourseID, true)
				if err != nil {
					return err
				}
				cp.RecordAttendance(in.Day)
				if _, err := tx.Exec(ctx, `
					INSERT INTO course_progress (student_id, course_id, attended_lessons, last_attended_on)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (student_id, course_id) DO UPDATE SET
						attended_lessons = EXCLUDED.attended_lessons,
						last_attended_on = EXCLUDED.last_attended_on`,
					cp.StudentID, cp.CourseID, cp.AttendedLessons, dateArg(cp.LastAttendedOn)); err != nil {
					return fmt.Errorf("failed to save course progress: %w", err)
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
	rows, err := r.conn.Query(ctx, `
		SELECT student_id, technique_id, practice_count, last_practiced_at, proficiency
		FROM technique_progress WHERE student_id = $1 ORDER BY technique_id`, studentID)
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
	return getCourseProgress(ctx, r.conn, studentID, courseID, false)
}

// CountMastered returns the number of mastered techniques.
func (r *ProgressRepository) CountMastered(ctx context.Context, studentID string) (int, error) {
	return countMastered(ctx, r.conn, studentID)
}

// UnappliedCheckIns returns check-ins without a progress marker, oldest first.
func (r *ProgressRepository) UnappliedCheckIns(ctx context.Context, studentID string, limit int) ([]string, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := r.conn.Query(ctx, `
		SELECT c.id FROM check_ins c
		LEFT JOIN progress_applications p ON p.check_in_id = c.id
		WHERE p.check_in_id IS NULL AND ($1 = '' OR c.student_id = $1)
		ORDER BY c.checked_in_at, c.id
		LIMIT $2`, studentID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list unapplied check-ins: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan check-in ids: %w", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────

func lockTechniqueProgress(ctx context.Context, q Querier, studentID, techniqueID string) (*progress.TechniqueProgress, error) {
	tp, err := scanTechniqueProgress(q.QueryRow(ctx, `
		SELECT student_id, technique_id, practice_count, last_practiced_at, proficiency
		FROM technique_progress WHERE student_id = $1 AND technique_id = $2
		FOR UPDATE`, studentID, techniqueID))
	if IsNoRows(err) {
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

func scanTechniqueProgress(row pgx.Row) (*progress.TechniqueProgress, error) {
	var (
		tp          progress.TechniqueProgress
		proficiency string
	)
	if err := row.Scan(&tp.StudentID, &tp.TechniqueID, &tp.PracticeCount, &tp.LastPracticedAt, &proficiency); err != nil {
		return nil, err
	}
	tp.Proficiency = progress.Proficiency(proficiency)
	return &tp, nil
}

func getCourseProgress(ctx context.Context, q Querier, studentID, courseID string, forUpdate bool) (*progress.CourseProgress, error) {
	query := `SELECT attended_lessons, last_attended_on FROM course_progress
		WHERE student_id = $1 AND course_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	cp := &progress.CourseProgress{StudentID: studentID, CourseID: courseID}
	var last *time.Time
	err := q.QueryRow(ctx, query, studentID, courseID).Scan(&cp.AttendedLessons, &last)
	if IsNoRows(err) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course progress: %w", err)
	}
	cp.LastAttendedOn = dateOf(last)
	return cp, nil
}

func countMastered(ctx context.Context, q Querier, studentID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM technique_progress WHERE student_id = $1 AND proficiency = $2`,
		studentID, string(progress.ProficiencyMastered)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count mastered techniques: %w", err)
	}
	return n, nil
}
