package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// DirectoryRepository holds students, enrollments and the curriculum.
// It serves the check-in gate as attendance.EnrollmentChecker and the
// progress fanout as progress.Curriculum.
type DirectoryRepository struct {
	db *sql.DB
}

var (
	_ attendance.EnrollmentChecker = (*DirectoryRepository)(nil)
	_ progress.Curriculum          = (*DirectoryRepository)(nil)
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

// IsEligible reports whether the student is active and actively enrolled.
func (r *DirectoryRepository) IsEligible(ctx context.Context, studentID, classGroupID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments e
			JOIN students s ON s.id = e.student_id
			WHERE e.student_id = ? AND e.class_group_id = ? AND e.active = 1 AND s.active = 1
		)`, studentID, classGroupID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return ok, nil
}

// CreateStudent upserts a student.
func (r *DirectoryRepository) CreateStudent(ctx context.Context, id, name string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, active, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		id, name, boolInt(active), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

// Enroll sets the student's enrollment in the class group.
func (r *DirectoryRepository) Enroll(ctx context.Context, studentID, classGroupID string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, class_group_id, active, enrolled_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (student_id, class_group_id) DO UPDATE SET active = excluded.active`,
		studentID, classGroupID, boolInt(active), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

// CourseForClassGroup returns "" for a group without a course.
func (r *DirectoryRepository) CourseForClassGroup(ctx context.Context, classGroupID string) (string, error) {
	var courseID sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT course_id FROM class_groups WHERE id = ?`, classGroupID).Scan(&courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", shared.ErrClassGroupNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get class group course: %w", err)
	}
	return courseID.String, nil
}

// Course returns a course.
func (r *DirectoryRepository) Course(ctx context.Context, courseID string) (*progress.Course, error) {
	var c progress.Course
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, required_lessons, total_techniques FROM courses WHERE id = ?`, courseID).
		Scan(&c.ID, &c.Name, &c.RequiredLessons, &c.TotalTechniques)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &c, nil
}

// TechniquesForLessonPlan returns the plan's techniques in plan order.
func (r *DirectoryRepository) TechniquesForLessonPlan(ctx context.Context, lessonPlanID string) ([]progress.Technique, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.category FROM lesson_plan_techniques lt
		JOIN techniques t ON t.id = lt.technique_id
		WHERE lt.lesson_plan_id = ?
		ORDER BY lt.position, t.id`, lessonPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson plan techniques: %w", err)
	}
	defer rows.Close()

	var out []progress.Technique
	for rows.Next() {
		var t progress.Technique
		if err := rows.Scan(&t.ID, &t.Name, &t.Category); err != nil {
			return nil, fmt.Errorf("failed to scan technique: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LessonPlanForSequence returns "" when the course has no plan at sequence.
func (r *DirectoryRepository) LessonPlanForSequence(ctx context.Context, courseID string, sequence int) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM lesson_plans WHERE course_id = ? AND sequence = ?`,
		courseID, sequence).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get lesson plan: %w", err)
	}
	return id, nil
}

// RequiredTechniques returns the course requirements ordered by technique name.
func (r *DirectoryRepository) RequiredTechniques(ctx context.Context, courseID string) ([]progress.RequiredTechnique, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name, rt.min_repetitions FROM course_required_techniques rt
		JOIN techniques t ON t.id = rt.technique_id
		WHERE rt.course_id = ?
		ORDER BY t.name, t.id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list required techniques: %w", err)
	}
	defer rows.Close()

	var out []progress.RequiredTechnique
	for rows.Next() {
		var rt progress.RequiredTechnique
		if err := rows.Scan(&rt.TechniqueID, &rt.Name, &rt.MinRepetitions); err != nil {
			return nil, fmt.Errorf("failed to scan required technique: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Curriculum writes (seeding and admin)
// ─────────────────────────────────────────────────────────────────────────────

// SaveCourse upserts a course.
func (r *DirectoryRepository) SaveCourse(ctx context.Context, c progress.Course) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courses (id, name, required_lessons, total_techniques) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			required_lessons = excluded.required_lessons,
			total_techniques = excluded.total_techniques`,
		c.ID, c.Name, c.RequiredLessons, c.TotalTechniques)
	if err != nil {
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

// SaveTechnique upserts a technique.
func (r *DirectoryRepository) SaveTechnique(ctx context.Context, t progress.Technique) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO techniques (id, name, category) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, category = excluded.category`,
		t.ID, t.Name, t.Category)
	if err != nil {
		return fmt.Errorf("failed to save technique: %w", err)
	}
	return nil
}

// SaveLessonPlan replaces the plan and its technique list.
func (r *DirectoryRepository) SaveLessonPlan(ctx context.Context, id, courseID string, sequence int, title string, techniqueIDs ...string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lesson_plans (id, course_id, sequence, title) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				course_id = excluded.course_id, sequence = excluded.sequence, title = excluded.title`,
			id, courseID, sequence, title)
		if err != nil {
			return fmt.Errorf("failed to save lesson plan: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lesson_plan_techniques WHERE lesson_plan_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear lesson plan techniques: %w", err)
		}
		for i, techniqueID := range techniqueIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO lesson_plan_techniques (lesson_plan_id, technique_id, position) VALUES (?, ?, ?)`,
				id, techniqueID, i)
			if err != nil {
				return fmt.Errorf("failed to add technique %s to lesson plan: %w", techniqueID, err)
			}
		}
		return nil
	})
}

// RequireTechnique adds or updates a course requirement.
func (r *DirectoryRepository) RequireTechnique(ctx context.Context, courseID, techniqueID string, minRepetitions int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_required_techniques (course_id, technique_id, min_repetitions) VALUES (?, ?, ?)
		ON CONFLICT (course_id, technique_id) DO UPDATE SET min_repetitions = excluded.min_repetitions`,
		courseID, techniqueID, minRepetitions)
	if err != nil {
		return fmt.Errorf("failed to save course requirement: %w", err)
	}
	return nil
}
