package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// DirectoryRepository holds students, enrollments and the curriculum.
type DirectoryRepository struct {
	conn *Connection
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
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments e
			JOIN students s ON s.id = e.student_id
			WHERE e.student_id = $1 AND e.class_group_id = $2 AND e.active AND s.active
		)`, studentID, classGroupID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return ok, nil
}

// CreateStudent upserts a student.
func (r *DirectoryRepository) CreateStudent(ctx context.Context, id, name string, active bool) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO students (id, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active`,
		id, name, active)
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

// Enroll sets the student's enrollment in the class group.
func (r *DirectoryRepository) Enroll(ctx context.Context, studentID, classGroupID string, active bool) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO enrollments (student_id, class_group_id, active) VALUES ($1, $2, $3)
		ON CONFLICT (student_id, class_group_id) DO UPDATE SET active = EXCLUDED.active`,
		studentID, classGroupID, active)
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
	var courseID string
	err := r.conn.QueryRow(ctx, `SELECT COALESCE(course_id, '') FROM class_groups WHERE id = $1`, classGroupID).
		Scan(&courseID)
	if IsNoRows(err) {
		return "", shared.ErrClassGroupNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get class group course: %w", err)
	}
	return courseID, nil
}

// Course returns a course.
func (r *DirectoryRepository) Course(ctx context.Context, courseID string) (*progress.Course, error) {
	var c progress.Course
	err := r.conn.QueryRow(ctx, `
		SELECT id, name, required_lessons, total_techniques FROM courses WHERE id = $1`, courseID).
		Scan(&c.ID, &c.Name, &c.RequiredLessons, &c.TotalTechniques)
	if IsNoRows(err) {
		return nil, shared.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &c, nil
}

// TechniquesForLessonPlan returns the plan's techniques in plan order.
func (r *DirectoryRepository) TechniquesForLessonPlan(ctx context.Context, lessonPlanID string) ([]progress.Technique, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT t.id, t.name, t.category FROM lesson_plan_techniques lt
		JOIN techniques t ON t.id = lt.technique_id
		WHERE lt.lesson_plan_id = $1
		ORDER BY lt.position, t.id`, lessonPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson plan techniques: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.Technique, error) {
		var t progress.Technique
		err := row.Scan(&t.ID, &t.Name, &t.Category)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan technique: %w", err)
	}
	return out, nil
}

// LessonPlanForSequence returns "" when the course has no plan at sequence.
func (r *DirectoryRepository) LessonPlanForSequence(ctx context.Context, courseID string, sequence int) (string, error) {
	var id string
	err := r.conn.QueryRow(ctx, `SELECT id FROM lesson_plans WHERE course_id = $1 AND sequence = $2`,
		courseID, sequence).Scan(&id)
	if IsNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get lesson plan: %w", err)
	}
	return id, nil
}

// RequiredTechniques returns the course requirements ordered by technique name.
func (r *DirectoryRepository) RequiredTechniques(ctx context.Context, courseID string) ([]progress.RequiredTechnique, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT t.id, t.name, rt.min_repetitions FROM course_required_techniques rt
		JOIN techniques t ON t.id = rt.technique_id
		WHERE rt.course_id = $1
		ORDER BY t.name, t.id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list required techniques: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.RequiredTechnique, error) {
		var rt progress.RequiredTechnique
		err := row.Scan(&rt.TechniqueID, &rt.Name, &rt.MinRepetitions)
		return rt, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan required technique: %w", err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Curriculum writes
// ─────────────────────────────────────────────────────────────────────────────

// SaveCourse upserts a course.
func (r *DirectoryRepository) SaveCourse(ctx context.Context, c progress.Course) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO courses (id, name, required_lessons, total_techniques) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			required_lessons = EXCLUDED.required_lessons,
			total_techniques = EXCLUDED.total_techniques`,
		c.ID, c.Name, c.RequiredLessons, c.TotalTechniques)
	if err != nil {
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

// SaveTechnique upserts a technique.
func (r *DirectoryRepository) SaveTechnique(ctx context.Context, t progress.Technique) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO techniques (id, name, category) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category`,
		t.ID, t.Name, t.Category)
	if err != nil {
		return fmt.Errorf("failed to save technique: %w", err)
	}
	return nil
}

// SaveLessonPlan replaces the plan and its technique list.
func (r *DirectoryRepository) SaveLessonPlan(ctx context.Context, id, courseID string, sequence int, title string, techniqueIDs ...string) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO lesson_plans (id, course_id, sequence, title) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				course_id = EXCLUDED.course_id, sequence = EXCLUDED.sequence, title = EXCLUDED.title`,
			id, courseID, sequence, title)
		if err != nil {
			return fmt.Errorf("failed to save lesson plan: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM lesson_plan_techniques WHERE lesson_plan_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear lesson plan techniques: %w", err)
		}

		batch := &pgx.Batch{}
		for i, techniqueID := range techniqueIDs {
			batch.Queue(`INSERT INTO lesson_plan_techniques (lesson_plan_id, technique_id, position)
				VALUES ($1, $2, $3)`, id, techniqueID, i)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to add lesson plan techniques: %w", err)
		}
		return nil
	})
}

// RequireTechnique adds or updates a course requirement.
func (r *DirectoryRepository) RequireTechnique(ctx context.Context, courseID, techniqueID string, minRepetitions int) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO course_required_techniques (course_id, technique_id, min_repetitions) VALUES ($1, $2, $3)
		ON CONFLICT (course_id, technique_id) DO UPDATE SET min_repetitions = EXCLUDED.min_repetitions`,
		courseID, techniqueID, minRepetitions)
	if err != nil {
		return fmt.Errorf("failed to save course requirement: %w", err)
	}
	return nil
}
