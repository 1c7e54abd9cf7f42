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
// CLASS GROUP REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ClassGroupRepository implements schedule.ClassGroupRepository for PostgreSQL.
type ClassGroupRepository struct {
	conn *Connection
}

var _ schedule.ClassGroupRepository = (*ClassGroupRepository)(nil)

const classGroupColumns = `id, name, COALESCE(course_id, ''), active, weekdays, start_time,
	duration_minutes, effective_from, effective_until, created_at, updated_at`

// GetByID returns a class group.
func (r *ClassGroupRepository) GetByID(ctx context.Context, id string) (*schedule.ClassGroup, error) {
	g, err := scanClassGroup(r.conn.QueryRow(ctx, `SELECT `+classGroupColumns+` FROM class_groups WHERE id = $1`, id))
	if IsNoRows(err) {
		return nil, shared.ErrClassGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class group: %w", err)
	}
	return g, nil
}

// ListActive returns active class groups ordered by name.
func (r *ClassGroupRepository) ListActive(ctx context.Context) ([]*schedule.ClassGroup, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+classGroupColumns+` FROM class_groups WHERE active ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list class groups: %w", err)
	}
	defer rows.Close()

	var out []*schedule.ClassGroup
	for rows.Next() {
		g, err := scanClassGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Save upserts the group and its schedule.
func (r *ClassGroupRepository) Save(ctx context.Context, g *schedule.ClassGroup) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now
	}
	duration := g.Schedule.Duration
	if duration <= 0 {
		duration = schedule.DefaultDuration
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO class_groups (id, name, course_id, active, weekdays, start_time, duration_minutes,
			effective_from, effective_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			course_id = EXCLUDED.course_id,
			active = EXCLUDED.active,
			weekdays = EXCLUDED.weekdays,
			start_time = EXCLUDED.start_time,
			duration_minutes = EXCLUDED.duration_minutes,
			effective_from = EXCLUDED.effective_from,
			effective_until = EXCLUDED.effective_until,
			updated_at = EXCLUDED.updated_at`,
		g.ID, g.Name, textArg(g.CourseID), g.Active, int16(g.Schedule.Weekdays),
		g.Schedule.StartTime.String(), int(duration/time.Minute),
		dateArg(g.Schedule.EffectiveFrom), dateArg(g.Schedule.EffectiveUntil),
		g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrCourseNotFound
		}
		return fmt.Errorf("failed to save class group: %w", err)
	}
	return nil
}

func scanClassGroup(row pgx.Row) (*schedule.ClassGroup, error) {
	var (
		g           schedule.ClassGroup
		weekdays    int16
		startTime   string
		durationMin int
		from        time.Time
		until       *time.Time
	)
	if err := row.Scan(&g.ID, &g.Name, &g.CourseID, &g.Active, &weekdays, &startTime,
		&durationMin, &from, &until, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}

	tod, err := schedule.ParseTimeOfDay(startTime)
	if err != nil {
		return nil, err
	}
	g.Schedule = schedule.RecurringSchedule{
		Weekdays:       schedule.WeekdaySet(weekdays),
		StartTime:      tod,
		Duration:       time.Duration(durationMin) * time.Minute,
		EffectiveFrom:  dateOf(&from),
		EffectiveUntil: dateOf(until),
	}
	return &g, nil
}
