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

// ClassGroupRepository implements schedule.ClassGroupRepository.
type ClassGroupRepository struct {
	db *sql.DB
}

var _ schedule.ClassGroupRepository = (*ClassGroupRepository)(nil)

const classGroupColumns = `id, name, COALESCE(course_id, ''), active, weekdays, start_time,
	duration_minutes, effective_from, effective_until, created_at, updated_at`

// GetByID returns a class group.
func (r *ClassGroupRepository) GetByID(ctx context.Context, id string) (*schedule.ClassGroup, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+classGroupColumns+` FROM class_groups WHERE id = ?`, id)
	g, err := scanClassGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrClassGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class group: %w", err)
	}
	return g, nil
}

// ListActive returns active class groups ordered by name.
func (r *ClassGroupRepository) ListActive(ctx context.Context) ([]*schedule.ClassGroup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+classGroupColumns+` FROM class_groups WHERE active = 1 ORDER BY name, id`)
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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_groups (id, name, course_id, active, weekdays, start_time, duration_minutes,
			effective_from, effective_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			course_id = excluded.course_id,
			active = excluded.active,
			weekdays = excluded.weekdays,
			start_time = excluded.start_time,
			duration_minutes = excluded.duration_minutes,
			effective_from = excluded.effective_from,
			effective_until = excluded.effective_until,
			updated_at = excluded.updated_at`,
		g.ID, g.Name, nullString(g.CourseID), boolInt(g.Active), int(g.Schedule.Weekdays),
		g.Schedule.StartTime.String(), int(duration/time.Minute),
		g.Schedule.EffectiveFrom.String(), dateValue(g.Schedule.EffectiveUntil),
		toMillis(g.CreatedAt), toMillis(g.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save class group: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClassGroup(row rowScanner) (*schedule.ClassGroup, error) {
	var (
		g                  schedule.ClassGroup
		active             int
		weekdays           int
		startTime          string
		durationMin        int
		from               string
		until              sql.NullString
		createdAt, updated int64
	)
	if err := row.Scan(&g.ID, &g.Name, &g.CourseID, &active, &weekdays, &startTime,
		&durationMin, &from, &until, &createdAt, &updated); err != nil {
		return nil, err
	}

	tod, err := schedule.ParseTimeOfDay(startTime)
	if err != nil {
		return nil, err
	}
	effFrom, err := shared.ParseDate(from)
	if err != nil {
		return nil, err
	}
	effUntil, err := scanDate(until)
	if err != nil {
		return nil, err
	}

	g.Active = active == 1
	g.Schedule = schedule.RecurringSchedule{
		Weekdays:       schedule.WeekdaySet(weekdays),
		StartTime:      tod,
		Duration:       time.Duration(durationMin) * time.Minute,
		EffectiveFrom:  effFrom,
		EffectiveUntil: effUntil,
	}
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updated)
	return &g, nil
}
