package schedule

import (
	"context"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence (postgres, sqlite).
// ══════════════════════════════════════════════════════════════════════════════

// ClassGroupRepository stores class groups and their schedules.
type ClassGroupRepository interface {
	// GetByID returns ErrClassGroupNotFound when the group does not exist.
	GetByID(ctx context.Context, id string) (*ClassGroup, error)

	// ListActive returns every active class group.
	ListActive(ctx context.Context) ([]*ClassGroup, error)

	// Save creates or replaces the group, schedule included.
	Save(ctx context.Context, group *ClassGroup) error
}

// LessonStore is the persistence boundary for lesson instances.
// Protection is never stored: it is derived from check-in existence
// on every read.
type LessonStore interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Reads
	// ─────────────────────────────────────────────────────────────────────────

	// GetByID returns ErrLessonNotFound when the lesson does not exist.
	GetByID(ctx context.Context, id string) (*Lesson, error)

	// ListByClassGroup returns the group's lessons ordered by sequence,
	// each flagged with its current protection.
	ListByClassGroup(ctx context.Context, classGroupID string) ([]TrackedLesson, error)

	// FindByDate returns the group's lesson on date, or ErrLessonNotFound.
	FindByDate(ctx context.Context, classGroupID string, date shared.Date) (*Lesson, error)

	// MaxSequence returns the highest stored sequence, 0 when empty.
	MaxSequence(ctx context.Context, classGroupID string) (int, error)

	// IsProtected reports whether at least one check-in references the lesson.
	IsProtected(ctx context.Context, lessonID string) (bool, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Writes
	// ─────────────────────────────────────────────────────────────────────────

	// Insert stores a new lesson. A (class group, sequence) or
	// (class group, date) collision returns ErrLessonConflict.
	Insert(ctx context.Context, lesson *Lesson) error

	// DeleteUnprotected removes the lesson only if no check-in references it,
	// checked in the same statement. Returns false when the row was kept.
	DeleteUnprotected(ctx context.Context, lessonID string) (bool, error)

	// SetStatus changes the stored status (e.g. cancellation).
	SetStatus(ctx context.Context, lessonID string, status Status) error
}
