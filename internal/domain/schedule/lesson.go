package schedule

import (
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// Status is the stored lesson status.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// DefaultTitleFormat names generated lessons by sequence.
const DefaultTitleFormat = "Aula %d"

// Lesson is one dated occurrence of a class group.
type Lesson struct {
	ID           string
	ClassGroupID string
	Sequence     int
	Title        string
	ScheduledOn  shared.Date
	StartsAt     time.Time
	Duration     time.Duration
	Status       Status
	LessonPlanID string // empty when no curriculum link
	CreatedAt    time.Time
}

// NewLesson builds a lesson for a reconciliation candidate.
func NewLesson(id, classGroupID string, c Candidate, titleFormat string, now time.Time) *Lesson {
	if titleFormat == "" {
		titleFormat = DefaultTitleFormat
	}
	return &Lesson{
		ID:           id,
		ClassGroupID: classGroupID,
		Sequence:     c.Sequence,
		Title:        fmt.Sprintf(titleFormat, c.Sequence),
		ScheduledOn:  c.Date,
		StartsAt:     c.StartsAt,
		Duration:     c.Duration,
		Status:       StatusScheduled,
		CreatedAt:    now,
	}
}

// EndsAt returns the lesson end.
func (l *Lesson) EndsAt() time.Time {
	return l.StartsAt.Add(l.Duration)
}

// EffectiveStatus resolves SCHEDULED→COMPLETED against now. Nothing is written.
func (l *Lesson) EffectiveStatus(now time.Time) Status {
	if l.Status == StatusScheduled && !now.Before(l.EndsAt()) {
		return StatusCompleted
	}
	return l.Status
}

// IsFuture reports whether the lesson starts strictly after now.
func (l *Lesson) IsFuture(now time.Time) bool {
	return l.StartsAt.After(now)
}

// Matches reports whether the lesson occupies exactly the candidate's slot.
func (l *Lesson) Matches(c Candidate) bool {
	return l.ScheduledOn == c.Date && l.StartsAt.Equal(c.StartsAt) && l.Duration == c.Duration
}

// TrackedLesson is a stored lesson with its protection derived from check-ins
// at read time.
type TrackedLesson struct {
	*Lesson
	Protected bool
}
