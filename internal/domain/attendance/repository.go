package attendance

import (
	"context"
	"time"
)

// Repository stores check-in records.
type Repository interface {
	// Create inserts the record. The (student, lesson) unique constraint is
	// enforced by storage: a second insert returns ErrDuplicateCheckIn.
	Create(ctx context.Context, record *CheckIn) error

	// GetByID returns ErrCheckInNotFound when absent.
	GetByID(ctx context.Context, id string) (*CheckIn, error)

	// GetByStudentAndLesson returns ErrCheckInNotFound when absent.
	GetByStudentAndLesson(ctx context.Context, studentID, lessonID string) (*CheckIn, error)

	// ListByStudent returns the student's check-ins, oldest first.
	ListByStudent(ctx context.Context, studentID string) ([]*CheckIn, error)

	// ListByLesson returns the lesson's check-ins, oldest first.
	ListByLesson(ctx context.Context, lessonID string) ([]*CheckIn, error)

	// History returns the past lessons (started before until) of every class
	// group the student is enrolled in, with the student's check-in if any.
	History(ctx context.Context, studentID string, until time.Time, limit int) ([]LessonAttendance, error)
}

// EnrollmentChecker is the enrollment service seen by the check-in gate.
type EnrollmentChecker interface {
	// IsEligible reports whether the student is active and holds an active
	// enrollment in the class group.
	IsEligible(ctx context.Context, studentID, classGroupID string) (bool, error)
}
