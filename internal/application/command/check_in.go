package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN COMMAND
// Admission control for attendance. A committed record protects its lesson
// from reconciliation and triggers the progress fan-out.
// ══════════════════════════════════════════════════════════════════════════════

// CheckInCommand contains the data of one check-in attempt.
type CheckInCommand struct {
	// StudentID is the student checking in.
	StudentID string `validate:"required"`

	// LessonID is the lesson instance.
	LessonID string `validate:"required"`

	// Method is MANUAL, QR_CODE, KIOSK or APP.
	Method string `validate:"required"`

	// QRToken is required for QR_CODE check-ins.
	QRToken string `validate:"required_if=Method QR_CODE"`

	// Location is free-form (e.g. "tatame 2").
	Location string `validate:"max=200"`

	// Notes is free-form.
	Notes string `validate:"max=1000"`

	// Timestamp defaults to now if zero.
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CheckInCommand) Validate() error {
	if err := validateCommand("CheckIn", c); err != nil {
		return err
	}
	if _, err := attendance.ParseMethod(c.Method); err != nil {
		return err
	}
	return nil
}

// CheckInResult is the attendance confirmation.
type CheckInResult struct {
	// CheckIn is the committed record.
	CheckIn *attendance.CheckIn

	// Lesson is the lesson checked into.
	Lesson *schedule.Lesson

	// Fanout is nil when the fan-out failed.
	Fanout *FanoutSummary

	// FanoutError is set (kind ErrFanoutPartialFailure) when the record was
	// committed but progress or gamification were not fully applied. The
	// repair pass completes them later.
	FanoutError error
}

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// FanoutInput is a committed check-in handed to the fan-out.
type FanoutInput struct {
	CheckIn       *attendance.CheckIn
	Lesson        *schedule.Lesson
	CorrelationID string
}

// FanoutSummary reports the progress and gamification effects of a check-in.
type FanoutSummary struct {
	// ProgressApplied is false when progress for this check-in already existed.
	ProgressApplied bool

	Techniques         []*progress.TechniqueProgress
	Course             *progress.CourseProgress
	Graduation         *progress.GraduationStatus
	MasteredTechniques int

	Gamification *GamificationSummary
}

// Fanout applies downstream effects of a committed check-in.
type Fanout interface {
	Handle(ctx context.Context, in FanoutInput) (*FanoutSummary, error)
}

// LessonTechniques returns the techniques taught in lesson according to its
// lesson plan. Lessons without a plan teach nothing trackable.
func LessonTechniques(ctx context.Context, curriculum progress.Curriculum, lesson *schedule.Lesson) ([]progress.Technique, error) {
	if curriculum == nil || lesson == nil || lesson.LessonPlanID == "" {
		return nil, nil
	}
	techniques, err := curriculum.TechniquesForLessonPlan(ctx, lesson.LessonPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson techniques: %w", err)
	}
	return techniques, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CheckInHandlerConfig contains configuration for the handler.
type CheckInHandlerConfig struct {
	Window attendance.Window
}

// DefaultCheckInHandlerConfig returns default configuration.
func DefaultCheckInHandlerConfig() CheckInHandlerConfig {
	return CheckInHandlerConfig{Window: attendance.DefaultWindow()}
}

// CheckInHandler handles CheckInCommand.
type CheckInHandler struct {
	lessons        schedule.LessonStore
	checkIns       attendance.Repository
	enrollment     attendance.EnrollmentChecker
	qrSigner       *attendance.QRSigner
	fanout         Fanout
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger
	window         attendance.Window
}

// NewCheckInHandler creates a new CheckInHandler. qrSigner may be nil, in
// which case QR_CODE check-ins are refused. fanout may be nil.
func NewCheckInHandler(
	lessons schedule.LessonStore,
	checkIns attendance.Repository,
	enrollment attendance.EnrollmentChecker,
	qrSigner *attendance.QRSigner,
	fanout Fanout,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
	config CheckInHandlerConfig,
) *CheckInHandler {
	if config.Window.Before == 0 && config.Window.After == 0 && config.Window.LateAfter == 0 {
		config = DefaultCheckInHandlerConfig()
	}
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CheckInHandler{
		lessons:        lessons,
		checkIns:       checkIns,
		enrollment:     enrollment,
		qrSigner:       qrSigner,
		fanout:         fanout,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         logger.With("handler", "check_in"),
		window:         config.Window,
	}
}

// Handle executes the check-in command.
func (h *CheckInHandler) Handle(ctx context.Context, cmd CheckInCommand) (*CheckInResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("check_in: validation failed: %w", err)
	}
	method, _ := attendance.ParseMethod(cmd.Method)

	at := cmd.Timestamp
	if at.IsZero() {
		at = h.clock.Now()
	}

	// 1. Lesson
	lesson, err := h.lessons.GetByID(ctx, cmd.LessonID)
	if err != nil {
		return nil, fmt.Errorf("check_in: failed to get lesson: %w", err)
	}
	if lesson.Status == schedule.StatusCancelled {
		return nil, shared.ErrLessonCancelled
	}

	// 2. Window
	if err := h.window.Admit(lesson.StartsAt, lesson.Duration, at); err != nil {
		return nil, err
	}

	// 3. Enrollment
	eligible, err := h.enrollment.IsEligible(ctx, cmd.StudentID, lesson.ClassGroupID)
	if err != nil {
		return nil, fmt.Errorf("check_in: failed to check enrollment: %w", err)
	}
	if !eligible {
		return nil, shared.NewDomainError("attendance", "CheckIn", shared.ErrNotEnrolled,
			"student is not enrolled in the class group")
	}

	// 4. QR token
	if method == attendance.MethodQRCode {
		if h.qrSigner == nil {
			return nil, shared.ErrInvalidQRToken
		}
		if err := h.qrSigner.Verify(cmd.QRToken, lesson.ID, at); err != nil {
			return nil, err
		}
	}

	// 5. Record; the unique constraint settles concurrent duplicates.
	record := &attendance.CheckIn{
		ID:           uuid.NewString(),
		StudentID:    cmd.StudentID,
		LessonID:     lesson.ID,
		ClassGroupID: lesson.ClassGroupID,
		CheckedInAt:  at,
		Method:       method,
		Presence:     h.window.Classify(lesson.StartsAt, at),
		Location:     cmd.Location,
		Notes:        cmd.Notes,
		CreatedAt:    h.clock.Now(),
	}
	if err := h.checkIns.Create(ctx, record); err != nil {
		if errors.Is(err, shared.ErrDuplicateCheckIn) {
			return nil, err
		}
		return nil, fmt.Errorf("check_in: failed to create record: %w", err)
	}

	h.logger.Info("student checked in",
		"student_id", record.StudentID,
		"lesson_id", record.LessonID,
		"class_group_id", record.ClassGroupID,
		"method", string(record.Method),
		"presence", string(record.Presence),
	)

	event := shared.NewCheckedInEvent(record.StudentID, record.ID, record.LessonID, record.ClassGroupID,
		string(record.Method), record.IsLate(), record.CheckedInAt)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish checked-in event", "check_in_id", record.ID, "error", err)
	}

	result := &CheckInResult{CheckIn: record, Lesson: lesson}
	if h.fanout == nil {
		return result, nil
	}

	summary, err := h.fanout.Handle(ctx, FanoutInput{CheckIn: record, Lesson: lesson, CorrelationID: cmd.CorrelationID})
	if err != nil {
		result.FanoutError = shared.WrapError("attendance", "Fanout", shared.ErrFanoutPartialFailure,
			"check-in recorded, downstream updates pending repair", err)
		h.logger.Error("check-in fan-out failed",
			"student_id", record.StudentID,
			"check_in_id", record.ID,
			"error_code", shared.ErrorCode(result.FanoutError),
			"error", err,
		)
		if perr := h.eventPublisher.Publish(shared.NewFanoutFailedEvent(record.StudentID, record.ID, "fanout", err)); perr != nil {
			h.logger.Warn("failed to publish fan-out failed event", "check_in_id", record.ID, "error", perr)
		}
		return result, nil
	}
	result.Fanout = summary
	return result, nil
}
