package command

import (
	"context"
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// IssueQRTokenCommand asks for a QR token to display at a lesson.
type IssueQRTokenCommand struct {
	LessonID string `validate:"required"`
}

// IssueQRTokenResult is the token and its expiry.
type IssueQRTokenResult struct {
	LessonID  string
	Token     string
	ExpiresAt time.Time
}

// IssueQRTokenHandler handles IssueQRTokenCommand.
type IssueQRTokenHandler struct {
	lessons schedule.LessonStore
	signer  *attendance.QRSigner
	clock   timeutil.Clock
}

// NewIssueQRTokenHandler creates a new IssueQRTokenHandler.
func NewIssueQRTokenHandler(lessons schedule.LessonStore, signer *attendance.QRSigner, clock timeutil.Clock) *IssueQRTokenHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &IssueQRTokenHandler{lessons: lessons, signer: signer, clock: clock}
}

// Handle issues a token for a lesson that is not cancelled.
func (h *IssueQRTokenHandler) Handle(ctx context.Context, cmd IssueQRTokenCommand) (*IssueQRTokenResult, error) {
	if err := validateCommand("IssueQRToken", cmd); err != nil {
		return nil, fmt.Errorf("issue_qr_token: validation failed: %w", err)
	}
	if h.signer == nil {
		return nil, shared.NewDomainError("attendance", "IssueQR", shared.ErrServiceUnavailable, "QR check-in is not configured")
	}

	lesson, err := h.lessons.GetByID(ctx, cmd.LessonID)
	if err != nil {
		return nil, fmt.Errorf("issue_qr_token: failed to get lesson: %w", err)
	}
	if lesson.Status == schedule.StatusCancelled {
		return nil, shared.ErrLessonCancelled
	}

	now := h.clock.Now()
	token, err := h.signer.Issue(lesson.ID, now)
	if err != nil {
		return nil, fmt.Errorf("issue_qr_token: %w", err)
	}
	return &IssueQRTokenResult{LessonID: lesson.ID, Token: token, ExpiresAt: now.Add(h.signer.TTL())}, nil
}
