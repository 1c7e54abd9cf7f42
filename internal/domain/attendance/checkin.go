// Package attendance contains the check-in domain: records, methods,
// admission windows, QR tokens and attendance patterns.
package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// METHOD & PRESENCE
// ══════════════════════════════════════════════════════════════════════════════

// Method is how the student checked in.
type Method string

const (
	MethodManual Method = "MANUAL"
	MethodQRCode Method = "QR_CODE"
	MethodKiosk  Method = "KIOSK"
	MethodApp    Method = "APP"
)

// ParseMethod normalizes and validates a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", shared.WrapError("attendance", "ParseMethod", shared.ErrInvalidInput,
			fmt.Sprintf("unknown check-in method %q", s), nil)
	}
	return m, nil
}

// IsValid checks if the method is known.
func (m Method) IsValid() bool {
	switch m {
	case MethodManual, MethodQRCode, MethodKiosk, MethodApp:
		return true
	}
	return false
}

// Presence tells whether the student arrived on time.
type Presence string

const (
	PresencePresent Presence = "PRESENT"
	PresenceLate    Presence = "LATE"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN RECORD
// ══════════════════════════════════════════════════════════════════════════════

// CheckIn is the (student, lesson) attendance record. At most one exists per
// pair and it is never modified after creation.
type CheckIn struct {
	ID           string
	StudentID    string
	LessonID     string
	ClassGroupID string
	CheckedInAt  time.Time
	Method       Method
	Presence     Presence
	Location     string
	Notes        string
	CreatedAt    time.Time
}

// IsLate reports whether the record was classified late.
func (c *CheckIn) IsLate() bool {
	return c.Presence == PresenceLate
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMISSION WINDOW
// ══════════════════════════════════════════════════════════════════════════════

// Window is the admission-control window around a lesson:
// [start − Before, start + duration + After], both ends inclusive.
type Window struct {
	Before time.Duration

	// After extends the window past the lesson end.
	After time.Duration

	// LateAfter is the grace after start before a check-in counts as late.
	LateAfter time.Duration
}

// DefaultWindow opens an hour before start and closes at the lesson end.
func DefaultWindow() Window {
	return Window{
		Before:    60 * time.Minute,
		After:     0,
		LateAfter: 0,
	}
}

// Bounds returns the open and close instants for a lesson.
func (w Window) Bounds(start time.Time, duration time.Duration) (opens, closes time.Time) {
	return start.Add(-w.Before), start.Add(duration).Add(w.After)
}

// Admit returns ErrOutsideWindow unless at lies within the window.
func (w Window) Admit(start time.Time, duration time.Duration, at time.Time) error {
	opens, closes := w.Bounds(start, duration)
	if at.Before(opens) {
		return shared.WrapError("attendance", "CheckIn", shared.ErrOutsideWindow,
			fmt.Sprintf("check-in opens at %s", opens.Format(time.RFC3339)), nil)
	}
	if at.After(closes) {
		return shared.WrapError("attendance", "CheckIn", shared.ErrOutsideWindow,
			fmt.Sprintf("check-in closed at %s", closes.Format(time.RFC3339)), nil)
	}
	return nil
}

// Classify returns LATE when at is past start + LateAfter.
func (w Window) Classify(start, at time.Time) Presence {
	if at.After(start.Add(w.LateAfter)) {
		return PresenceLate
	}
	return PresencePresent
}
