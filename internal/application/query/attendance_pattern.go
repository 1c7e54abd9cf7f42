package query

import (
	"context"
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ATTENDANCE PATTERN QUERY
// Посещаемость ученика за последние занятия его групп: процент, пропуски
// подряд, любимые дни недели, среднее время прихода и тренд.
// ══════════════════════════════════════════════════════════════════════════════

// GetAttendancePatternQuery содержит параметры запроса.
type GetAttendancePatternQuery struct {
	StudentID string

	// Until - граница истории (по умолчанию сейчас).
	Until time.Time
}

// AttendancePatternDTO - результат.
type AttendancePatternDTO struct {
	StudentID           string   `json:"student_id"`
	TotalLessons        int      `json:"total_lessons"`
	AttendedLessons     int      `json:"attended_lessons"`
	AttendanceRate      float64  `json:"attendance_rate"`
	ConsecutiveAbsences int      `json:"consecutive_absences"`
	PreferredWeekdays   []string `json:"preferred_weekdays"`
	AverageCheckInTime  string   `json:"average_check_in_time,omitempty"`
	RecentTrend         string   `json:"recent_trend"`
}

// GetAttendancePatternHandler обрабатывает запрос.
type GetAttendancePatternHandler struct {
	checkIns attendance.Repository
	clock    timeutil.Clock
	loc      *time.Location
}

// NewGetAttendancePatternHandler создаёт обработчик.
func NewGetAttendancePatternHandler(checkIns attendance.Repository, clock timeutil.Clock, loc *time.Location) *GetAttendancePatternHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if loc == nil {
		loc = timeutil.Location()
	}
	return &GetAttendancePatternHandler{checkIns: checkIns, clock: clock, loc: loc}
}

// Handle выполняет запрос.
func (h *GetAttendancePatternHandler) Handle(ctx context.Context, q GetAttendancePatternQuery) (*AttendancePatternDTO, error) {
	if q.StudentID == "" {
		return nil, shared.NewDomainError("query", "GetAttendancePattern", shared.ErrValidation, "student_id is required")
	}
	until := q.Until
	if until.IsZero() {
		until = h.clock.Now()
	}

	history, err := h.checkIns.History(ctx, q.StudentID, until, attendance.PatternWindow)
	if err != nil {
		return nil, fmt.Errorf("get_attendance_pattern: failed to get history: %w", err)
	}
	p := attendance.ComputePattern(history, h.loc)

	dto := &AttendancePatternDTO{
		StudentID:           q.StudentID,
		TotalLessons:        p.TotalLessons,
		AttendedLessons:     p.AttendedLessons,
		AttendanceRate:      p.AttendanceRate,
		ConsecutiveAbsences: p.ConsecutiveAbsences,
		PreferredWeekdays:   make([]string, 0, len(p.PreferredWeekdays)),
		AverageCheckInTime:  p.AverageCheckInTime,
		RecentTrend:         string(p.RecentTrend),
	}
	for _, d := range p.PreferredWeekdays {
		dto.PreferredWeekdays = append(dto.PreferredWeekdays, timeutil.WeekdayNamePt(d))
	}
	return dto, nil
}
