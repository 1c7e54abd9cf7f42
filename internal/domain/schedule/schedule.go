// Package schedule contains the class-group schedule domain: recurring weekly
// schedules, their expansion into dated lesson candidates, stored lesson
// instances and the pure reconciliation plan between the two.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// DefaultDuration is the lesson length when a schedule does not set one.
const DefaultDuration = 60 * time.Minute

// ══════════════════════════════════════════════════════════════════════════════
// CLASS GROUP
// ══════════════════════════════════════════════════════════════════════════════

// ClassGroup is a named recurring class offering with a schedule and roster.
type ClassGroup struct {
	ID        string
	Name      string
	CourseID  string
	Active    bool
	Schedule  RecurringSchedule
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReplaceSchedule swaps the schedule wholesale. There is no versioning.
func (g *ClassGroup) ReplaceSchedule(s RecurringSchedule, now time.Time) error {
	if err := s.Validate(); err != nil {
		return err
	}
	g.Schedule = s
	g.UpdatedAt = now
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TIME OF DAY
// ══════════════════════════════════════════════════════════════════════════════

// TimeOfDay is a wall-clock time in the academy location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, shared.ErrInvalidTimeOfDay
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, shared.ErrInvalidTimeOfDay
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, shared.ErrInvalidTimeOfDay
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes after midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKDAY SET
// ══════════════════════════════════════════════════════════════════════════════

// WeekdaySet is a bitmask of weekdays, bit 0 = Sunday.
type WeekdaySet uint8

// NewWeekdaySet builds a set from weekdays.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// WeekdaysFromInts builds a set from 0=Sunday … 6=Saturday numbers.
func WeekdaysFromInts(days []int) (WeekdaySet, error) {
	var s WeekdaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			return 0, shared.WrapError("schedule", "ParseWeekdays", shared.ErrValueOutOfRange,
				fmt.Sprintf("weekday %d out of range 0..6", d), nil)
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

// Contains reports whether d is in the set.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// IsEmpty reports whether no weekday is set.
func (s WeekdaySet) IsEmpty() bool {
	return s == 0
}

// Days returns the weekdays in Sunday-first order.
func (s WeekdaySet) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// Ints returns the weekdays as 0=Sunday numbers.
func (s WeekdaySet) Ints() []int {
	days := s.Days()
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	sort.Ints(out)
	return out
}

// String returns short English names, e.g. "Mon,Wed".
func (s WeekdaySet) String() string {
	days := s.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()[:3]
	}
	return strings.Join(names, ",")
}

// ══════════════════════════════════════════════════════════════════════════════
// RECURRING SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// RecurringSchedule is a weekly pattern owned by a class group.
type RecurringSchedule struct {
	Weekdays  WeekdaySet
	StartTime TimeOfDay
	Duration  time.Duration

	// EffectiveFrom is the first day lessons may be generated for.
	EffectiveFrom shared.Date

	// EffectiveUntil is the last day, zero for open-ended schedules.
	EffectiveUntil shared.Date
}

// Validate checks the schedule invariants. An empty weekday set is valid:
// it yields no lessons and a warning on expansion.
func (s RecurringSchedule) Validate() error {
	if s.Duration <= 0 {
		return shared.WrapError("schedule", "Validate", shared.ErrInvalidInput, "duration must be positive", nil)
	}
	if s.Duration > 24*time.Hour {
		return shared.WrapError("schedule", "Validate", shared.ErrValueOutOfRange, "duration must not exceed 24h", nil)
	}
	if s.EffectiveFrom.IsZero() {
		return shared.WrapError("schedule", "Validate", shared.ErrEmptyValue, "effective start date is required", nil)
	}
	if !s.EffectiveUntil.IsZero() && s.EffectiveUntil.Before(s.EffectiveFrom) {
		return shared.WrapError("schedule", "Validate", shared.ErrInvalidInput, "effective end is before effective start", nil)
	}
	if s.StartTime.Hour < 0 || s.StartTime.Hour > 23 || s.StartTime.Minute < 0 || s.StartTime.Minute > 59 {
		return shared.ErrInvalidTimeOfDay
	}
	return nil
}

// IsOpenEnded reports whether the schedule has no end date.
func (s RecurringSchedule) IsOpenEnded() bool {
	return s.EffectiveUntil.IsZero()
}
