package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule runs a job every Interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every returns an IntervalSchedule.
func Every(interval time.Duration) IntervalSchedule {
	return IntervalSchedule{Interval: interval}
}

// Next implements Schedule.
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week. Fields accept *, */n, n,
// n-m, n-m/s and comma lists.
//
//	"0 3 * * *"    every day at 03:00
//	"*/15 * * * *" every 15 minutes
type CronExpression struct {
	raw      string
	minutes  [60]bool
	hours    [24]bool
	days     [32]bool
	months   [13]bool
	weekdays [7]bool
}

// Presets used by the worker.
const (
	DailyAt3AM     = "0 3 * * *"
	Every15Minutes = "*/15 * * * *"
	EveryHour      = "0 * * * *"
)

// ParseCronExpression parses expr.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	ce := &CronExpression{raw: expr}
	specs := []struct {
		name     string
		min, max int
		set      func(int)
	}{
		{"minute", 0, 59, func(v int) { ce.minutes[v] = true }},
		{"hour", 0, 23, func(v int) { ce.hours[v] = true }},
		{"day", 1, 31, func(v int) { ce.days[v] = true }},
		{"month", 1, 12, func(v int) { ce.months[v] = true }},
		{"weekday", 0, 6, func(v int) { ce.weekdays[v] = true }},
	}
	for i, spec := range specs {
		if err := parseField(fields[i], spec.min, spec.max, spec.set); err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
	}
	return ce, nil
}

func parseField(field string, min, max int, set func(int)) error {
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		rangePart := part
		if i := strings.IndexByte(part, '/'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s <= 0 {
				return fmt.Errorf("invalid step %q", part)
			}
			step = s
			rangePart = part[:i]
		}

		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return fmt.Errorf("invalid range %q", rangePart)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return fmt.Errorf("invalid value %q", rangePart)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		if lo < min || hi > max {
			return fmt.Errorf("value out of range [%d-%d]: %q", min, max, part)
		}
		for v := lo; v <= hi; v += step {
			set(v)
		}
	}
	return nil
}

func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute after t, or the zero time when
// nothing matches within a year (e.g. "0 0 31 2 *").
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 366*24*60; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	return ce.minutes[t.Minute()] &&
		ce.hours[t.Hour()] &&
		ce.days[t.Day()] &&
		ce.months[int(t.Month())] &&
		ce.weekdays[int(t.Weekday())]
}
