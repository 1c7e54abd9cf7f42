package schedule

import (
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// Horizon is an inclusive range of calendar days.
type Horizon struct {
	From shared.Date
	To   shared.Date
}

// IsEmpty reports whether the horizon contains no day.
func (h Horizon) IsEmpty() bool {
	return h.From.IsZero() || h.To.IsZero() || h.To.Before(h.From)
}

// Contains reports whether d lies in the horizon.
func (h Horizon) Contains(d shared.Date) bool {
	return !d.Before(h.From) && !d.After(h.To)
}

// ResolveHorizon returns the generation horizon for s: its effective range,
// with open-ended schedules running horizonDays past now.
func ResolveHorizon(s RecurringSchedule, now time.Time, horizonDays int, loc *time.Location) Horizon {
	h := Horizon{From: s.EffectiveFrom, To: s.EffectiveUntil}
	if s.IsOpenEnded() {
		if horizonDays <= 0 {
			horizonDays = 365
		}
		h.To = shared.DateOf(now, loc).AddDays(horizonDays)
	}
	return h
}

// Candidate is one lesson the schedule asks for.
type Candidate struct {
	Sequence int
	Date     shared.Date
	StartsAt time.Time
	Duration time.Duration
}

// EndsAt returns the lesson end.
func (c Candidate) EndsAt() time.Time {
	return c.StartsAt.Add(c.Duration)
}

// ExpansionResult is the output of Expand.
type ExpansionResult struct {
	Candidates []Candidate
	Warnings   []string
}

const (
	warnNoWeekdays   = "schedule has no weekdays: no lessons generated"
	warnEmptyHorizon = "generation horizon is empty: no lessons generated"
)

// Expand turns a recurring schedule into ordered candidates, one per day of
// the horizon whose weekday is in the schedule, numbered from offset.
// The horizon is clipped to the schedule's effective range. Expand is pure:
// identical inputs always give identical output.
func Expand(s RecurringSchedule, h Horizon, offset int, loc *time.Location) ExpansionResult {
	if loc == nil {
		loc = time.UTC
	}
	var res ExpansionResult

	if s.Weekdays.IsEmpty() {
		res.Warnings = append(res.Warnings, warnNoWeekdays)
		return res
	}

	if !s.EffectiveFrom.IsZero() && h.From.Before(s.EffectiveFrom) {
		h.From = s.EffectiveFrom
	}
	if !s.EffectiveUntil.IsZero() && (h.To.IsZero() || h.To.After(s.EffectiveUntil)) {
		h.To = s.EffectiveUntil
	}
	if h.IsEmpty() {
		res.Warnings = append(res.Warnings, warnEmptyHorizon)
		return res
	}

	duration := s.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}

	seq := offset
	for d := h.From; !d.After(h.To); d = d.AddDays(1) {
		if !s.Weekdays.Contains(d.Weekday()) {
			continue
		}
		res.Candidates = append(res.Candidates, Candidate{
			Sequence: seq,
			Date:     d,
			StartsAt: d.In(loc, s.StartTime.Hour, s.StartTime.Minute),
			Duration: duration,
		})
		seq++
	}
	return res
}

// Renumber returns a copy of cands numbered consecutively from offset.
func Renumber(cands []Candidate, offset int) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		c.Sequence = offset + i
		out[i] = c
	}
	return out
}
