package schedule

import (
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ReconciliationPlan is the diff between stored lessons and a fresh expansion.
type ReconciliationPlan struct {
	// Protected lessons have check-ins and are retained with their numbers.
	Protected []TrackedLesson

	// Past lessons are unprotected lessons that already started; left alone.
	Past []TrackedLesson

	// Kept lessons are future unprotected lessons that already equal their
	// renumbered candidate: same date, time, duration and sequence.
	Kept []TrackedLesson

	// Delete lists future unprotected lessons no candidate asks for.
	Delete []TrackedLesson

	// Insert lists future candidates with a free date, numbered from NextSequence.
	Insert []Candidate

	// Blocked lists future candidates whose date is held by a retained lesson.
	Blocked []Candidate

	// NextSequence is one past the highest retained sequence number.
	NextSequence int
}

// IsNoop reports whether applying the plan changes nothing.
func (p ReconciliationPlan) IsNoop() bool {
	return len(p.Delete) == 0 && len(p.Insert) == 0
}

// PlanReconciliation decides which stored lessons go and which candidates
// come in. Future unprotected lessons are replaced by the candidates,
// numbered in date order after the highest retained sequence. A future lesson
// that already holds its candidate's date and number is kept instead of being
// deleted and reinserted. Protected lessons are never in Delete. Running it
// against its own applied result yields an empty plan.
func PlanReconciliation(stored []TrackedLesson, candidates []Candidate, now time.Time) ReconciliationPlan {
	var plan ReconciliationPlan

	occupied := make(map[shared.Date]bool, len(stored))
	maxSeq := 0
	var future []TrackedLesson

	for _, l := range stored {
		switch {
		case l.Protected:
			plan.Protected = append(plan.Protected, l)
		case !l.IsFuture(now):
			plan.Past = append(plan.Past, l)
		default:
			future = append(future, l)
			continue
		}
		occupied[l.ScheduledOn] = true
		if l.Sequence > maxSeq {
			maxSeq = l.Sequence
		}
	}

	var wanted []Candidate
	for _, c := range candidates {
		if !c.StartsAt.After(now) {
			continue
		}
		if occupied[c.Date] {
			plan.Blocked = append(plan.Blocked, c)
			continue
		}
		wanted = append(wanted, c)
	}
	plan.NextSequence = maxSeq + 1
	wanted = Renumber(wanted, plan.NextSequence)

	bySlot := make(map[shared.Date]Candidate, len(wanted))
	for _, c := range wanted {
		bySlot[c.Date] = c
	}

	kept := make(map[shared.Date]bool, len(future))
	for _, l := range future {
		c, ok := bySlot[l.ScheduledOn]
		if ok && !kept[c.Date] && l.Sequence == c.Sequence && l.Matches(c) {
			plan.Kept = append(plan.Kept, l)
			kept[c.Date] = true
			continue
		}
		plan.Delete = append(plan.Delete, l)
	}

	for _, c := range wanted {
		if !kept[c.Date] {
			plan.Insert = append(plan.Insert, c)
		}
	}
	return plan
}
