package schedule

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// applyPlan mimics what the engine does with a plan against an in-memory set.
func applyPlan(stored []TrackedLesson, plan ReconciliationPlan) []TrackedLesson {
	deleted := make(map[string]bool, len(plan.Delete))
	for _, l := range plan.Delete {
		deleted[l.ID] = true
	}
	var out []TrackedLesson
	for _, l := range stored {
		if !deleted[l.ID] {
			out = append(out, l)
		}
	}
	for _, c := range plan.Insert {
		out = append(out, TrackedLesson{Lesson: NewLesson(fmt.Sprintf("l-%d", c.Sequence), "g1", c, "", time.Time{})})
	}
	return out
}

func protect(stored []TrackedLesson, date string) []TrackedLesson {
	for i := range stored {
		if stored[i].ScheduledOn.String() == date {
			stored[i].Protected = true
		}
	}
	return stored
}

func TestPlanReconciliation_InitialInsertAll(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	until := from.AddDays(27)
	cands := Expand(monWed1800(from, until), Horizon{From: from, To: until}, 1, saoPaulo).Candidates
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, saoPaulo)

	plan := PlanReconciliation(nil, cands, now)

	require.Len(t, plan.Insert, 8)
	assert.Equal(t, 1, plan.NextSequence)
	assert.Equal(t, 1, plan.Insert[0].Sequence)
	assert.Equal(t, 8, plan.Insert[7].Sequence)
	assert.Empty(t, plan.Delete)
}

func TestPlanReconciliation_MonWedToTueThu(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	until := from.AddDays(27)
	h := Horizon{From: from, To: until}
	before := time.Date(2025, time.March, 1, 9, 0, 0, 0, saoPaulo)

	stored := applyPlan(nil, PlanReconciliation(nil, Expand(monWed1800(from, until), h, 1, saoPaulo).Candidates, before))
	require.Len(t, stored, 8)

	// Week 2 Wednesday gets a check-in, the schedule is edited that evening.
	stored = protect(stored, "2025-03-12")
	now := time.Date(2025, time.March, 12, 20, 0, 0, 0, saoPaulo)

	tueThu := monWed1800(from, until)
	tueThu.Weekdays = NewWeekdaySet(time.Tuesday, time.Thursday)
	plan := PlanReconciliation(stored, Expand(tueThu, h, 1, saoPaulo).Candidates, now)

	require.Len(t, plan.Protected, 1)
	assert.Equal(t, "2025-03-12", plan.Protected[0].ScheduledOn.String())
	assert.Equal(t, 4, plan.Protected[0].Sequence)

	assert.Len(t, plan.Past, 3)
	require.Len(t, plan.Delete, 4)
	for _, l := range plan.Delete {
		assert.False(t, l.Protected)
		assert.True(t, l.StartsAt.After(now))
	}

	// Thu 13, Tue 18, Thu 20, Tue 25, Thu 27.
	require.Len(t, plan.Insert, 5)
	assert.Equal(t, 5, plan.NextSequence)
	for i, c := range plan.Insert {
		assert.Equal(t, 5+i, c.Sequence)
		assert.Contains(t, []time.Weekday{time.Tuesday, time.Thursday}, c.Date.Weekday())
	}
	assert.Equal(t, "2025-03-13", plan.Insert[0].Date.String())
}

func TestPlanReconciliation_Idempotent(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	until := from.AddDays(27)
	h := Horizon{From: from, To: until}
	now := time.Date(2025, time.March, 5, 12, 0, 0, 0, saoPaulo)
	cands := Expand(monWed1800(from, until), h, 1, saoPaulo).Candidates

	first := applyPlan(nil, PlanReconciliation(nil, cands, now))
	second := PlanReconciliation(first, cands, now)

	assert.True(t, second.IsNoop())
	assert.Equal(t, len(first), len(second.Kept)+len(second.Past)+len(second.Protected))
}

func TestPlanReconciliation_NeverDeletesProtected(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	until := from.AddDays(27)
	h := Horizon{From: from, To: until}
	before := time.Date(2025, time.March, 1, 9, 0, 0, 0, saoPaulo)

	stored := applyPlan(nil, PlanReconciliation(nil, Expand(monWed1800(from, until), h, 1, saoPaulo).Candidates, before))
	for i := range stored {
		stored[i].Protected = true
	}

	empty := monWed1800(from, until)
	empty.Weekdays = 0
	plan := PlanReconciliation(stored, Expand(empty, h, 1, saoPaulo).Candidates, before)

	assert.Empty(t, plan.Delete)
	assert.Len(t, plan.Protected, 8)
}

func TestPlanReconciliation_ProtectedDateBlocksCandidate(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	until := from.AddDays(6)
	h := Horizon{From: from, To: until}
	before := time.Date(2025, time.March, 1, 9, 0, 0, 0, saoPaulo)

	stored := applyPlan(nil, PlanReconciliation(nil, Expand(monWed1800(from, until), h, 1, saoPaulo).Candidates, before))
	stored = protect(stored, "2025-03-05")

	// Same days, new time: the protected Wednesday keeps its 18:00 slot.
	moved := monWed1800(from, until)
	moved.StartTime = MustParseTimeOfDay("19:30")
	plan := PlanReconciliation(stored, Expand(moved, h, 1, saoPaulo).Candidates, before)

	require.Len(t, plan.Delete, 1)
	assert.Equal(t, "2025-03-03", plan.Delete[0].ScheduledOn.String())
	require.Len(t, plan.Blocked, 1)
	assert.Equal(t, "2025-03-05", plan.Blocked[0].Date.String())
	require.Len(t, plan.Insert, 1)
	assert.Equal(t, "2025-03-03", plan.Insert[0].Date.String())
	assert.Equal(t, 3, plan.Insert[0].Sequence)
}

func TestPlanReconciliation_AddedWeekdayKeepsDateOrder(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	until := from.AddDays(27)
	h := Horizon{From: from, To: until}
	before := time.Date(2025, time.March, 1, 9, 0, 0, 0, saoPaulo)

	stored := applyPlan(nil, PlanReconciliation(nil, Expand(monWed1800(from, until), h, 1, saoPaulo).Candidates, before))
	require.Len(t, stored, 8)

	now := time.Date(2025, time.March, 4, 12, 0, 0, 0, saoPaulo)
	monTueWed := monWed1800(from, until)
	monTueWed.Weekdays = NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday)
	cands := Expand(monTueWed, h, 1, saoPaulo).Candidates

	plan := PlanReconciliation(stored, cands, now)
	require.Len(t, plan.Past, 1)
	assert.Equal(t, 2, plan.NextSequence)
	assert.Len(t, plan.Delete, 7)
	require.Len(t, plan.Insert, 11)

	after := applyPlan(stored, plan)
	sort.Slice(after, func(i, j int) bool { return after[i].StartsAt.Before(after[j].StartsAt) })
	for i := 1; i < len(after); i++ {
		assert.Greater(t, after[i].Sequence, after[i-1].Sequence,
			"%s numbered before %s", after[i].ScheduledOn, after[i-1].ScheduledOn)
	}

	again := PlanReconciliation(after, cands, now)
	assert.True(t, again.IsNoop())
	assert.Len(t, again.Kept, 11)
}

func TestPlanReconciliation_KeepsLessonsThatHoldTheirNumber(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	until := from.AddDays(13)
	h := Horizon{From: from, To: until}
	before := time.Date(2025, time.March, 1, 9, 0, 0, 0, saoPaulo)

	stored := applyPlan(nil, PlanReconciliation(nil, Expand(monWed1800(from, until), h, 1, saoPaulo).Candidates, before))
	require.Len(t, stored, 4)

	// Friday added: Mon 3 and Wed 5 keep 1 and 2, later lessons shift.
	monWedFri := monWed1800(from, until)
	monWedFri.Weekdays = NewWeekdaySet(time.Monday, time.Wednesday, time.Friday)
	plan := PlanReconciliation(stored, Expand(monWedFri, h, 1, saoPaulo).Candidates, before)

	require.Len(t, plan.Kept, 2)
	assert.Equal(t, 1, plan.Kept[0].Sequence)
	assert.Equal(t, 2, plan.Kept[1].Sequence)
	assert.Len(t, plan.Delete, 2)
	require.Len(t, plan.Insert, 4)
	assert.Equal(t, "2025-03-07", plan.Insert[0].Date.String())
	assert.Equal(t, 3, plan.Insert[0].Sequence)
}
