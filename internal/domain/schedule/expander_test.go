package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

var saoPaulo = time.FixedZone("America/Sao_Paulo", -3*60*60)

func monWed1800(from, until shared.Date) RecurringSchedule {
	return RecurringSchedule{
		Weekdays:       NewWeekdaySet(time.Monday, time.Wednesday),
		StartTime:      MustParseTimeOfDay("18:00"),
		Duration:       60 * time.Minute,
		EffectiveFrom:  from,
		EffectiveUntil: until,
	}
}

func TestExpand_MonWedFourWeeks(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3) // Monday
	until := from.AddDays(27)
	s := monWed1800(from, until)

	res := Expand(s, Horizon{From: from, To: until}, 1, saoPaulo)

	require.Len(t, res.Candidates, 8)
	assert.Empty(t, res.Warnings)
	for i, c := range res.Candidates {
		assert.Equal(t, i+1, c.Sequence)
		assert.Contains(t, []time.Weekday{time.Monday, time.Wednesday}, c.Date.Weekday())
		assert.Equal(t, 18, c.StartsAt.Hour())
		assert.Equal(t, saoPaulo, c.StartsAt.Location())
		assert.Equal(t, time.Hour, c.Duration)
		if i > 0 {
			assert.True(t, c.StartsAt.After(res.Candidates[i-1].StartsAt))
		}
	}
	assert.Equal(t, "2025-03-03", res.Candidates[0].Date.String())
	assert.Equal(t, "2025-03-26", res.Candidates[7].Date.String())
}

func TestExpand_EmptyWeekdaysWarns(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	s := monWed1800(from, from.AddDays(30))
	s.Weekdays = 0

	res := Expand(s, Horizon{From: from, To: from.AddDays(30)}, 1, saoPaulo)

	assert.Empty(t, res.Candidates)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no weekdays")
}

func TestExpand_MidCycleStart(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	s := monWed1800(from, shared.Date{})

	// Thursday: first Monday/Wednesday on or after is Monday 10th.
	start := shared.NewDate(2025, time.March, 6)
	res := Expand(s, Horizon{From: start, To: start.AddDays(7)}, 5, saoPaulo)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "2025-03-10", res.Candidates[0].Date.String())
	assert.Equal(t, 5, res.Candidates[0].Sequence)
	assert.Equal(t, "2025-03-12", res.Candidates[1].Date.String())
	assert.Equal(t, 6, res.Candidates[1].Sequence)
}

func TestExpand_ClipsToEffectiveRange(t *testing.T) {
	from := shared.NewDate(2025, time.March, 10)
	until := shared.NewDate(2025, time.March, 12)
	s := monWed1800(from, until)

	res := Expand(s, Horizon{From: shared.NewDate(2025, time.March, 1), To: shared.NewDate(2025, time.April, 1)}, 1, saoPaulo)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "2025-03-10", res.Candidates[0].Date.String())
	assert.Equal(t, "2025-03-12", res.Candidates[1].Date.String())
}

func TestExpand_Deterministic(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	s := monWed1800(from, from.AddDays(60))
	h := Horizon{From: from, To: from.AddDays(60)}

	assert.Equal(t, Expand(s, h, 3, saoPaulo), Expand(s, h, 3, saoPaulo))
}

func TestExpand_DefaultDuration(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	s := monWed1800(from, from)
	s.Duration = 0

	res := Expand(s, Horizon{From: from, To: from}, 1, saoPaulo)

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, DefaultDuration, res.Candidates[0].Duration)
}

func TestResolveHorizon(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)
	now := time.Date(2025, time.March, 5, 12, 0, 0, 0, saoPaulo)

	open := ResolveHorizon(monWed1800(from, shared.Date{}), now, 30, saoPaulo)
	assert.Equal(t, from, open.From)
	assert.Equal(t, "2025-04-04", open.To.String())

	until := shared.NewDate(2025, time.June, 30)
	closed := ResolveHorizon(monWed1800(from, until), now, 30, saoPaulo)
	assert.Equal(t, until, closed.To)
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:05")
	require.NoError(t, err)
	assert.Equal(t, 7, tod.Hour)
	assert.Equal(t, 5, tod.Minute)
	assert.Equal(t, "07:05", tod.String())

	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:cd", "12:00:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.ErrorIs(t, err, shared.ErrInvalidFormat, bad)
	}
}

func TestWeekdaysFromInts(t *testing.T) {
	set, err := WeekdaysFromInts([]int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, set.Ints())
	assert.Equal(t, "Mon,Wed", set.String())

	_, err = WeekdaysFromInts([]int{7})
	assert.True(t, shared.IsValidation(err))
}

func TestRecurringSchedule_Validate(t *testing.T) {
	from := shared.NewDate(2025, time.March, 3)

	assert.NoError(t, monWed1800(from, shared.Date{}).Validate())

	bad := monWed1800(from, from.AddDays(-1))
	assert.Error(t, bad.Validate())

	noStart := monWed1800(shared.Date{}, shared.Date{})
	assert.Error(t, noStart.Validate())

	zeroDur := monWed1800(from, shared.Date{})
	zeroDur.Duration = 0
	assert.Error(t, zeroDur.Validate())
}

func TestLesson_EffectiveStatus(t *testing.T) {
	start := time.Date(2025, time.March, 3, 18, 0, 0, 0, saoPaulo)
	l := &Lesson{StartsAt: start, Duration: time.Hour, Status: StatusScheduled}

	assert.Equal(t, StatusScheduled, l.EffectiveStatus(start.Add(59*time.Minute)))
	assert.Equal(t, StatusCompleted, l.EffectiveStatus(start.Add(time.Hour)))
	assert.Equal(t, StatusScheduled, l.Status, "lazy status must not mutate the lesson")

	l.Status = StatusCancelled
	assert.Equal(t, StatusCancelled, l.EffectiveStatus(start.Add(2*time.Hour)))
}
