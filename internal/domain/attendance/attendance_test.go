package attendance

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

func TestWindow_Admit(t *testing.T) {
	w := Window{Before: 60 * time.Minute, After: 10 * time.Minute}
	start := time.Date(2025, time.March, 12, 18, 0, 0, 0, time.UTC)
	dur := time.Hour

	cases := []struct {
		name string
		at   time.Time
		ok   bool
	}{
		{"exact open", start.Add(-60 * time.Minute), true},
		{"one second early", start.Add(-60*time.Minute - time.Second), false},
		{"at start", start, true},
		{"during class", start.Add(30 * time.Minute), true},
		{"exact close", start.Add(70 * time.Minute), true},
		{"one second late", start.Add(70*time.Minute + time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := w.Admit(start, dur, tc.at)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, shared.ErrOutsideWindow)
			assert.Equal(t, "OUTSIDE_WINDOW", shared.ErrorCode(err))
		})
	}
}

func TestWindow_Classify(t *testing.T) {
	start := time.Date(2025, time.March, 12, 18, 0, 0, 0, time.UTC)

	w := DefaultWindow()
	assert.Equal(t, PresencePresent, w.Classify(start, start.Add(-5*time.Minute)))
	assert.Equal(t, PresencePresent, w.Classify(start, start))
	assert.Equal(t, PresenceLate, w.Classify(start, start.Add(time.Second)))

	w.LateAfter = 10 * time.Minute
	assert.Equal(t, PresencePresent, w.Classify(start, start.Add(10*time.Minute)))
	assert.Equal(t, PresenceLate, w.Classify(start, start.Add(11*time.Minute)))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" qr_code ")
	require.NoError(t, err)
	assert.Equal(t, MethodQRCode, m)

	_, err = ParseMethod("telepathy")
	assert.True(t, shared.IsValidation(err))
}

func TestQRSigner_RoundTrip(t *testing.T) {
	signer, err := NewQRSigner([]byte("dojo-secret"), 15*time.Minute)
	require.NoError(t, err)
	now := time.Date(2025, time.March, 12, 17, 30, 0, 0, time.UTC)

	token, err := signer.Issue("lesson-1", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "lesson-1."))

	assert.NoError(t, signer.Verify(token, "lesson-1", now.Add(5*time.Minute)))
	assert.ErrorIs(t, signer.Verify(token, "lesson-2", now), shared.ErrForbidden)
	assert.ErrorIs(t, signer.Verify(token, "lesson-1", now.Add(16*time.Minute)), shared.ErrExpired)
	assert.ErrorIs(t, signer.Verify(token+"x", "lesson-1", now), shared.ErrForbidden)
	assert.ErrorIs(t, signer.Verify("garbage", "lesson-1", now), shared.ErrForbidden)

	other, err := NewQRSigner([]byte("another-secret"), 15*time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(token, "lesson-1", now), shared.ErrForbidden)
}

func TestNewQRSigner_RejectsBadKey(t *testing.T) {
	_, err := NewQRSigner(nil, time.Minute)
	assert.Error(t, err)
	_, err = NewQRSigner(make([]byte, 65), time.Minute)
	assert.Error(t, err)
}

func TestComputePattern(t *testing.T) {
	base := time.Date(2025, time.January, 6, 18, 0, 0, 0, time.UTC) // Monday
	var history []LessonAttendance

	// 20 weekly Monday lessons: the older 10 all missed, the recent 10 all attended
	// except the very last two.
	for i := 0; i < 20; i++ {
		start := base.AddDate(0, 0, 7*i)
		la := LessonAttendance{LessonID: "l", StartsAt: start}
		if i >= 10 && i < 18 {
			la.Attended = true
			la.CheckedInAt = start.Add(-10 * time.Minute)
		}
		history = append(history, la)
	}

	p := ComputePattern(history, time.UTC)

	assert.Equal(t, 20, p.TotalLessons)
	assert.Equal(t, 8, p.AttendedLessons)
	assert.InDelta(t, 40.0, p.AttendanceRate, 0.001)
	assert.Equal(t, 2, p.ConsecutiveAbsences)
	assert.Equal(t, []time.Weekday{time.Monday}, p.PreferredWeekdays)
	assert.Equal(t, "17:50", p.AverageCheckInTime)
	assert.Equal(t, TrendImproving, p.RecentTrend)
}

func TestComputePattern_Empty(t *testing.T) {
	p := ComputePattern(nil, time.UTC)
	assert.Zero(t, p.TotalLessons)
	assert.Equal(t, TrendStable, p.RecentTrend)
	assert.Empty(t, p.AverageCheckInTime)
}
