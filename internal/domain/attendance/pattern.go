package attendance

import (
	"fmt"
	"sort"
	"time"
)

// Trend is the recent attendance direction.
type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDeclining Trend = "DECLINING"
	TrendStable    Trend = "STABLE"
)

const (
	// PatternWindow is how many past lessons the pattern looks at.
	PatternWindow = 50

	recentLessons    = 10
	trendThreshold   = 10.0
	maxPreferredDays = 3
)

// LessonAttendance is one past lesson of a student's class groups with the
// student's check-in, if any.
type LessonAttendance struct {
	LessonID    string
	StartsAt    time.Time
	Attended    bool
	CheckedInAt time.Time
}

// Pattern summarizes how a student attends.
type Pattern struct {
	TotalLessons        int
	AttendedLessons     int
	AttendanceRate      float64 // 0..100
	ConsecutiveAbsences int
	PreferredWeekdays   []time.Weekday
	AverageCheckInTime  string // HH:MM local, empty without check-ins
	RecentTrend         Trend
}

// ComputePattern derives the pattern from history in any order. Only the
// latest PatternWindow lessons are considered.
func ComputePattern(history []LessonAttendance, loc *time.Location) Pattern {
	if loc == nil {
		loc = time.UTC
	}
	lessons := make([]LessonAttendance, len(history))
	copy(lessons, history)
	sort.Slice(lessons, func(i, j int) bool {
		return lessons[i].StartsAt.After(lessons[j].StartsAt)
	})
	if len(lessons) > PatternWindow {
		lessons = lessons[:PatternWindow]
	}

	p := Pattern{TotalLessons: len(lessons), RecentTrend: TrendStable}
	if len(lessons) == 0 {
		return p
	}

	dayFreq := make(map[time.Weekday]int)
	totalMinutes, checkIns := 0, 0
	for _, l := range lessons {
		if !l.Attended {
			continue
		}
		p.AttendedLessons++
		if !l.CheckedInAt.IsZero() {
			local := l.CheckedInAt.In(loc)
			dayFreq[local.Weekday()]++
			totalMinutes += local.Hour()*60 + local.Minute()
			checkIns++
		}
	}
	p.AttendanceRate = rate(p.AttendedLessons, p.TotalLessons)

	for _, l := range lessons {
		if l.Attended {
			break
		}
		p.ConsecutiveAbsences++
	}

	p.PreferredWeekdays = topWeekdays(dayFreq, maxPreferredDays)

	if checkIns > 0 {
		avg := (totalMinutes + checkIns/2) / checkIns
		p.AverageCheckInTime = fmt.Sprintf("%02d:%02d", avg/60, avg%60)
	}

	recent := lessons
	if len(recent) > recentLessons {
		recent = recent[:recentLessons]
	}
	recentAttended := 0
	for _, l := range recent {
		if l.Attended {
			recentAttended++
		}
	}
	recentRate := rate(recentAttended, len(recent))
	switch {
	case recentRate > p.AttendanceRate+trendThreshold:
		p.RecentTrend = TrendImproving
	case recentRate < p.AttendanceRate-trendThreshold:
		p.RecentTrend = TrendDeclining
	}
	return p
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

func topWeekdays(freq map[time.Weekday]int, n int) []time.Weekday {
	days := make([]time.Weekday, 0, len(freq))
	for d := range freq {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		if freq[days[i]] != freq[days[j]] {
			return freq[days[i]] > freq[days[j]]
		}
		return days[i] < days[j]
	})
	if len(days) > n {
		days = days[:n]
	}
	return days
}
