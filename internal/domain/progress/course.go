package progress

import (
	"math"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE PROGRESS & GRADUATION
// ══════════════════════════════════════════════════════════════════════════════

// Course: курс (программа до следующей степени/пояса).
type Course struct {
	ID              string
	Name            string
	RequiredLessons int // занятий для выпуска
	TotalTechniques int
}

// RequiredTechnique: обязательная техника курса с минимумом повторений.
type RequiredTechnique struct {
	TechniqueID    string
	Name           string
	MinRepetitions int
}

// CourseProgress: счётчик посещённых занятий курса.
type CourseProgress struct {
	StudentID       string
	CourseID        string
	AttendedLessons int
	LastAttendedOn  shared.Date
}

// RecordAttendance увеличивает счётчик посещений.
func (c *CourseProgress) RecordAttendance(day shared.Date) {
	c.AttendedLessons++
	if day.After(c.LastAttendedOn) || c.LastAttendedOn.IsZero() {
		c.LastAttendedOn = day
	}
}

// MissingTechnique: обязательная техника, не набравшая минимум повторений.
type MissingTechnique struct {
	TechniqueID string
	Name        string
	Done        int
	Required    int
}

// GraduationStatus: готовность к выпуску.
type GraduationStatus struct {
	Percentage float64 // attended / required × 100, не больше 100
	Eligible   bool
	Missing    []MissingTechnique
}

// Graduation вычисляет процент и допуск: процент: доля посещённых занятий,
// допуск: 100% и минимум повторений по каждой обязательной технике.
func Graduation(course Course, cp CourseProgress, required []RequiredTechnique, practiced map[string]*TechniqueProgress) GraduationStatus {
	var st GraduationStatus

	if course.RequiredLessons > 0 {
		st.Percentage = round2(float64(cp.AttendedLessons) * 100 / float64(course.RequiredLessons))
		if st.Percentage > 100 {
			st.Percentage = 100
		}
	} else {
		st.Percentage = 100
	}

	for _, rt := range required {
		done := 0
		if p, ok := practiced[rt.TechniqueID]; ok {
			done = p.PracticeCount
		}
		if done < rt.MinRepetitions {
			st.Missing = append(st.Missing, MissingTechnique{
				TechniqueID: rt.TechniqueID,
				Name:        rt.Name,
				Done:        done,
				Required:    rt.MinRepetitions,
			})
		}
	}

	st.Eligible = st.Percentage >= 100 && len(st.Missing) == 0
	return st
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION ELIGIBILITY
// Допуск к промежуточной аттестации: посещаемость ≥ 80%, ≥ 70% техник курса
// на уровне PROFICIENT и выше, пройден рубеж занятий (8, 16, … 48).
// ══════════════════════════════════════════════════════════════════════════════

const (
	MinEvaluationAttendanceRate = 80.0
	MinEvaluationTechniqueShare = 0.7
)

// EvaluationMilestones: номера занятий, после которых проводится аттестация.
var EvaluationMilestones = []int{8, 16, 24, 32, 40, 48}

// EvaluationCheck: результат проверки допуска.
type EvaluationCheck struct {
	Eligible           bool
	Reasons            []string
	NextMilestone      int
	AttendanceRate     float64
	ProficientCount    int
	RequiredTechniques int
}

// EvaluationEligibility проверяет допуск. passedMilestone: последний
// пройденный рубеж (0, если аттестаций ещё не было).
func EvaluationEligibility(course Course, cp CourseProgress, attendanceRate float64, practiced []*TechniqueProgress, passedMilestone int) EvaluationCheck {
	check := EvaluationCheck{AttendanceRate: attendanceRate}

	check.NextMilestone = EvaluationMilestones[len(EvaluationMilestones)-1]
	for _, m := range EvaluationMilestones {
		if m > passedMilestone {
			check.NextMilestone = m
			break
		}
	}

	for _, p := range practiced {
		if p.Proficiency.AtLeast(ProficiencyProficient) {
			check.ProficientCount++
		}
	}
	check.RequiredTechniques = int(math.Floor(float64(course.TotalTechniques) * MinEvaluationTechniqueShare))

	if attendanceRate < MinEvaluationAttendanceRate {
		check.Reasons = append(check.Reasons, "attendance rate below 80%")
	}
	if check.ProficientCount < check.RequiredTechniques {
		check.Reasons = append(check.Reasons, "not enough proficient techniques")
	}
	if cp.AttendedLessons < check.NextMilestone {
		check.Reasons = append(check.Reasons, "lesson milestone not reached")
	}
	check.Eligible = len(check.Reasons) == 0
	return check
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
