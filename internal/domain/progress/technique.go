// Package progress содержит доменную модель прогресса ученика:
// практику техник, посещаемость курса и допуск к аттестации.
package progress

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFICIENCY
// Уровень владения техникой выводится из числа повторений.
// Счётчик только растёт, поэтому уровень никогда не понижается.
// ══════════════════════════════════════════════════════════════════════════════

// Proficiency: уровень владения техникой.
type Proficiency string

const (
	ProficiencyLearning   Proficiency = "LEARNING"
	ProficiencyPracticing Proficiency = "PRACTICING"
	ProficiencyCompetent  Proficiency = "COMPETENT"
	ProficiencyProficient Proficiency = "PROFICIENT"
	ProficiencyExpert     Proficiency = "EXPERT"
	ProficiencyMastered   Proficiency = "MASTERED"
)

// proficiencySteps: пороги числа повторений, от старшего к младшему.
var proficiencySteps = []struct {
	minCount int
	level    Proficiency
}{
	{50, ProficiencyMastered},
	{35, ProficiencyExpert},
	{20, ProficiencyProficient},
	{10, ProficiencyCompetent},
	{5, ProficiencyPracticing},
	{0, ProficiencyLearning},
}

// ProficiencyFor возвращает уровень для числа повторений.
func ProficiencyFor(count int) Proficiency {
	for _, step := range proficiencySteps {
		if count >= step.minCount {
			return step.level
		}
	}
	return ProficiencyLearning
}

// Rank возвращает порядковый номер уровня (LEARNING = 0).
func (p Proficiency) Rank() int {
	switch p {
	case ProficiencyPracticing:
		return 1
	case ProficiencyCompetent:
		return 2
	case ProficiencyProficient:
		return 3
	case ProficiencyExpert:
		return 4
	case ProficiencyMastered:
		return 5
	default:
		return 0
	}
}

// AtLeast проверяет, что уровень не ниже other.
func (p Proficiency) AtLeast(other Proficiency) bool {
	return p.Rank() >= other.Rank()
}

// ══════════════════════════════════════════════════════════════════════════════
// TECHNIQUE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Technique: техника из учебной программы.
type Technique struct {
	ID       string
	Name     string
	Category string
}

// TechniqueProgress: накопленная практика техники учеником.
type TechniqueProgress struct {
	StudentID       string
	TechniqueID     string
	PracticeCount   int
	LastPracticedAt time.Time
	Proficiency     Proficiency
}

// RecordPractice увеличивает счётчик и пересчитывает уровень.
func (p *TechniqueProgress) RecordPractice(at time.Time) {
	p.PracticeCount++
	if at.After(p.LastPracticedAt) {
		p.LastPracticedAt = at
	}
	p.Proficiency = ProficiencyFor(p.PracticeCount)
}

// IsMastered проверяет, освоена ли техника.
func (p *TechniqueProgress) IsMastered() bool {
	return p.Proficiency == ProficiencyMastered
}
