package gamification

import (
	"math"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP RULES (Начисление опыта за check-in)
// ══════════════════════════════════════════════════════════════════════════════

// StreakMultiplier: множитель бонуса, действующий с MinStreak дней.
type StreakMultiplier struct {
	MinStreak  int
	Multiplier float64
}

// Rules: параметры начисления XP.
type Rules struct {
	// BaseXP: XP за любое посещение.
	BaseXP int

	// TechniqueXP: XP за каждую отработанную на занятии технику.
	TechniqueXP int

	// MaxTechniquesCounted: предел техник, за которые даётся XP.
	MaxTechniquesCounted int

	// FirstOfMonthBonus: бонус за первое посещение в календарном месяце.
	FirstOfMonthBonus int

	// Multipliers: ступени множителя серии; последняя ступень, потолок.
	Multipliers []StreakMultiplier
}

// DefaultRules возвращает правила по умолчанию.
func DefaultRules() Rules {
	return Rules{
		BaseXP:               50,
		TechniqueXP:          10,
		MaxTechniquesCounted: 10,
		FirstOfMonthBonus:    25,
		Multipliers: []StreakMultiplier{
			{MinStreak: 7, Multiplier: 1.5},
			{MinStreak: 30, Multiplier: 2.0},
			{MinStreak: 60, Multiplier: 2.5},
			{MinStreak: 100, Multiplier: 3.0},
		},
	}
}

// Award: разбивка начисления за один check-in.
type Award struct {
	Base        int
	Techniques  int
	StreakBonus int
	MonthBonus  int
	Multiplier  float64
	Total       int
}

// MultiplierFor возвращает множитель для серии streak (1.0 ниже первой ступени).
func (r Rules) MultiplierFor(streak int) float64 {
	steps := make([]StreakMultiplier, len(r.Multipliers))
	copy(steps, r.Multipliers)
	sort.Slice(steps, func(i, j int) bool { return steps[i].MinStreak > steps[j].MinStreak })

	for _, s := range steps {
		if streak >= s.MinStreak {
			return s.Multiplier
		}
	}
	return 1.0
}

// CheckInAward считает XP за посещение. Бонус серии = BaseXP × (множитель − 1):
// не убывает с ростом серии и ограничен последней ступенью.
func (r Rules) CheckInAward(streak, techniques int, firstOfMonth bool) Award {
	if techniques < 0 {
		techniques = 0
	}
	if r.MaxTechniquesCounted > 0 && techniques > r.MaxTechniquesCounted {
		techniques = r.MaxTechniquesCounted
	}

	a := Award{
		Base:       r.BaseXP,
		Techniques: techniques * r.TechniqueXP,
		Multiplier: r.MultiplierFor(streak),
	}
	a.StreakBonus = int(math.Round(float64(r.BaseXP) * (a.Multiplier - 1)))
	if firstOfMonth {
		a.MonthBonus = r.FirstOfMonthBonus
	}
	a.Total = a.Base + a.Techniques + a.StreakBonus + a.MonthBonus
	return a
}
