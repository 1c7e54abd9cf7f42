// Package gamification содержит правила игровой механики посещаемости:
// опыт (XP), уровни, серии дней и достижения. Пакет не обращается к
// хранилищу: все функции чистые, транзакции, на уровне application.
package gamification

// ══════════════════════════════════════════════════════════════════════════════
// LEVELS
// ══════════════════════════════════════════════════════════════════════════════

// levelXP: минимальный суммарный XP для уровней 1..20.
var levelXP = [...]int{
	0, 100, 250, 450, 700, 1000, 1350, 1750, 2200, 2700,
	3250, 3850, 4500, 5200, 5950, 6750, 7600, 8500, 9450, 10450,
}

// MaxLevel: последний уровень таблицы.
const MaxLevel = len(levelXP)

// LevelForXP возвращает уровень для суммарного XP. Неубывающая ступенчатая функция.
func LevelForXP(xp int) int {
	level := 1
	for i, threshold := range levelXP {
		if xp >= threshold {
			level = i + 1
		}
	}
	return level
}

// XPForLevel возвращает порог уровня (для level вне диапазона: ближайшая граница).
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return levelXP[level-1]
}

// ProgressToNextLevel возвращает процент (0-100) до следующего уровня.
func ProgressToNextLevel(xp int) int {
	level := LevelForXP(xp)
	if level >= MaxLevel {
		return 100
	}
	current := XPForLevel(level)
	next := XPForLevel(level + 1)
	return (xp - current) * 100 / (next - current)
}
