package gamification

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS (Достижения)
// ══════════════════════════════════════════════════════════════════════════════

// AchievementCode: код достижения.
type AchievementCode string

const (
	// AchievementFirstClass: первое посещение.
	AchievementFirstClass AchievementCode = "first_class"
	// AchievementClasses10: 10 посещений.
	AchievementClasses10 AchievementCode = "classes_10"
	// AchievementClasses50: 50 посещений.
	AchievementClasses50 AchievementCode = "classes_50"
	// AchievementStreak7: 7 дней подряд.
	AchievementStreak7 AchievementCode = "streak_7"
	// AchievementStreak30: 30 дней подряд.
	AchievementStreak30 AchievementCode = "streak_30"
	// AchievementLevel5: достиг 5 уровня.
	AchievementLevel5 AchievementCode = "level_5"
	// AchievementLevel10: достиг 10 уровня.
	AchievementLevel10 AchievementCode = "level_10"
	// AchievementMastered1: освоил первую технику.
	AchievementMastered1 AchievementCode = "technique_mastered_1"
	// AchievementMastered10: освоил 10 техник.
	AchievementMastered10 AchievementCode = "technique_mastered_10"
)

// CriteriaKind: по какой метрике проверяется достижение.
type CriteriaKind string

const (
	CriteriaTotalClasses       CriteriaKind = "total_classes"
	CriteriaConsecutiveDays    CriteriaKind = "consecutive_days"
	CriteriaLevelReached       CriteriaKind = "level_reached"
	CriteriaTechniquesMastered CriteriaKind = "techniques_mastered"
)

// AchievementDefinition описывает достижение.
type AchievementDefinition struct {
	Code        AchievementCode
	Name        string
	Description string
	Kind        CriteriaKind
	Target      int
	XPReward    int
}

// Stats: метрики ученика для проверки достижений. Все метрики не убывают,
// поэтому однажды выполненное условие остаётся выполненным.
type Stats struct {
	CheckIns           int
	LongestStreak      int
	Level              int
	MasteredTechniques int
}

// Satisfied проверяет условие достижения.
func (d AchievementDefinition) Satisfied(s Stats) bool {
	switch d.Kind {
	case CriteriaTotalClasses:
		return s.CheckIns >= d.Target
	case CriteriaConsecutiveDays:
		return s.LongestStreak >= d.Target
	case CriteriaLevelReached:
		return s.Level >= d.Target
	case CriteriaTechniquesMastered:
		return s.MasteredTechniques >= d.Target
	default:
		return false
	}
}

// Catalog возвращает фиксированный набор достижений.
func Catalog() []AchievementDefinition {
	return []AchievementDefinition{
		{AchievementFirstClass, "Primeira Aula", "Completou sua primeira aula", CriteriaTotalClasses, 1, 50},
		{AchievementClasses10, "Guerreiro Dedicado", "Frequentou 10 aulas", CriteriaTotalClasses, 10, 100},
		{AchievementClasses50, "Lutador Persistente", "Frequentou 50 aulas", CriteriaTotalClasses, 50, 250},
		{AchievementStreak7, "Mestre da Consistência", "7 dias consecutivos de treino", CriteriaConsecutiveDays, 7, 150},
		{AchievementStreak30, "Disciplina de Ferro", "30 dias consecutivos de treino", CriteriaConsecutiveDays, 30, 300},
		{AchievementLevel5, "Subindo de Nível", "Alcançou o nível 5", CriteriaLevelReached, 5, 100},
		{AchievementLevel10, "Guerreiro Experiente", "Alcançou o nível 10", CriteriaLevelReached, 10, 300},
		{AchievementMastered1, "Primeiro Domínio", "Dominou sua primeira técnica", CriteriaTechniquesMastered, 1, 75},
		{AchievementMastered10, "Técnico Avançado", "Dominou 10 técnicas", CriteriaTechniquesMastered, 10, 200},
	}
}

// FindAchievement возвращает определение по коду.
func FindAchievement(code AchievementCode) (AchievementDefinition, bool) {
	for _, def := range Catalog() {
		if def.Code == code {
			return def, true
		}
	}
	return AchievementDefinition{}, false
}

// NewlyUnlocked возвращает выполненные, но ещё не полученные достижения
// в порядке каталога. Повторная разблокировка невозможна.
func NewlyUnlocked(catalog []AchievementDefinition, stats Stats, unlocked map[AchievementCode]bool) []AchievementDefinition {
	var out []AchievementDefinition
	for _, def := range catalog {
		if unlocked[def.Code] {
			continue
		}
		if def.Satisfied(stats) {
			out = append(out, def)
		}
	}
	return out
}
