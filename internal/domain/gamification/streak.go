package gamification

import (
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (Серия дней посещений)
// ══════════════════════════════════════════════════════════════════════════════

// StreakChange описывает, что произошло с серией.
type StreakChange string

const (
	StreakStarted   StreakChange = "started"
	StreakExtended  StreakChange = "extended"
	StreakUnchanged StreakChange = "unchanged"
	StreakReset     StreakChange = "reset"
)

// Streak: серия последовательных дней с посещением.
type Streak struct {
	// Current: текущая серия дней.
	Current int

	// Longest: лучшая серия.
	Longest int

	// LastDate: последний засчитанный день.
	LastDate shared.Date
}

// Record засчитывает посещение в день day и возвращает новую серию.
//   - разрыв ровно в один день: серия +1;
//   - разрыв больше дня: серия сбрасывается до 1;
//   - тот же день: без изменений (повторные check-in за день не считаются);
//   - день раньше последнего засчитанного: без изменений.
//
// Второе значение: число пропущенных дней при сбросе.
func (s Streak) Record(day shared.Date) (Streak, StreakChange, int) {
	if s.LastDate.IsZero() {
		return Streak{Current: 1, Longest: max(s.Longest, 1), LastDate: day}, StreakStarted, 0
	}

	gap := day.DaysSince(s.LastDate)
	switch {
	case gap <= 0:
		return s, StreakUnchanged, 0
	case gap == 1:
		s.Current++
		if s.Current > s.Longest {
			s.Longest = s.Current
		}
		s.LastDate = day
		return s, StreakExtended, 0
	default:
		s.Current = 1
		if s.Longest < 1 {
			s.Longest = 1
		}
		s.LastDate = day
		return s, StreakReset, gap - 1
	}
}
