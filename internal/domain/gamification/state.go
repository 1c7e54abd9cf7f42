package gamification

import (
	"sort"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE & LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// GameState: агрегат ученика. Меняется только движком, по одному разу на check-in.
type GameState struct {
	StudentID string
	TotalXP   int
	Level     int
	Streak    Streak
	CheckIns  int
	UpdatedAt time.Time
}

// NewGameState создаёт начальное состояние.
func NewGameState(studentID string) *GameState {
	return &GameState{StudentID: studentID, Level: 1}
}

// Reason: причина записи в журнале очков.
type Reason string

const (
	ReasonCheckIn     Reason = "CHECK_IN"
	ReasonAchievement Reason = "ACHIEVEMENT"
	ReasonRepair      Reason = "REPAIR"
)

// PointsTransaction: запись журнала очков (только добавление).
// Сумма Amount по ученику всегда равна GameState.TotalXP.
type PointsTransaction struct {
	ID              string
	StudentID       string
	Amount          int
	Reason          Reason
	CheckInID       string
	AchievementCode AchievementCode
	Description     string
	CreatedAt       time.Time
}

// LedgerSum суммирует журнал.
func LedgerSum(entries []PointsTransaction) int {
	sum := 0
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// CheckInFact: данные check-in, нужные движку.
type CheckInFact struct {
	CheckInID          string
	At                 time.Time
	Techniques         int
	MasteredTechniques int
}

// Outcome: результат применения одного check-in.
type Outcome struct {
	Previous     GameState
	State        GameState
	Award        Award
	StreakChange StreakChange
	DaysMissed   int
	Unlocked     []AchievementDefinition
	Transactions []PointsTransaction
	LevelUp      bool
}

// XPGained: всего XP за check-in вместе с достижениями.
func (o Outcome) XPGained() int {
	return LedgerSum(o.Transactions)
}

// Engine применяет правила. Без состояния, безопасен для конкурентного использования.
type Engine struct {
	rules   Rules
	catalog []AchievementDefinition
	loc     *time.Location
}

// NewEngine создаёт движок. Дни считаются в часовом поясе loc.
func NewEngine(rules Rules, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{rules: rules, catalog: Catalog(), loc: loc}
}

// Rules возвращает правила движка.
func (e *Engine) Rules() Rules {
	return e.rules
}

// ApplyCheckIn вычисляет новое состояние после check-in. unlocked не изменяется.
func (e *Engine) ApplyCheckIn(state GameState, fact CheckInFact, unlocked map[AchievementCode]bool) Outcome {
	out := Outcome{Previous: state}
	day := shared.DateOf(fact.At, e.loc)

	firstOfMonth := isFirstOfMonth(state.Streak.LastDate, day)
	streak, change, missed := state.Streak.Record(day)
	award := e.rules.CheckInAward(streak.Current, fact.Techniques, firstOfMonth)

	next := state
	next.Streak = streak
	next.CheckIns++
	next.TotalXP += award.Total
	next.UpdatedAt = fact.At

	out.Transactions = append(out.Transactions, PointsTransaction{
		StudentID:   state.StudentID,
		Amount:      award.Total,
		Reason:      ReasonCheckIn,
		CheckInID:   fact.CheckInID,
		Description: "check-in",
		CreatedAt:   fact.At,
	})

	out.Unlocked, out.Transactions = e.unlock(&next, fact.MasteredTechniques, unlocked, fact.At, out.Transactions)
	next.Level = LevelForXP(next.TotalXP)

	out.State = next
	out.Award = award
	out.StreakChange = change
	out.DaysMissed = missed
	out.LevelUp = next.Level > LevelForXP(state.TotalXP)
	return out
}

// ReplayInput: история ученика для восстановления состояния.
type ReplayInput struct {
	StudentID          string
	CheckIns           []CheckInFact
	Ledger             []PointsTransaction
	Unlocked           map[AchievementCode]bool
	MasteredTechniques int
}

// ReplayResult: восстановленное состояние и недостающие записи журнала.
type ReplayResult struct {
	State    GameState
	Missing  []PointsTransaction
	Unlocked []AchievementDefinition
}

// Replay пересчитывает состояние из истории check-in'ов и журнала.
// Существующие записи журнала считаются верными; для check-in'ов без записи
// добавляется начисление (REPAIR). Повторный вызов на результате ничего не добавляет.
func (e *Engine) Replay(in ReplayInput, now time.Time) ReplayResult {
	recorded := make(map[string]bool, len(in.Ledger))
	for _, t := range in.Ledger {
		if t.CheckInID != "" {
			recorded[t.CheckInID] = true
		}
	}

	facts := make([]CheckInFact, len(in.CheckIns))
	copy(facts, in.CheckIns)
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].At.Before(facts[j].At) })

	state := *NewGameState(in.StudentID)
	var res ReplayResult

	for _, f := range facts {
		day := shared.DateOf(f.At, e.loc)
		firstOfMonth := isFirstOfMonth(state.Streak.LastDate, day)
		state.Streak, _, _ = state.Streak.Record(day)
		state.CheckIns++

		if recorded[f.CheckInID] {
			continue
		}
		award := e.rules.CheckInAward(state.Streak.Current, f.Techniques, firstOfMonth)
		res.Missing = append(res.Missing, PointsTransaction{
			StudentID:   in.StudentID,
			Amount:      award.Total,
			Reason:      ReasonRepair,
			CheckInID:   f.CheckInID,
			Description: "check-in (repaired)",
			CreatedAt:   now,
		})
		recorded[f.CheckInID] = true
	}

	state.TotalXP = LedgerSum(in.Ledger) + LedgerSum(res.Missing)
	res.Unlocked, res.Missing = e.unlock(&state, in.MasteredTechniques, in.Unlocked, now, res.Missing)
	state.Level = LevelForXP(state.TotalXP)
	state.UpdatedAt = now

	res.State = state
	return res
}

// unlock разблокирует достижения до неподвижной точки: награда за достижение
// может поднять уровень и открыть достижение уровня.
func (e *Engine) unlock(state *GameState, mastered int, already map[AchievementCode]bool, at time.Time, txs []PointsTransaction) ([]AchievementDefinition, []PointsTransaction) {
	have := make(map[AchievementCode]bool, len(already))
	for k, v := range already {
		have[k] = v
	}

	var unlocked []AchievementDefinition
	for {
		stats := Stats{
			CheckIns:           state.CheckIns,
			LongestStreak:      state.Streak.Longest,
			Level:              LevelForXP(state.TotalXP),
			MasteredTechniques: mastered,
		}
		newly := NewlyUnlocked(e.catalog, stats, have)
		if len(newly) == 0 {
			return unlocked, txs
		}
		for _, def := range newly {
			have[def.Code] = true
			state.TotalXP += def.XPReward
			unlocked = append(unlocked, def)
			txs = append(txs, PointsTransaction{
				StudentID:       state.StudentID,
				Amount:          def.XPReward,
				Reason:          ReasonAchievement,
				AchievementCode: def.Code,
				Description:     def.Name,
				CreatedAt:       at,
			})
		}
	}
}

func isFirstOfMonth(last, day shared.Date) bool {
	if last.IsZero() {
		return true
	}
	return day.After(last) && !day.SameMonth(last)
}
