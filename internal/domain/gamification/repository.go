package gamification

import (
	"context"
	"time"
)

// UnlockedAchievement: полученное учеником достижение.
type UnlockedAchievement struct {
	StudentID  string
	Code       AchievementCode
	UnlockedAt time.Time
}

// Store: хранилище игрового состояния.
type Store interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Транзакционные операции
	// ─────────────────────────────────────────────────────────────────────────

	// WithStudentLock выполняет fn в одной транзакции, удерживая блокировку
	// состояния ученика. Ошибка fn откатывает транзакцию целиком.
	WithStudentLock(ctx context.Context, studentID string, fn func(ctx context.Context, tx Tx) error) error

	// ─────────────────────────────────────────────────────────────────────────
	// Чтение
	// ─────────────────────────────────────────────────────────────────────────

	// Get возвращает состояние или ErrGameStateNotFound.
	Get(ctx context.Context, studentID string) (*GameState, error)

	// ListAchievements возвращает полученные достижения по времени.
	ListAchievements(ctx context.Context, studentID string) ([]UnlockedAchievement, error)

	// Ledger возвращает журнал очков ученика.
	Ledger(ctx context.Context, studentID string) ([]PointsTransaction, error)

	// TopByXP возвращает лучших по XP.
	TopByXP(ctx context.Context, limit int) ([]*GameState, error)

	// InconsistentStudents возвращает учеников с check-in без записи в журнале
	// или с расхождением суммы журнала и TotalXP.
	InconsistentStudents(ctx context.Context, limit int) ([]string, error)
}

// Tx: операции внутри заблокированной транзакции ученика.
type Tx interface {
	// Load возвращает текущее состояние (начальное, если его ещё нет).
	Load(ctx context.Context) (*GameState, error)

	// Unlocked возвращает коды полученных достижений.
	Unlocked(ctx context.Context) (map[AchievementCode]bool, error)

	// Ledger возвращает журнал ученика.
	Ledger(ctx context.Context) ([]PointsTransaction, error)

	// HasCheckInEntry сообщает, есть ли в журнале начисление за check-in.
	HasCheckInEntry(ctx context.Context, checkInID string) (bool, error)

	// Append добавляет запись журнала.
	Append(ctx context.Context, entry *PointsTransaction) error

	// Unlock сохраняет достижение; false: уже было получено.
	Unlock(ctx context.Context, code AchievementCode, at time.Time) (bool, error)

	// Save сохраняет состояние.
	Save(ctx context.Context, state *GameState) error
}
