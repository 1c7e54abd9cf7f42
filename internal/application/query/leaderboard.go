// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Топ-N учеников по суммарному XP. Сначала читается Redis, при промахе
// или ошибке кэша читается хранилище.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Limit - количество записей (по умолчанию 20, максимум 100).
	Limit int

	// StudentID - если указан, в ответ добавляется место ученика.
	StudentID string
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	return nil
}

// ScoreEntry: запись рейтинга из кэша.
type ScoreEntry struct {
	StudentID string
	XP        int
}

// LeaderboardReader читает рейтинг из кэша.
type LeaderboardReader interface {
	Top(ctx context.Context, limit int) ([]ScoreEntry, error)

	// Rank возвращает место ученика (с 1).
	Rank(ctx context.Context, studentID string) (int, error)
}

// LeaderboardEntryDTO - запись лидерборда.
type LeaderboardEntryDTO struct {
	Rank      int    `json:"rank"`
	StudentID string `json:"student_id"`
	XP        int    `json:"xp"`
	Level     int    `json:"level"`
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Entries     []LeaderboardEntryDTO `json:"entries"`
	Source      string                `json:"source"` // "cache" | "store"
	GeneratedAt time.Time             `json:"generated_at"`

	// StudentRank - место запрошенного ученика; 0, если неизвестно.
	StudentRank int `json:"student_rank,omitempty"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	cache  LeaderboardReader
	store  gamification.Store
	logger *slog.Logger
}

// NewGetLeaderboardHandler создаёт обработчик. cache может быть nil.
func NewGetLeaderboardHandler(cache LeaderboardReader, store gamification.Store, logger *slog.Logger) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{cache: cache, store: store, logger: logger.With("query", "get_leaderboard")}
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	result := &GetLeaderboardResult{GeneratedAt: time.Now().UTC()}

	if h.cache != nil {
		scores, err := h.cache.Top(ctx, query.Limit)
		if err != nil {
			h.logger.Warn("leaderboard cache unavailable, reading store", "error", err)
		} else if len(scores) > 0 {
			for i, s := range scores {
				result.Entries = append(result.Entries, LeaderboardEntryDTO{
					Rank:      i + 1,
					StudentID: s.StudentID,
					XP:        s.XP,
					Level:     gamification.LevelForXP(s.XP),
				})
			}
			result.Source = "cache"
			result.StudentRank = h.cachedRank(ctx, query.StudentID)
			return result, nil
		}
	}

	states, err := h.store.TopByXP(ctx, query.Limit)
	if err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrServiceUnavailable, "failed to get leaderboard", err)
	}
	for i, st := range states {
		result.Entries = append(result.Entries, LeaderboardEntryDTO{
			Rank:      i + 1,
			StudentID: st.StudentID,
			XP:        st.TotalXP,
			Level:     st.Level,
		})
		if st.StudentID == query.StudentID {
			result.StudentRank = i + 1
		}
	}
	result.Source = "store"
	return result, nil
}

// cachedRank читает место ученика из кэша; ошибки не прерывают запрос.
func (h *GetLeaderboardHandler) cachedRank(ctx context.Context, studentID string) int {
	if studentID == "" {
		return 0
	}
	rank, err := h.cache.Rank(ctx, studentID)
	if err != nil {
		h.logger.Debug("student rank unavailable", "student_id", studentID, "error", err)
		return 0
	}
	return rank
}
