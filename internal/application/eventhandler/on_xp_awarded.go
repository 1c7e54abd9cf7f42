package eventhandler

import (
	"context"
	"log/slog"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON XP AWARDED HANDLER
// Поддерживает производные данные после начисления XP:
// 1. Рейтинг (sorted set): новое значение TotalXP
// 2. Кэш сводки ученика: инвалидация
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardWriter обновляет рейтинг.
type LeaderboardWriter interface {
	SetScore(ctx context.Context, studentID string, totalXP int) error
}

// SummaryInvalidator сбрасывает кэш сводки ученика.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context, studentID string) error
}

// OnXPAwardedHandler обрабатывает shared.XPAwardedEvent.
type OnXPAwardedHandler struct {
	leaderboard LeaderboardWriter
	cache       SummaryInvalidator
	logger      *slog.Logger
}

// NewOnXPAwardedHandler создаёт обработчик. Любая зависимость может быть nil.
func NewOnXPAwardedHandler(leaderboard LeaderboardWriter, cache SummaryInvalidator, logger *slog.Logger) *OnXPAwardedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnXPAwardedHandler{
		leaderboard: leaderboard,
		cache:       cache,
		logger:      logger.With("handler", "on_xp_awarded"),
	}
}

// Handle реализует shared.EventHandler.
func (h *OnXPAwardedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	xpEvent, ok := event.(shared.XPAwardedEvent)
	if !ok {
		h.logger.Warn("received non-XPAwardedEvent", "event_type", event.EventType())
		return nil
	}
	studentID := xpEvent.AggregateID()

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, studentID); err != nil {
			h.logger.Warn("failed to invalidate summary cache", "student_id", studentID, "error", err)
		}
	}

	if h.leaderboard != nil {
		if err := h.leaderboard.SetScore(ctx, studentID, xpEvent.TotalXP); err != nil {
			h.logger.Error("failed to update leaderboard",
				"student_id", studentID,
				"total_xp", xpEvent.TotalXP,
				"error", err,
			)
			return err
		}
	}
	return nil
}
