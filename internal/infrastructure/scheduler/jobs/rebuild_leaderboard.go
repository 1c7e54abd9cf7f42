package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartdefence/academy-hub/internal/application/query"
	"github.com/smartdefence/academy-hub/internal/domain/gamification"
)

// LeaderboardRebuilder replaces the cached leaderboard.
type LeaderboardRebuilder interface {
	Rebuild(ctx context.Context, entries []query.ScoreEntry) error
}

// RebuildLeaderboardJob reloads the cached leaderboard from the store,
// dropping any drift left by lost XPAwarded events.
type RebuildLeaderboardJob struct {
	store  gamification.Store
	cache  LeaderboardRebuilder
	size   int
	logger *slog.Logger
}

// NewRebuildLeaderboardJob creates the job; size is how many students the
// cache holds.
func NewRebuildLeaderboardJob(store gamification.Store, cache LeaderboardRebuilder, size int, logger *slog.Logger) *RebuildLeaderboardJob {
	if size <= 0 {
		size = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildLeaderboardJob{store: store, cache: cache, size: size, logger: logger.With("job", "rebuild_leaderboard")}
}

func (j *RebuildLeaderboardJob) Name() string { return "rebuild_leaderboard" }

func (j *RebuildLeaderboardJob) Description() string {
	return "reloads the XP leaderboard cache from stored game states"
}

// Run executes the rebuild.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	states, err := j.store.TopByXP(ctx, j.size)
	if err != nil {
		return fmt.Errorf("load game states: %w", err)
	}

	entries := make([]query.ScoreEntry, 0, len(states))
	for _, st := range states {
		entries = append(entries, query.ScoreEntry{StudentID: st.StudentID, XP: st.TotalXP})
	}

	if err := j.cache.Rebuild(ctx, entries); err != nil {
		return fmt.Errorf("rebuild leaderboard cache: %w", err)
	}
	j.logger.Debug("leaderboard rebuilt", "entries", len(entries))
	return nil
}
