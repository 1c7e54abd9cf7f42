package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/smartdefence/academy-hub/internal/application/query"
	"github.com/smartdefence/academy-hub/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// One sorted set, member = student id, score = total XP. Writes come from
// XPAwarded events; the rebuild job replaces the whole set from the store.
// ══════════════════════════════════════════════════════════════════════════════

// ErrStudentNotInLeaderboard is returned when the student has no score.
var ErrStudentNotInLeaderboard = errors.New("leaderboard_cache: student not in leaderboard")

// LeaderboardCache implements the leaderboard writer and reader over a ZSET.
type LeaderboardCache struct {
	cache *Cache
	key   string
}

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache, key: cache.Key("leaderboard", "xp")}
}

// SetScore records the student's total XP. Total XP never decreases, so a
// late event carrying an older total must not win: GT keeps the higher score.
func (l *LeaderboardCache) SetScore(ctx context.Context, studentID string, totalXP int) error {
	if studentID == "" {
		return ErrStudentIDEmpty
	}
	return l.cache.do(ctx, func(ctx context.Context) error {
		return l.cache.Client().ZAddArgs(ctx, l.key, redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: float64(totalXP), Member: studentID}},
		}).Err()
	})
}

// Top returns the highest scores; equal scores are ordered by student id.
func (l *LeaderboardCache) Top(ctx context.Context, limit int) ([]query.ScoreEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	zs, err := circuitbreaker.Run(ctx, l.cache.breaker, func(ctx context.Context) ([]redis.Z, error) {
		return l.cache.Client().ZRevRangeWithScores(ctx, l.key, 0, int64(limit-1)).Result()
	})
	if err != nil {
		return nil, err
	}

	out := make([]query.ScoreEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, query.ScoreEntry{StudentID: member, XP: int(z.Score)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// Rank returns the 1-based position of the student.
func (l *LeaderboardCache) Rank(ctx context.Context, studentID string) (int, error) {
	rank, err := circuitbreaker.Run(ctx, l.cache.breaker, func(ctx context.Context) (int64, error) {
		return l.cache.Client().ZRevRank(ctx, l.key, studentID).Result()
	})
	if errors.Is(err, redis.Nil) {
		return 0, ErrStudentNotInLeaderboard
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}

// Rebuild replaces the set atomically.
func (l *LeaderboardCache) Rebuild(ctx context.Context, entries []query.ScoreEntry) error {
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		if e.StudentID == "" {
			continue
		}
		members = append(members, redis.Z{Score: float64(e.XP), Member: e.StudentID})
	}

	return l.cache.do(ctx, func(ctx context.Context) error {
		pipe := l.cache.Client().TxPipeline()
		pipe.Del(ctx, l.key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, l.key, members...)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}
