package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smartdefence/academy-hub/pkg/circuitbreaker"
)

// unlockScript deletes the key only while it still holds the caller's token,
// so an expired holder cannot release a lock someone else took since.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-instance SET NX lock with an owner token.
type Locker struct {
	cache *Cache
}

// NewLocker creates a locker.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

// TryLock acquires key for ttl without waiting.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		ttl = TTLReconcileLock
	}

	token := uuid.NewString()
	ok, err := circuitbreaker.Run(ctx, l.cache.breaker, func(ctx context.Context) (bool, error) {
		return l.cache.Client().SetNX(ctx, l.cache.Key("lock", key), token, ttl).Result()
	})
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if token still owns it.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	return l.cache.do(ctx, func(ctx context.Context) error {
		return unlockScript.Run(ctx, l.cache.Client(), []string{l.cache.Key("lock", key)}, token).Err()
	})
}
