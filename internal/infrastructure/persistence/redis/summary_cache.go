package redis

import (
	"context"
	"errors"
	"time"
)

// SummaryCache stores the student progress summary as JSON.
type SummaryCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewSummaryCache creates the cache; ttl <= 0 uses TTLSummary.
func NewSummaryCache(cache *Cache, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = TTLSummary
	}
	return &SummaryCache{cache: cache, ttl: ttl}
}

// Get decodes the cached summary into dest; false on a miss.
func (s *SummaryCache) Get(ctx context.Context, studentID string, dest any) (bool, error) {
	if studentID == "" {
		return false, ErrStudentIDEmpty
	}
	err := s.cache.Get(ctx, s.key(studentID), dest)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set caches the summary.
func (s *SummaryCache) Set(ctx context.Context, studentID string, value any) error {
	if studentID == "" {
		return ErrStudentIDEmpty
	}
	return s.cache.Set(ctx, s.key(studentID), value, s.ttl)
}

// Invalidate drops the student's summary.
func (s *SummaryCache) Invalidate(ctx context.Context, studentID string) error {
	return s.cache.Delete(ctx, s.key(studentID))
}

// InvalidateAll drops every cached summary.
func (s *SummaryCache) InvalidateAll(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, s.cache.Key("summary", "*"))
}

func (s *SummaryCache) key(studentID string) string {
	return s.cache.Key("summary", studentID)
}
