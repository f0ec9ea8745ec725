package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// GraceKeyPrefix is the Redis key prefix of grace period markers.
const GraceKeyPrefix = "alerts:grace:"

// GraceStore tracks the suppression window that follows a triggered result.
type GraceStore interface {
	// InGrace reports whether the condition is inside its grace period.
	InGrace(ctx context.Context, conditionID string) (bool, error)
	// Acquire starts a grace period unless one is already running.
	// It returns false when another caller holds the period.
	Acquire(ctx context.Context, conditionID string, grace time.Duration) (bool, error)
	// Release ends a grace period early.
	Release(ctx context.Context, conditionID string) error
}

// RedisGraceStore keeps grace markers as expiring Redis keys so several
// scheduler instances share the same suppression state.
type RedisGraceStore struct {
	client *redis.Client
}

// NewRedisGraceStore creates a grace store on the given Redis client.
func NewRedisGraceStore(client *redis.Client) *RedisGraceStore {
	return &RedisGraceStore{client: client}
}

func (s *RedisGraceStore) InGrace(ctx context.Context, conditionID string) (bool, error) {
	n, err := s.client.Exists(ctx, GraceKeyPrefix+conditionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read grace marker: %w", err)
	}
	return n > 0, nil
}

func (s *RedisGraceStore) Acquire(ctx context.Context, conditionID string, grace time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, GraceKeyPrefix+conditionID, time.Now().UTC().Unix(), grace).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set grace marker: %w", err)
	}
	return ok, nil
}

func (s *RedisGraceStore) Release(ctx context.Context, conditionID string) error {
	if err := s.client.Del(ctx, GraceKeyPrefix+conditionID).Err(); err != nil {
		return fmt.Errorf("failed to delete grace marker: %w", err)
	}
	return nil
}

// MemoryGraceStore is a process-local GraceStore.
type MemoryGraceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryGraceStore creates an empty in-memory grace store.
func NewMemoryGraceStore() *MemoryGraceStore {
	return &MemoryGraceStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryGraceStore) InGrace(_ context.Context, conditionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(conditionID), nil
}

func (s *MemoryGraceStore) Acquire(_ context.Context, conditionID string, grace time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(conditionID) {
		return false, nil
	}
	s.expires[conditionID] = s.now().Add(grace)
	return true, nil
}

func (s *MemoryGraceStore) Release(_ context.Context, conditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, conditionID)
	return nil
}

func (s *MemoryGraceStore) activeLocked(conditionID string) bool {
	until, ok := s.expires[conditionID]
	if !ok {
		return false
	}
	if !s.now().Before(until) {
		delete(s.expires, conditionID)
		return false
	}
	return true
}
