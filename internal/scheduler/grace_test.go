package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryGraceStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryGraceStore()
	s.now = func() time.Time { return now }

	if in, _ := s.InGrace(ctx, "c-1"); in {
		t.Fatal("InGrace() = true before Acquire")
	}
	if ok, _ := s.Acquire(ctx, "c-1", 5*time.Minute); !ok {
		t.Fatal("Acquire() = false, want true")
	}
	if ok, _ := s.Acquire(ctx, "c-1", 5*time.Minute); ok {
		t.Error("second Acquire() = true, want false")
	}
	if in, _ := s.InGrace(ctx, "c-1"); !in {
		t.Error("InGrace() = false inside the window")
	}
	if in, _ := s.InGrace(ctx, "c-2"); in {
		t.Error("InGrace(c-2) = true, want false")
	}

	now = now.Add(5 * time.Minute)
	if in, _ := s.InGrace(ctx, "c-1"); in {
		t.Error("InGrace() = true after the window expired")
	}

	_, _ = s.Acquire(ctx, "c-1", time.Minute)
	_ = s.Release(ctx, "c-1")
	if in, _ := s.InGrace(ctx, "c-1"); in {
		t.Error("InGrace() = true after Release")
	}
}

func TestRedisGraceStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping test: Redis not available: %v", err)
	}

	id := "test-condition-" + time.Now().Format("150405.000000")
	s := NewRedisGraceStore(client)
	defer s.Release(ctx, id)

	if in, err := s.InGrace(ctx, id); err != nil || in {
		t.Fatalf("InGrace() = %v, %v; want false, nil", in, err)
	}
	ok, err := s.Acquire(ctx, id, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v; want true, nil", ok, err)
	}
	if ok, _ := s.Acquire(ctx, id, time.Minute); ok {
		t.Error("second Acquire() = true, want false")
	}
	if ttl := client.TTL(ctx, GraceKeyPrefix+id).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}
	if err := s.Release(ctx, id); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if in, _ := s.InGrace(ctx, id); in {
		t.Error("InGrace() = true after Release")
	}
}
