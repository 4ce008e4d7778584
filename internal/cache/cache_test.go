package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(WithTTL(time.Minute))
	ctx := context.Background()

	msgs, err := c.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 0 {
		t.Error("cold read must be empty")
	}

	history := []models.Message{
		{Role: models.RoleUser, Content: "Hi", Timestamp: time.Now()},
		{Role: models.RoleAssistant, Content: "Hello!", Timestamp: time.Now()},
	}
	if err := c.Set(ctx, "u1", history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs, err = c.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "Hello!" {
		t.Errorf("unexpected history: %+v", msgs)
	}

	users, _ := c.ListUsers(ctx)
	if len(users) != 1 || users[0] != "u1" {
		t.Errorf("unexpected users: %v", users)
	}

	if err := c.Delete(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs, _ = c.Get(ctx, "u1")
	if len(msgs) != 0 {
		t.Error("expected empty history after delete")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(WithTTL(time.Minute))
	current := time.Now()
	c.now = func() time.Time { return current }
	ctx := context.Background()

	c.Set(ctx, "u1", []models.Message{{Role: models.RoleUser, Content: "Hi", Timestamp: current}})

	// Entry is live before the TTL elapses.
	msgs, _ := c.Get(ctx, "u1")
	if len(msgs) != 1 {
		t.Fatal("entry should be live before TTL")
	}

	// After the TTL the entry reads as empty, same as a cold key.
	current = current.Add(time.Minute + time.Second)
	msgs, _ = c.Get(ctx, "u1")
	if len(msgs) != 0 {
		t.Error("expired entry should read as empty")
	}
	users, _ := c.ListUsers(ctx)
	if len(users) != 0 {
		t.Errorf("expired entry should not be listed: %v", users)
	}
}

func TestMemoryCacheSetCopiesInput(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	history := []models.Message{{Role: models.RoleUser, Content: "original"}}
	c.Set(ctx, "u1", history)
	history[0].Content = "mutated"
	msgs, _ := c.Get(ctx, "u1")
	if msgs[0].Content != "original" {
		t.Error("cache must not alias caller slices")
	}
}

func TestRedisCache(t *testing.T) {
	// Requires a running Redis instance; set REDIS_URL to run.
	url := envOrSkip(t, "REDIS_URL")
	c, err := NewRedisCache(WithURL(url), WithTTL(time.Minute))
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	defer c.Delete(ctx, "redistest")

	if err := c.Set(ctx, "redistest", []models.Message{{Role: models.RoleUser, Content: "ping", Timestamp: time.Now()}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs, err := c.Get(ctx, "redistest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "ping" {
		t.Errorf("unexpected history: %+v", msgs)
	}
}

func envOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
