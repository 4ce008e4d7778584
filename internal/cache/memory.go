package cache

import (
	"context"
	"sync"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// MemoryCache is the in-process fallback for the hot tier. It mirrors the
// Redis semantics including TTL expiry, so first-turn detection behaves
// the same either way.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	msgs      []models.Message
	expiresAt time.Time
}

// NewMemoryCache creates an in-process hot tier with the given options.
func NewMemoryCache(opts ...Option) *MemoryCache {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryCache{
		ttl:     cfg.TTL,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the hot history for a user. Expired entries read as empty.
func (c *MemoryCache) Get(ctx context.Context, userID string) ([]models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok {
		return nil, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, userID)
		return nil, nil
	}
	out := make([]models.Message, len(entry.msgs))
	copy(out, entry.msgs)
	return out, nil
}

// Set replaces the hot history for a user with a refreshed TTL.
func (c *MemoryCache) Set(ctx context.Context, userID string, msgs []models.Message) error {
	stored := make([]models.Message, len(msgs))
	copy(stored, msgs)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = memoryEntry{msgs: stored, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Delete removes the hot entry for a user.
func (c *MemoryCache) Delete(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// ListUsers returns user ids with unexpired entries.
func (c *MemoryCache) ListUsers(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var users []string
	now := c.now()
	for userID, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, userID)
			continue
		}
		users = append(users, userID)
	}
	return users, nil
}

// Close is a no-op for the in-process cache.
func (c *MemoryCache) Close() error { return nil }
