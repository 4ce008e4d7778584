// Package cache provides the hot conversation tier for ChatCaravan.
//
// The hot tier holds a bounded, expiring message list per user and is the
// primary read/write path for the turn orchestrator. Redis backs it in
// production; an in-process map substitutes when Redis is unreachable so
// the bot keeps working with per-process memory only.
package cache

import (
	"context"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// KeyPrefix is prepended to user ids to form hot-tier keys.
const KeyPrefix = "chat_history:"

// Default hot-tier bounds. Both are overridable via options.
const (
	// DefaultTTL is how long an idle conversation stays hot (7 days).
	DefaultTTL = 604800 * time.Second
	// DefaultMaxMessages caps the per-user hot history length.
	DefaultMaxMessages = 20
)

// Cache is the hot-tier contract. Implementations store the full message
// list per user; trimming to the cap is the caller's concern so the
// read-modify-write cycle stays in one place.
type Cache interface {
	// Get returns the hot history for a user. A cold or expired entry
	// reads as an empty list, not an error.
	Get(ctx context.Context, userID string) ([]models.Message, error)
	// Set replaces the hot history for a user and refreshes its TTL.
	Set(ctx context.Context, userID string, msgs []models.Message) error
	// Delete removes the hot entry for a user.
	Delete(ctx context.Context, userID string) error
	// ListUsers returns user ids with live hot entries.
	ListUsers(ctx context.Context) ([]string, error)
	// Close releases any underlying connections.
	Close() error
}

// Opts holds configuration options for cache constructors.
type Opts struct {
	URL string
	TTL time.Duration
}

// Option defines a configuration option for a cache.
type Option func(*Opts)

// WithURL sets the Redis connection URL.
func WithURL(url string) Option {
	return func(o *Opts) { o.URL = url }
}

// WithTTL sets the hot entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

func key(userID string) string { return KeyPrefix + userID }
