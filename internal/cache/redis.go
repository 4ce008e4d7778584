package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultDialTimeout bounds the startup reachability probe.
const DefaultDialTimeout = 5 * time.Second

// RedisCache stores hot conversation history as a JSON array per user key.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies reachability with a ping.
// An unreachable server is returned as an error so the caller can degrade
// to the in-memory substitute.
func NewRedisCache(opts ...Option) (*RedisCache, error) {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		cfg.URL = "redis://localhost:6379"
	}
	slog.Debug("RedisCache.NewRedisCache: connecting", "url_set", cfg.URL != "", "ttl", cfg.TTL)

	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Info("RedisCache connected for chat memory", "ttl", cfg.TTL)
	return &RedisCache{client: client, ttl: cfg.TTL}, nil
}

// Get returns the hot history for a user. Missing keys read as empty.
func (c *RedisCache) Get(ctx context.Context, userID string) ([]models.Message, error) {
	raw, err := c.client.Get(ctx, key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed for %s: %w", userID, err)
	}
	var msgs []models.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		// A corrupt entry is unrecoverable; treat it as cold.
		slog.Warn("RedisCache.Get: corrupt history entry, treating as empty", "userID", userID, "error", err)
		return nil, nil
	}
	return msgs, nil
}

// Set replaces the hot history for a user with a refreshed TTL.
func (c *RedisCache) Set(ctx context.Context, userID string, msgs []models.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal history for %s: %w", userID, err)
	}
	if err := c.client.Set(ctx, key(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for %s: %w", userID, err)
	}
	return nil
}

// Delete removes the hot entry for a user.
func (c *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed for %s: %w", userID, err)
	}
	return nil
}

// ListUsers scans live hot-tier keys and strips the prefix.
func (c *RedisCache) ListUsers(ctx context.Context) ([]string, error) {
	var users []string
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return users, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }
