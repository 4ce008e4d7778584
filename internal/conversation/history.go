// Package conversation composes the hot cache and the durable store into
// the single history facade the turn orchestrator reads and writes.
//
// The hot tier is authoritative for the turn path; the durable tier is an
// append-only audit log written best-effort off the response path. No
// other component touches either tier directly.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/cache"
	"github.com/CaravanDesk/ChatCaravan/internal/models"
	"github.com/CaravanDesk/ChatCaravan/internal/store"
)

// DefaultDurableWriteTimeout bounds the detached durable-tier write.
const DefaultDurableWriteTimeout = 10 * time.Second

// History is the unified conversation read/write facade.
type History struct {
	cache       cache.Cache
	store       store.Store
	maxMessages int

	wg sync.WaitGroup // outstanding durable writes
}

// Opts holds configuration options for the history facade.
type Opts struct {
	MaxMessages int
}

// Option defines a configuration option for the history facade.
type Option func(*Opts)

// WithMaxMessages caps the hot-tier history length.
func WithMaxMessages(n int) Option {
	return func(o *Opts) { o.MaxMessages = n }
}

// NewHistory creates the facade over the given tiers.
func NewHistory(hot cache.Cache, durable store.Store, opts ...Option) *History {
	cfg := Opts{MaxMessages: cache.DefaultMaxMessages}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = cache.DefaultMaxMessages
	}
	slog.Debug("History.NewHistory: facade created", "maxMessages", cfg.MaxMessages, "durableEnabled", durable.Enabled())
	return &History{cache: hot, store: durable, maxMessages: cfg.MaxMessages}
}

// Append writes one message to the hot tier (read-modify-write, trimmed to
// the cap, TTL refreshed) and kicks off an independent durable write. The
// durable write never gates or fails the hot write.
func (h *History) Append(ctx context.Context, userID string, role models.MessageRole, content string) error {
	msg := models.Message{Role: role, Content: content, Timestamp: time.Now()}

	current, err := h.cache.Get(ctx, userID)
	if err != nil {
		// Degrade to an empty list; losing hot context beats losing the turn.
		slog.Error("History.Append: hot tier read failed, starting from empty", "error", err, "userID", userID)
		current = nil
	}
	current = append(current, msg)
	if len(current) > h.maxMessages {
		current = current[len(current)-h.maxMessages:]
	}
	if err := h.cache.Set(ctx, userID, current); err != nil {
		slog.Error("History.Append: hot tier write failed", "error", err, "userID", userID)
		return err
	}

	h.writeDurable(ctx, userID, msg)
	slog.Debug("History.Append: message appended", "userID", userID, "role", role, "hotLength", len(current))
	return nil
}

// writeDurable fires the durable-tier write on its own goroutine with its
// own deadline and error boundary.
func (h *History) writeDurable(ctx context.Context, userID string, msg models.Message) {
	if !h.store.Enabled() {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultDurableWriteTimeout)
		defer cancel()
		if err := h.store.AddMessage(writeCtx, userID, msg); err != nil {
			slog.Error("History.writeDurable: durable write failed", "error", err, "userID", userID)
		}
	}()
}

// Recent returns the hot-tier history for a user, oldest first. A cold,
// expired, or unreachable tier reads as empty; the turn path never sees
// an error from here.
func (h *History) Recent(ctx context.Context, userID string) []models.Message {
	msgs, err := h.cache.Get(ctx, userID)
	if err != nil {
		slog.Error("History.Recent: hot tier read failed, returning empty", "error", err, "userID", userID)
		return nil
	}
	return msgs
}

// IsFirstTurn reports whether the hot tier holds no messages for a user.
// This is hot-tier-scoped, not identity-scoped: TTL expiry makes a
// returning user look new again.
func (h *History) IsFirstTurn(ctx context.Context, userID string) bool {
	return len(h.Recent(ctx, userID)) == 0
}

// FullHistory returns up to limit messages from the durable log, oldest
// first; a limit of zero or less reads the full log. Used for operator
// inspection, never on the turn path. A disabled or failing tier reads
// as empty.
func (h *History) FullHistory(ctx context.Context, userID string, limit int) []models.Message {
	if !h.store.Enabled() {
		return nil
	}
	msgs, err := h.store.History(ctx, userID, limit)
	if err != nil {
		slog.Error("History.FullHistory: durable read failed, returning empty", "error", err, "userID", userID)
		return nil
	}
	return msgs
}

// Clear removes the hot-tier entry for a user. The durable log is an
// append-only audit trail and stays untouched.
func (h *History) Clear(ctx context.Context, userID string) error {
	if err := h.cache.Delete(ctx, userID); err != nil {
		slog.Error("History.Clear: hot tier delete failed", "error", err, "userID", userID)
		return err
	}
	slog.Info("History.Clear: hot history cleared", "userID", userID)
	return nil
}

// ListUsers returns known user ids: the durable log when enabled (it never
// forgets), otherwise the live hot-tier keys.
func (h *History) ListUsers(ctx context.Context) []string {
	if h.store.Enabled() {
		users, err := h.store.ListUsers(ctx)
		if err != nil {
			slog.Error("History.ListUsers: durable listing failed", "error", err)
			return nil
		}
		return users
	}
	users, err := h.cache.ListUsers(ctx)
	if err != nil {
		slog.Error("History.ListUsers: hot tier listing failed", "error", err)
		return nil
	}
	return users
}

// Flush waits for outstanding durable writes. Used by Close and tests.
func (h *History) Flush() { h.wg.Wait() }

// Close drains pending durable writes and releases both tiers.
func (h *History) Close() error {
	h.Flush()
	if err := h.cache.Close(); err != nil {
		slog.Warn("History.Close: cache close failed", "error", err)
	}
	return h.store.Close()
}
