// Package store provides durable storage backends for ChatCaravan.
//
// The durable tier is an append-only audit log of every conversation
// message. It is best-effort from the orchestrator's point of view: a
// missing or unreachable backend disables the tier instead of failing
// the process.
package store

import (
	"context"
	"strings"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// Store is the durable message log contract.
type Store interface {
	// AddMessage appends one message to the log.
	AddMessage(ctx context.Context, userID string, msg models.Message) error
	// History returns up to limit messages for a user, oldest first.
	// A limit of zero or less returns the full log.
	History(ctx context.Context, userID string, limit int) ([]models.Message, error)
	// ListUsers returns the distinct user ids present in the log.
	ListUsers(ctx context.Context) ([]string, error)
	// DeleteHistory removes all messages for a user. Operator tooling only.
	DeleteHistory(ctx context.Context, userID string) error
	// Enabled reports whether the tier is actually backed by storage.
	Enabled() bool
	// Close releases the underlying connections.
	Close() error
}

// Opts holds configuration options for store constructors.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NoopStore is the disabled durable tier. Every write succeeds silently
// and every read returns empty results.
type NoopStore struct{}

// NewNoopStore creates a disabled durable store.
func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) AddMessage(ctx context.Context, userID string, msg models.Message) error {
	return nil
}

func (s *NoopStore) History(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	return nil, nil
}

func (s *NoopStore) ListUsers(ctx context.Context) ([]string, error) { return nil, nil }

func (s *NoopStore) DeleteHistory(ctx context.Context, userID string) error { return nil }

func (s *NoopStore) Enabled() bool { return false }

func (s *NoopStore) Close() error { return nil }
