// Package store provides durable storage backends for ChatCaravan.
//
// This file implements the PostgreSQL-backed message log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversation messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	// Run migrations to ensure the chat_messages table exists
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("PostgresStore ready for chat history")
	return &PostgresStore{db: db}, nil
}

// AddMessage appends one message to the durable log.
func (s *PostgresStore) AddMessage(ctx context.Context, userID string, msg models.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, role, content, timestamp) VALUES ($1, $2, $3, $4)`,
		userID, string(msg.Role), msg.Content, ts)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to insert message for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "userID", userID, "role", msg.Role)
	return nil
}

// History returns up to limit messages for a user, oldest first. The query
// selects the newest rows and reverses them so the cap keeps recent history.
func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	// limit <= 0 means no cap; a NULL limit is LIMIT ALL in Postgres.
	var rowCap interface{}
	if limit > 0 {
		rowCap = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM chat_messages WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		userID, rowCap)
	if err != nil {
		slog.Error("PostgresStore History query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query history for %s: %w", userID, err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		slog.Error("PostgresStore History scan failed", "error", err, "userID", userID)
		return nil, err
	}
	reverseMessages(msgs)
	slog.Debug("PostgresStore History succeeded", "userID", userID, "count", len(msgs))
	return msgs, nil
}

// ListUsers returns the distinct user ids present in the log.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM chat_messages`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query user ids: %w", err)
	}
	defer rows.Close()
	return scanUserIDs(rows)
}

// DeleteHistory removes all messages for a user.
func (s *PostgresStore) DeleteHistory(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteHistory failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete history for %s: %w", userID, err)
	}
	slog.Info("PostgresStore DeleteHistory succeeded", "userID", userID)
	return nil
}

// Enabled reports that this tier is backed by storage.
func (s *PostgresStore) Enabled() bool { return true }

// Close releases the database connections.
func (s *PostgresStore) Close() error { return s.db.Close() }
