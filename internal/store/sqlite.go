// Package store provides durable storage backends for ChatCaravan.
//
// This file implements the SQLite-backed message log used for local and
// single-node deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversation messages in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("SQLiteStore ready for chat history", "path", dsn)
	return &SQLiteStore{db: db}, nil
}

// AddMessage appends one message to the durable log.
func (s *SQLiteStore) AddMessage(ctx context.Context, userID string, msg models.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		userID, string(msg.Role), msg.Content, ts)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to insert message for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "userID", userID, "role", msg.Role)
	return nil
}

// History returns up to limit messages for a user, oldest first.
func (s *SQLiteStore) History(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	// limit <= 0 means no cap; SQLite treats a negative LIMIT as unbounded.
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM chat_messages WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		slog.Error("SQLiteStore History query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query history for %s: %w", userID, err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		slog.Error("SQLiteStore History scan failed", "error", err, "userID", userID)
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// ListUsers returns the distinct user ids present in the log.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM chat_messages`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query user ids: %w", err)
	}
	defer rows.Close()
	return scanUserIDs(rows)
}

// DeleteHistory removes all messages for a user.
func (s *SQLiteStore) DeleteHistory(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteHistory failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete history for %s: %w", userID, err)
	}
	slog.Info("SQLiteStore DeleteHistory succeeded", "userID", userID)
	return nil
}

// Enabled reports that this tier is backed by storage.
func (s *SQLiteStore) Enabled() bool { return true }

// Close releases the database connections.
func (s *SQLiteStore) Close() error { return s.db.Close() }
