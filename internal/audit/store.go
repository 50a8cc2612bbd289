package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed command-router audit trail, satisfying
// internal/router.AuditLogger. Opened with a WAL journal, a single
// connection, and a busy timeout even though this database is
// write-mostly and append-only.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) audit.db under configDir and applies every
// pending migration.
func Open(ctx context.Context, configDir string) (*Store, error) {
	path := filepath.Join(configDir, "audit.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod audit db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("apply audit migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordCommand appends one row to command_events.
func (s *Store) RecordCommand(ctx context.Context, userID, topicID int64, windowID, kind, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_events(user_id, topic_id, window_id, kind, body, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, topicID, windowID, kind, body, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecentByTopic returns the most recent events for (userID, topicID),
// newest first, used by the CLI and any future audit inspection surface.
func (s *Store) RecentByTopic(ctx context.Context, userID, topicID int64, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, user_id, topic_id, window_id, kind, body, occurred_at
		   FROM command_events WHERE user_id = ? AND topic_id = ?
		   ORDER BY occurred_at DESC LIMIT ?`,
		userID, topicID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.TopicID, &e.WindowID, &e.Kind, &e.Body, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Event is one row of command_events.
type Event struct {
	ID         int64
	UserID     int64
	TopicID    int64
	WindowID   string
	Kind       string
	Body       string
	OccurredAt string
}
