package msgstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file message store for development and
// single-process deployments.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (creating if needed) the message store at path.
// ":memory:" gives an ephemeral database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	s := &SQLiteStore{sqlStore{db: db}}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT NOT NULL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(thread_id, message_index)
		)`,
		`CREATE TABLE IF NOT EXISTS trace_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER NOT NULL,
			event_index INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			UNIQUE(message_id, event_index)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, message_index)",
		"CREATE INDEX IF NOT EXISTS idx_trace_message ON trace_events(message_id, event_index)",
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate message store: %w", err)
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
