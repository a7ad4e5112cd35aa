package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists checkpoint chains in a single-file SQLite
// database. Suited to development and single-process deployments; WAL
// mode keeps readers unblocked while the engine writes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite checkpoint store
// at path. Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports one writer at a time.
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

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT NOT NULL PRIMARY KEY,
			thread_id TEXT NOT NULL,
			namespace TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL,
			node TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			seq INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_chain ON checkpoints(thread_id, namespace, seq)"); err != nil {
		return fmt.Errorf("create checkpoint index: %w", err)
	}
	return nil
}

// Put appends a checkpoint to its chain.
func (s *SQLiteStore) Put(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, thread_id, namespace, parent_id, step, node, state, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ? AND namespace = ?))`,
		cp.ID, cp.ThreadID, cp.Namespace, cp.ParentID, cp.Step, cp.Node, string(cp.State), cp.CreatedAt,
		cp.ThreadID, cp.Namespace)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// GetLatest returns the most recent checkpoint in the chain.
func (s *SQLiteStore) GetLatest(ctx context.Context, threadID, namespace string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, namespace, parent_id, step, node, state, created_at
		FROM checkpoints
		WHERE thread_id = ? AND namespace = ?
		ORDER BY seq DESC LIMIT 1`,
		threadID, namespace)
	return scanCheckpoint(row)
}

// History returns the full chain in insertion order.
func (s *SQLiteStore) History(ctx context.Context, threadID, namespace string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, namespace, parent_id, step, node, state, created_at
		FROM checkpoints
		WHERE thread_id = ? AND namespace = ?
		ORDER BY seq ASC`,
		threadID, namespace)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint history: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint history: %w", err)
	}
	return out, nil
}

// DeleteThread drops every checkpoint belonging to the thread.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var cp Checkpoint
	var state string
	err := row.Scan(&cp.ID, &cp.ThreadID, &cp.Namespace, &cp.ParentID, &cp.Step, &cp.Node, &state, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.State = []byte(state)
	return cp, nil
}
