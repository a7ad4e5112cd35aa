package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists checkpoint chains in MySQL/MariaDB for
// deployments that must survive process restarts or share threads
// across workers.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed checkpoint store.
//
// DSN format follows go-sql-driver/mysql:
//
//	user:password@tcp(localhost:3306)/deepresearch?parseTime=true
//
// parseTime=true is required so created_at scans into time.Time.
// Never hardcode credentials; read the DSN from the environment.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(64) NOT NULL,
			thread_id VARCHAR(64) NOT NULL,
			namespace VARCHAR(128) NOT NULL,
			parent_id VARCHAR(64) NOT NULL DEFAULT '',
			step INT NOT NULL,
			node VARCHAR(128) NOT NULL,
			state LONGTEXT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			UNIQUE KEY uniq_checkpoint_id (id),
			KEY idx_checkpoints_chain (thread_id, namespace, seq)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}

// Put appends a checkpoint to its chain.
func (s *MySQLStore) Put(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, thread_id, namespace, parent_id, step, node, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.ThreadID, cp.Namespace, cp.ParentID, cp.Step, cp.Node, string(cp.State), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// GetLatest returns the most recent checkpoint in the chain.
func (s *MySQLStore) GetLatest(ctx context.Context, threadID, namespace string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, namespace, parent_id, step, node, state, created_at
		FROM checkpoints
		WHERE thread_id = ? AND namespace = ?
		ORDER BY seq DESC LIMIT 1`,
		threadID, namespace)
	return scanCheckpoint(row)
}

// History returns the full chain in insertion order.
func (s *MySQLStore) History(ctx context.Context, threadID, namespace string) ([]Checkpoint, error) {
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
func (s *MySQLStore) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

var (
	_ Store = (*MySQLStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemStore)(nil)
)
