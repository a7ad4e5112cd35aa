package msgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the production message store.
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore opens a MySQL-backed message store. The DSN must carry
// parseTime=true so timestamps scan into time.Time.
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

	s := &MySQLStore{sqlStore{db: db}}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP(6) NOT NULL,
			updated_at TIMESTAMP(6) NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(64) NOT NULL,
			role VARCHAR(16) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			message_index INT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			UNIQUE KEY uniq_thread_index (thread_id, message_index),
			KEY idx_messages_thread (thread_id, message_index)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS trace_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			message_id BIGINT NOT NULL,
			event_index INT NOT NULL,
			kind VARCHAR(32) NOT NULL,
			payload MEDIUMTEXT NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			UNIQUE KEY uniq_message_event (message_id, event_index),
			KEY idx_trace_message (message_id, event_index)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate message store: %w", err)
		}
	}
	return nil
}

var _ Store = (*MySQLStore)(nil)
