package msgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// sqlStore implements Store over database/sql. The query set sticks to
// syntax valid in both SQLite and MySQL; only the migrations differ
// per driver.
type sqlStore struct {
	db *sql.DB
}

func (s *sqlStore) CreateThread(ctx context.Context, id, name string) error {
	exists, err := s.ThreadExists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO threads (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, name, now, now)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *sqlStore) RenameThread(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE threads SET name = ?, updated_at = ? WHERE id = ?",
		name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rename thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage computes max(index)+1 and inserts in one transaction,
// keeping indices dense under concurrent appends to other threads.
func (s *sqlStore) AppendMessage(ctx context.Context, threadID, role, content string) (int64, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM threads WHERE id = ?", threadID).Scan(&exists); err != nil {
		return 0, 0, fmt.Errorf("check thread: %w", err)
	}
	if exists == 0 {
		return 0, 0, ErrNotFound
	}

	var index int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(message_index), -1) + 1 FROM messages WHERE thread_id = ?",
		threadID).Scan(&index); err != nil {
		return 0, 0, fmt.Errorf("next message index: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (thread_id, role, content, message_index, created_at) VALUES (?, ?, ?, ?, ?)",
		threadID, role, content, index, time.Now().UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("insert message: %w", err)
	}
	messageID, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("message id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE threads SET updated_at = ? WHERE id = ?", time.Now().UTC(), threadID); err != nil {
		return 0, 0, fmt.Errorf("touch thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit append: %w", err)
	}
	return messageID, index, nil
}

// SetTrace replaces the message's whole trace sequence atomically,
// re-indexing densely from 0.
func (s *sqlStore) SetTrace(ctx context.Context, messageID int64, events []TraceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set trace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM trace_events WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("clear trace: %w", err)
	}
	for i, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode trace payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO trace_events (message_id, event_index, kind, payload, timestamp_ms) VALUES (?, ?, ?, ?, ?)",
			messageID, i, e.Kind, string(payload), e.TimestampMS); err != nil {
			return fmt.Errorf("insert trace event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set trace: %w", err)
	}
	return nil
}

func (s *sqlStore) GetTraceCount(ctx context.Context, messageID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM trace_events WHERE message_id = ?", messageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("trace count: %w", err)
	}
	return count, nil
}

func (s *sqlStore) GetHistory(ctx context.Context, threadID string) ([]MessageWithTrace, error) {
	exists, err := s.ThreadExists(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, thread_id, role, content, message_index FROM messages WHERE thread_id = ? ORDER BY message_index ASC",
		threadID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []MessageWithTrace
	for rows.Next() {
		var m MessageWithTrace
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Index); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i := range out {
		trace, err := s.getTrace(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Trace = trace
	}
	return out, nil
}

func (s *sqlStore) getTrace(ctx context.Context, messageID int64) ([]TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT event_index, kind, payload, timestamp_ms FROM trace_events WHERE message_id = ? ORDER BY event_index ASC",
		messageID)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	var out []TraceEvent
	for rows.Next() {
		var e TraceEvent
		var payload string
		if err := rows.Scan(&e.EventIndex, &e.Kind, &payload, &e.TimestampMS); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode trace payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListThreads(ctx context.Context) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, updated_at FROM threads ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) ThreadExists(ctx context.Context, id string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM threads WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("check thread: %w", err)
	}
	return count > 0, nil
}

// DeleteThread removes the thread and cascades to messages and traces
// in one transaction.
func (s *sqlStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM trace_events WHERE message_id IN (SELECT id FROM messages WHERE thread_id = ?)", id); err != nil {
		return fmt.Errorf("delete traces: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE thread_id = ?", id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) Close() error { return s.db.Close() }
