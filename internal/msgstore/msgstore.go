// Package msgstore persists threads, ordered messages and per-message
// trace sequences: the flat, query-optimized side of persistence that
// serves thread listings and powers trace reconciliation after a run.
package msgstore

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned for unknown threads or messages.
var ErrNotFound = errors.New("not found")

// Thread is one conversation.
type Thread struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn of a thread. Index is dense and strictly
// increasing within the thread.
type Message struct {
	ID       int64  `json:"id"`
	ThreadID string `json:"thread_id"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	Index    int    `json:"message_index"`
}

// TraceEvent is one persisted trace row of an assistant message,
// ordered by EventIndex. Ordering is by index; the timestamp is for
// display only.
type TraceEvent struct {
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	EventIndex  int            `json:"event_index"`
	TimestampMS int64          `json:"timestamp_ms"`
}

// MessageWithTrace is a message plus its trace sequence (empty for
// user messages).
type MessageWithTrace struct {
	Message
	Trace []TraceEvent `json:"trace,omitempty"`
}

// Store is the message-store contract. Implementations must support
// concurrent writers across different threads; writes within one
// thread are serialized by the orchestrator.
type Store interface {
	// CreateThread registers a thread. Creating an existing thread is
	// a no-op.
	CreateThread(ctx context.Context, id, name string) error

	// RenameThread sets the thread's human-readable name.
	RenameThread(ctx context.Context, id, name string) error

	// AppendMessage appends a message with the next dense index,
	// atomically with respect to other appends on the same thread.
	AppendMessage(ctx context.Context, threadID, role, content string) (messageID int64, index int, err error)

	// SetTrace replaces the full trace sequence of a message in one
	// transaction, re-indexing densely from 0.
	SetTrace(ctx context.Context, messageID int64, events []TraceEvent) error

	// GetTraceCount returns the number of persisted trace rows.
	GetTraceCount(ctx context.Context, messageID int64) (int, error)

	// GetHistory returns the thread's messages in index order, each
	// with its trace sequence.
	GetHistory(ctx context.Context, threadID string) ([]MessageWithTrace, error)

	// ListThreads returns all threads, most recently updated first.
	ListThreads(ctx context.Context) ([]Thread, error)

	// ThreadExists reports whether the thread is known.
	ThreadExists(ctx context.Context, id string) (bool, error)

	// DeleteThread removes the thread, its messages and their traces.
	DeleteThread(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}
