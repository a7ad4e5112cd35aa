package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoints in the
// requested namespace.
var ErrNotFound = errors.New("not found")

// Checkpoint is one persisted snapshot of graph state. Checkpoints for
// a thread form a chain through ParentID: each snapshot records which
// snapshot preceded it, so any run's history can be walked backwards
// from the latest entry.
type Checkpoint struct {
	// ThreadID groups checkpoints belonging to one conversation.
	ThreadID string

	// Namespace separates checkpoint chains sharing a thread, e.g. a
	// parent graph and the subgraphs it launches.
	Namespace string

	// ID uniquely identifies this checkpoint.
	ID string

	// ParentID is the ID of the previous checkpoint in the chain, or
	// empty for the first checkpoint of a thread+namespace.
	ParentID string

	// Step is the 1-indexed node execution that produced this state.
	Step int

	// Node names the node whose update was merged last.
	Node string

	// State is the full merged state, JSON-encoded.
	State []byte

	// CreatedAt is the persistence time (UTC).
	CreatedAt time.Time
}

// Store persists checkpoint chains. Implementations must be safe for
// concurrent use; the engine calls Put after every step.
type Store interface {
	// Put appends a checkpoint to its thread+namespace chain.
	Put(ctx context.Context, cp Checkpoint) error

	// GetLatest returns the most recent checkpoint for a
	// thread+namespace, or ErrNotFound when none exists.
	GetLatest(ctx context.Context, threadID, namespace string) (Checkpoint, error)

	// History returns every checkpoint for a thread+namespace in
	// insertion order. Empty (not ErrNotFound) when none exist.
	History(ctx context.Context, threadID, namespace string) ([]Checkpoint, error)

	// DeleteThread removes all checkpoints for a thread across
	// namespaces. Deleting an unknown thread is not an error.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases the store's resources.
	Close() error
}

// DecodeState unmarshals a checkpoint's state blob.
func DecodeState(cp Checkpoint) (map[string]any, error) {
	var state map[string]any
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s state: %w", cp.ID, err)
	}
	return state, nil
}
