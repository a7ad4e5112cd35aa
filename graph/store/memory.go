package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and engines that do not
// need persistence across restarts.
type MemStore struct {
	mu     sync.RWMutex
	chains map[memKey][]Checkpoint
}

type memKey struct {
	threadID  string
	namespace string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{chains: make(map[memKey][]Checkpoint)}
}

// Put appends a checkpoint to its chain.
func (m *MemStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := memKey{threadID: cp.ThreadID, namespace: cp.Namespace}
	cp.State = append([]byte(nil), cp.State...)
	m.mu.Lock()
	m.chains[key] = append(m.chains[key], cp)
	m.mu.Unlock()
	return nil
}

// GetLatest returns the most recently appended checkpoint.
func (m *MemStore) GetLatest(ctx context.Context, threadID, namespace string) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.chains[memKey{threadID: threadID, namespace: namespace}]
	if len(chain) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return chain[len(chain)-1], nil
}

// History returns the full chain in insertion order.
func (m *MemStore) History(ctx context.Context, threadID, namespace string) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.chains[memKey{threadID: threadID, namespace: namespace}]
	out := make([]Checkpoint, len(chain))
	copy(out, chain)
	return out, nil
}

// DeleteThread drops every chain belonging to the thread.
func (m *MemStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.chains {
		if key.threadID == threadID {
			delete(m.chains, key)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
