package msgstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used when no persistence DSN is
// configured and in tests. Threads do not survive process restarts.
type MemStore struct {
	mu       sync.RWMutex
	threads  map[string]*Thread
	messages map[string][]*Message
	traces   map[int64][]TraceEvent
	nextID   int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		threads:  make(map[string]*Thread),
		messages: make(map[string][]*Message),
		traces:   make(map[int64][]TraceEvent),
	}
}

func (m *MemStore) CreateThread(ctx context.Context, id, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[id]; exists {
		return nil
	}
	now := time.Now().UTC()
	m.threads[id] = &Thread{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MemStore) RenameThread(ctx context.Context, id, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return ErrNotFound
	}
	t.Name = name
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) AppendMessage(ctx context.Context, threadID, role, content string) (int64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return 0, 0, ErrNotFound
	}
	m.nextID++
	index := len(m.messages[threadID])
	msg := &Message{ID: m.nextID, ThreadID: threadID, Role: role, Content: content, Index: index}
	m.messages[threadID] = append(m.messages[threadID], msg)
	t.UpdatedAt = time.Now().UTC()
	return msg.ID, index, nil
}

func (m *MemStore) SetTrace(ctx context.Context, messageID int64, events []TraceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	trace := make([]TraceEvent, len(events))
	for i, e := range events {
		e.EventIndex = i
		trace[i] = e
	}
	m.traces[messageID] = trace
	return nil
}

func (m *MemStore) GetTraceCount(ctx context.Context, messageID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.traces[messageID]), nil
}

func (m *MemStore) GetHistory(ctx context.Context, threadID string) ([]MessageWithTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.threads[threadID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]MessageWithTrace, 0, len(m.messages[threadID]))
	for _, msg := range m.messages[threadID] {
		entry := MessageWithTrace{Message: *msg}
		entry.Trace = append(entry.Trace, m.traces[msg.ID]...)
		out = append(out, entry)
	}
	return out, nil
}

func (m *MemStore) ListThreads(ctx context.Context) ([]Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Thread, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemStore) ThreadExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.threads[id]
	return ok, nil
}

func (m *MemStore) DeleteThread(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[id] {
		delete(m.traces, msg.ID)
	}
	delete(m.messages, id)
	delete(m.threads, id)
	return nil
}

func (m *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
