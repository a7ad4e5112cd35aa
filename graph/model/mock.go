package model

import (
	"context"
	"sync"
)

// MockModel is a scripted ChatModel for tests. Responses are returned
// in order; the last response repeats once the script is exhausted.
type MockModel struct {
	mu        sync.Mutex
	responses []Out
	errs      []error
	calls     [][]Message
	opts      []*Options
}

// NewMockModel scripts the given responses.
func NewMockModel(responses ...Out) *MockModel {
	return &MockModel{responses: responses}
}

// MockText is shorthand for a text-only scripted response.
func MockText(text string) Out {
	return Out{Text: text, Model: "mock", Usage: Usage{PromptTokens: 10, CompletionTokens: 5}}
}

// FailWith scripts an error for the call at the given index.
func (m *MockModel) FailWith(index int, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.errs) <= index {
		m.errs = append(m.errs, nil)
	}
	m.errs[index] = err
	return m
}

// Chat returns the next scripted response.
func (m *MockModel) Chat(ctx context.Context, messages []Message, opts *Options) (Out, error) {
	if err := ctx.Err(); err != nil {
		return Out{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.calls)
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.opts = append(m.opts, opts)

	if call < len(m.errs) && m.errs[call] != nil {
		return Out{}, m.errs[call]
	}
	if len(m.responses) == 0 {
		return Out{Model: "mock"}, nil
	}
	if call >= len(m.responses) {
		return m.responses[len(m.responses)-1], nil
	}
	return m.responses[call], nil
}

// Calls returns the recorded message lists, one per Chat invocation.
func (m *MockModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastOptions returns the Options of the most recent call, or nil.
func (m *MockModel) LastOptions() *Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opts) == 0 {
		return nil
	}
	return m.opts[len(m.opts)-1]
}

var _ ChatModel = (*MockModel)(nil)
