package graph

import (
	"context"
	"sync"

	"deepresearch/graph/emit"
)

// Stream item modes.
const (
	// ModeCustom items carry an event envelope from the bus.
	ModeCustom = "custom"

	// ModeUpdates items carry the partial state update a node just
	// applied, keyed by the node's name.
	ModeUpdates = "updates"
)

// Item is one element of a run's output stream: either an envelope or
// a node update, per Mode.
type Item struct {
	Mode     string
	Node     string
	Update   State
	Envelope emit.Envelope
}

// Stream is the bounded channel between the engine and its consumer.
// The engine is the sole producer. Closing the stream (or its context)
// stops the engine from scheduling further nodes at the next safe
// point; in-flight nodes run to completion and their output is
// discarded.
type Stream struct {
	items  chan Item
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	final  State
	closed bool
	done   chan struct{}
}

func newStream(cancel context.CancelFunc, buffer int) *Stream {
	return &Stream{
		items:  make(chan Item, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Items returns the output channel. It closes when the run terminates.
func (s *Stream) Items() <-chan Item { return s.items }

// Close signals the engine to stop reading no later than the next
// inter-node point. Safe to call multiple times and concurrently with
// consumption.
func (s *Stream) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if !already {
		s.cancel()
	}
}

// Err reports the run failure, if any. Valid after Items closes.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Final returns the terminal state. Valid after Items closes; nil for
// failed or cancelled runs.
func (s *Stream) Final() State {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// push delivers an item unless the run context is gone; a cancelled
// consumer discards instead of blocking the engine forever.
func (s *Stream) push(ctx context.Context, item Item) {
	select {
	case s.items <- item:
	case <-ctx.Done():
	}
}

// finish records the outcome and closes the channel.
func (s *Stream) finish(final State, err error) {
	s.mu.Lock()
	s.final = final
	s.err = err
	s.mu.Unlock()
	close(s.items)
	close(s.done)
}
