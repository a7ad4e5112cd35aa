package emit

import "sync"

// DefaultBufferSize is the per-subscriber channel buffer. It must be
// sized for a full run: the bus never drops envelopes, so a full
// buffer back-pressures the publishing node instead.
const DefaultBufferSize = 1024

// Bus is the per-run event channel. It is created by the engine for a
// single graph invocation and torn down when the run terminates.
//
// Publish is safe for concurrent use (fan-out branches publish in
// parallel); envelopes from a single publisher are delivered to every
// subscriber in publication order. Subscribers receive on buffered
// channels; taps are invoked synchronously under the publish lock,
// which gives the trace collector a strict observation order.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Envelope
	taps   []func(Envelope)
	closed bool
}

// NewBus creates a bus ready for use.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a consumer and returns its receive channel. The
// channel is closed when the bus closes. Subscribing after Close
// returns a closed channel.
func (b *Bus) Subscribe() <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, DefaultBufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Tap registers a synchronous observer invoked for every envelope in
// publication order. Taps must be fast; they run under the bus lock.
func (b *Bus) Tap(fn func(Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.taps = append(b.taps, fn)
}

// Publish normalizes the envelope and delivers it to every tap and
// subscriber. A full subscriber buffer blocks the publisher
// (backpressure); envelopes are never dropped. Subscribers must keep
// draining until the bus closes. Publishing on a closed bus is a
// no-op.
func (b *Bus) Publish(e Envelope) {
	e = Normalize(e)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, fn := range b.taps {
		fn(e)
	}
	for _, ch := range b.subs {
		ch <- e
	}
}

// Close closes all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.taps = nil
}
