// Package trace collects the trace-type events of one run and
// reconciles them into the message store after the run terminates,
// repairing partially persisted traces.
package trace

import (
	"context"
	"fmt"
	"sync"

	"deepresearch/graph/emit"
	"deepresearch/internal/msgstore"
)

// Collector observes one run's bus and retains trace envelopes in
// observation order. Attach Observe as an engine tap.
type Collector struct {
	mu       sync.Mutex
	events   []msgstore.TraceEvent
	observed map[string]bool
}

// NewCollector creates an empty collector for one run.
func NewCollector() *Collector {
	return &Collector{observed: make(map[string]bool)}
}

// Observe records trace-type envelopes; everything else passes
// through untouched. Every trace envelope is kept: distinct events may
// share a kind and a millisecond (fan-out branches emit concurrently).
// Safe as a bus tap (called under the bus lock, so observation order
// equals publication order).
func (c *Collector) Observe(e emit.Envelope) {
	if e.Type != emit.TypeTrace {
		return
	}
	ev := msgstore.TraceEvent{Kind: e.Event, Payload: e.Payload, TimestampMS: e.TimestampMS}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed[fingerprint(ev)] = true
	c.append(ev)
}

// Capture absorbs an execution_trace array returned by a terminal
// node. Only entries the collector already holds are skipped, so a
// node may both emit and return the same event; capture never drops a
// bus-observed event.
func (c *Collector) Capture(events []msgstore.TraceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		key := fingerprint(e)
		if c.observed[key] {
			continue
		}
		c.observed[key] = true
		c.append(e)
	}
}

func (c *Collector) append(e msgstore.TraceEvent) {
	e.EventIndex = len(c.events)
	c.events = append(c.events, e)
}

// fingerprint is the capture-side identity of an event: kind,
// timestamp and payload. fmt prints maps with sorted keys and integral
// floats without a decimal point, so entries that round-tripped
// through state JSON still match the bus-observed original.
func fingerprint(e msgstore.TraceEvent) string {
	return fmt.Sprintf("%s/%d/%v", e.Kind, e.TimestampMS, e.Payload)
}

// Events returns the collected trace in observation order.
func (c *Collector) Events() []msgstore.TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]msgstore.TraceEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Len returns the number of collected events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Reconcile repairs the persisted trace of the assistant message: when
// the collected trace is longer than what persistence holds, the
// persisted sequence is replaced wholesale with the collected one.
// Re-running with the same collected trace is a no-op.
func (c *Collector) Reconcile(ctx context.Context, store msgstore.Store, messageID int64) error {
	collected := c.Events()
	persisted, err := store.GetTraceCount(ctx, messageID)
	if err != nil {
		return fmt.Errorf("read persisted trace count: %w", err)
	}
	if len(collected) <= persisted {
		return nil
	}
	if err := store.SetTrace(ctx, messageID, collected); err != nil {
		return fmt.Errorf("replace trace: %w", err)
	}
	return nil
}
