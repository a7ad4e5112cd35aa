package trace

import (
	"context"
	"testing"

	"deepresearch/graph/emit"
	"deepresearch/internal/msgstore"
)

func TestCollectorObservesOnlyTraceEnvelopes(t *testing.T) {
	c := NewCollector()
	c.Observe(emit.Trace(emit.TraceNodeCall, "supervisor", map[string]any{"n": 1}))
	c.Observe(emit.Custom("supervisor_decision", "supervisor", nil))
	c.Observe(emit.Trace(emit.TraceReasoning, "supervisor", map[string]any{"text": "hm"}))
	c.Observe(emit.Complete("done"))

	events := c.Events()
	if len(events) != 2 {
		t.Fatalf("collected %d, want 2", len(events))
	}
	if events[0].Kind != emit.TraceNodeCall || events[1].Kind != emit.TraceReasoning {
		t.Errorf("order = %s, %s", events[0].Kind, events[1].Kind)
	}
	if events[0].EventIndex != 0 || events[1].EventIndex != 1 {
		t.Error("event indices not dense")
	}
}

func TestCollectorKeepsDistinctSameMillisecondEvents(t *testing.T) {
	ctx := context.Background()
	c := NewCollector()

	// Concurrent fan-out branches: same kind, same millisecond,
	// different payloads.
	c.Observe(emit.Envelope{
		Type: emit.TypeTrace, Event: emit.TraceSearch, Node: "perform_search",
		TimestampMS: 42, Payload: map[string]any{"query": "obama speeches", "hits": 2},
	})
	c.Observe(emit.Envelope{
		Type: emit.TypeTrace, Event: emit.TraceSearch, Node: "perform_search",
		TimestampMS: 42, Payload: map[string]any{"query": "obama travel", "hits": 3},
	})
	// Two identical bus events are still two events.
	c.Observe(emit.Envelope{
		Type: emit.TypeTrace, Event: emit.TraceNodeCall, Node: "supervisor",
		TimestampMS: 42, Payload: map[string]any{"node": "supervisor"},
	})
	c.Observe(emit.Envelope{
		Type: emit.TypeTrace, Event: emit.TraceNodeCall, Node: "supervisor",
		TimestampMS: 42, Payload: map[string]any{"node": "supervisor"},
	})

	events := c.Events()
	if len(events) != 4 {
		t.Fatalf("collected %d, want 4", len(events))
	}
	if events[0].Payload["query"] != "obama speeches" || events[1].Payload["query"] != "obama travel" {
		t.Errorf("order = %v, %v", events[0].Payload, events[1].Payload)
	}

	store := msgstore.NewMemStore()
	if err := store.CreateThread(ctx, "t1", ""); err != nil {
		t.Fatal(err)
	}
	msgID, _, err := store.AppendMessage(ctx, "t1", msgstore.RoleAssistant, "report")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Reconcile(ctx, store, msgID); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	count, _ := store.GetTraceCount(ctx, msgID)
	if count != 4 {
		t.Errorf("persisted = %d, want 4", count)
	}
}

func TestCollectorCaptureSkipsAlreadyObserved(t *testing.T) {
	c := NewCollector()
	env := emit.Trace(emit.TraceCustom, "final_report", map[string]any{"report": "r"})
	c.Observe(env)

	// The terminal node returns the same event in execution_trace plus
	// one the bus never saw.
	c.Capture([]msgstore.TraceEvent{
		{Kind: env.Event, Payload: env.Payload, TimestampMS: env.TimestampMS},
		{Kind: emit.TraceStateUpdate, Payload: map[string]any{"final_report": "r"}, TimestampMS: env.TimestampMS + 1},
	})

	if c.Len() != 2 {
		t.Errorf("collected %d, want 2 (no double count)", c.Len())
	}
}

func TestReconcileReplacesWhenLonger(t *testing.T) {
	ctx := context.Background()
	store := msgstore.NewMemStore()
	if err := store.CreateThread(ctx, "t1", ""); err != nil {
		t.Fatal(err)
	}
	msgID, _, err := store.AppendMessage(ctx, "t1", msgstore.RoleAssistant, "report")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a partial write: only one row persisted.
	if err := store.SetTrace(ctx, msgID, []msgstore.TraceEvent{
		{Kind: "custom", Payload: map[string]any{"event": "final_report_complete"}, TimestampMS: 9},
	}); err != nil {
		t.Fatal(err)
	}

	c := NewCollector()
	c.Observe(emit.Trace(emit.TraceNodeCall, "supervisor", map[string]any{"n": 1}))
	c.Observe(emit.Trace(emit.TraceSearch, "perform_search", map[string]any{"q": "x"}))
	c.Observe(emit.Trace(emit.TraceCustom, "final_report", map[string]any{"event": "final_report_complete"}))

	if err := c.Reconcile(ctx, store, msgID); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	count, _ := store.GetTraceCount(ctx, msgID)
	if count != 3 {
		t.Fatalf("persisted = %d, want 3", count)
	}

	// Second run with the same collected trace is a no-op.
	before, _ := store.GetHistory(ctx, "t1")
	if err := c.Reconcile(ctx, store, msgID); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	after, _ := store.GetHistory(ctx, "t1")
	if len(before[0].Trace) != len(after[0].Trace) {
		t.Error("second reconcile changed the trace")
	}
	for i := range before[0].Trace {
		if before[0].Trace[i].Kind != after[0].Trace[i].Kind {
			t.Errorf("row %d changed", i)
		}
	}
}

func TestReconcileLeavesEqualOrLongerPersisted(t *testing.T) {
	ctx := context.Background()
	store := msgstore.NewMemStore()
	if err := store.CreateThread(ctx, "t1", ""); err != nil {
		t.Fatal(err)
	}
	msgID, _, err := store.AppendMessage(ctx, "t1", msgstore.RoleAssistant, "report")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetTrace(ctx, msgID, []msgstore.TraceEvent{
		{Kind: "node_call", Payload: map[string]any{}, TimestampMS: 1},
		{Kind: "reasoning", Payload: map[string]any{}, TimestampMS: 2},
	}); err != nil {
		t.Fatal(err)
	}

	c := NewCollector()
	c.Observe(emit.Trace(emit.TraceNodeCall, "supervisor", nil))

	if err := c.Reconcile(ctx, store, msgID); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	count, _ := store.GetTraceCount(ctx, msgID)
	if count != 2 {
		t.Errorf("persisted = %d, reconcile should not shrink", count)
	}
}
