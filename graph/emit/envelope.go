// Package emit defines the normalized event envelope and the per-run
// event bus that carries envelopes from nodes to the transport and the
// trace collector.
package emit

import "time"

// Envelope type vocabulary. The set is closed: every envelope on the
// bus carries exactly one of these in Type.
const (
	// TypeTrace marks events destined for the persisted trace of the
	// assistant message produced by the run.
	TypeTrace = "trace"

	// TypeCustom marks named application events streamed to the client
	// (supervisor decisions, search hits, market approvals, ...).
	TypeCustom = "custom"

	// TypeStateUpdate marks engine-derived snapshots of selected state
	// fields after a node step.
	TypeStateUpdate = "state_update"

	// TypeSystem marks run-level markers such as thread_id.
	TypeSystem = "system"

	// TypeError marks the terminal error envelope appended before a
	// failed run's stream closes.
	TypeError = "error"

	// TypeComplete marks the terminal envelope of a successful run.
	TypeComplete = "complete"
)

// Trace event kinds (the Event field of TypeTrace envelopes).
const (
	TraceNodeCall    = "node_call"
	TraceReasoning   = "reasoning"
	TraceSearch      = "search"
	TraceStateUpdate = "state_update"
	TraceCustom      = "custom"
)

// Envelope is the normalized five-field shape of every event on the
// bus. Nodes never construct envelopes directly; the typed
// constructors below are the only legal producers. Anything else is
// normalized on ingress by the bus.
type Envelope struct {
	// Type is one of the Type* constants.
	Type string `json:"type"`

	// TimestampMS is the emission time in Unix milliseconds. Ordering
	// is positional on the bus; the timestamp is for display only.
	TimestampMS int64 `json:"timestamp_ms"`

	// Node is the graph node that produced the event. Empty for
	// run-level system/complete/error envelopes.
	Node string `json:"node"`

	// Event names the event within its type (e.g. "supervisor_decision"
	// for custom, "node_call" for trace).
	Event string `json:"event"`

	// Payload carries event-specific fields. Opaque to the bus.
	Payload map[string]any `json:"payload"`
}

func now() int64 { return time.Now().UnixMilli() }

// Trace builds a trace envelope of the given kind.
func Trace(kind, node string, payload map[string]any) Envelope {
	return Envelope{Type: TypeTrace, TimestampMS: now(), Node: node, Event: kind, Payload: payload}
}

// Custom builds a named application event envelope.
func Custom(name, node string, payload map[string]any) Envelope {
	return Envelope{Type: TypeCustom, TimestampMS: now(), Node: node, Event: name, Payload: payload}
}

// StateUpdate builds an engine-derived state snapshot envelope.
func StateUpdate(node string, payload map[string]any) Envelope {
	return Envelope{Type: TypeStateUpdate, TimestampMS: now(), Node: node, Event: "state_update", Payload: payload}
}

// System builds a run-level marker envelope (e.g. thread_id).
func System(name string, payload map[string]any) Envelope {
	return Envelope{Type: TypeSystem, TimestampMS: now(), Event: name, Payload: payload}
}

// Complete builds the terminal envelope of a successful run.
func Complete(response string) Envelope {
	return Envelope{
		Type:        TypeComplete,
		TimestampMS: now(),
		Event:       "complete",
		Payload:     map[string]any{"response": response},
	}
}

// Error builds the terminal envelope of a failed run.
func Error(message string) Envelope {
	return Envelope{
		Type:        TypeError,
		TimestampMS: now(),
		Event:       "error",
		Payload:     map[string]any{"error": message},
	}
}

// Normalize fills the fields a legacy-shaped envelope may be missing.
// The bus applies it on ingress so consumers can rely on the five
// fields being present.
func Normalize(e Envelope) Envelope {
	if e.TimestampMS == 0 {
		e.TimestampMS = now()
	}
	if e.Type == "" {
		e.Type = TypeCustom
	}
	if e.Event == "" {
		e.Event = e.Type
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e
}
