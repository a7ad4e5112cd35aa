package graph

import (
	"context"

	"deepresearch/graph/emit"
)

// NodeFunc is a graph node: it receives an immutable state view and a
// per-run context, and returns a partial state update. A node either
// returns an update (success) or an error (failure); there is no
// partial success.
//
// Nodes publish events only through the RunContext helpers; they never
// write raw shapes to the bus.
type NodeFunc func(ctx context.Context, s State, rc *RunContext) (State, error)

// RunContext carries the per-run services a node may use: the event
// bus (through typed emit helpers) and run identity. The engine
// creates one per node invocation; nodes must not retain it beyond
// their call.
type RunContext struct {
	// ThreadID identifies the conversation this run belongs to.
	ThreadID string

	// Node is the name of the node being executed.
	Node string

	// Branch is the fan-out branch index, or -1 outside fan-out.
	Branch int

	bus *emit.Bus
}

// EmitTrace publishes a trace envelope of the given kind and returns
// it, so terminal nodes can also carry the record in their
// execution_trace update.
func (rc *RunContext) EmitTrace(kind string, payload map[string]any) emit.Envelope {
	e := emit.Trace(kind, rc.Node, payload)
	rc.bus.Publish(e)
	return e
}

// EmitCustom publishes a named application event.
func (rc *RunContext) EmitCustom(name string, payload map[string]any) {
	rc.bus.Publish(emit.Custom(name, rc.Node, payload))
}

// Forward republishes an envelope produced inside a subgraph onto this
// run's bus, preserving the envelope's original node and timestamp.
func (rc *RunContext) Forward(e emit.Envelope) {
	rc.bus.Publish(e)
}

// fork derives the context handed to one node invocation.
func (rc *RunContext) fork(node string, branch int) *RunContext {
	return &RunContext{ThreadID: rc.ThreadID, Node: node, Branch: branch, bus: rc.bus}
}
