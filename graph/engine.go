package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"deepresearch/graph/emit"
	"deepresearch/graph/store"
)

// Engine drives a compiled graph: it resolves the next node(s),
// invokes them (in parallel for fan-out edges), merges partial updates
// through the schema's reducer table, persists a checkpoint after
// every step, and streams envelopes and updates to the consumer.
//
// One Engine is constructed per process (or per test) and may serve
// many runs; all per-run state lives in the Run call.
type Engine struct {
	graph *Graph
	cfg   engineConfig
}

// NewEngine builds an engine for a compiled graph.
func NewEngine(g *Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, &BuildError{Message: "graph is required"}
	}
	if !g.compiled {
		return nil, &BuildError{Graph: g.name, Message: "graph not compiled"}
	}

	cfg := engineConfig{
		namespace: g.name,
		buffer:    emit.DefaultBufferSize,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.store == nil {
		cfg.store = store.NewMemStore()
	}
	for _, c := range cfg.caps {
		if _, ok := g.nodes[c.node]; !ok {
			return nil, &BuildError{Graph: g.name, Message: "iteration cap on unknown node: " + c.node}
		}
		if _, ok := g.nodes[c.fallback]; !ok {
			return nil, &BuildError{Graph: g.name, Message: "iteration cap fallback unknown: " + c.fallback}
		}
	}
	return &Engine{graph: g, cfg: cfg}, nil
}

// Run executes the graph for one thread, starting from the given
// initial state, and returns the output stream. The engine guarantees
// node atomicity, reducer discipline, checkpoint-after-step with
// parent lineage, deterministic fan-out merge order, and bounded
// iteration per the configured caps.
func (e *Engine) Run(ctx context.Context, threadID string, initial State) *Stream {
	runCtx, cancel := context.WithCancel(ctx)
	s := newStream(cancel, e.cfg.buffer)

	bus := emit.NewBus()
	for _, tap := range e.cfg.taps {
		bus.Tap(tap)
	}
	for _, em := range e.cfg.emitters {
		bus.Tap(em.Emit)
	}
	// The stream itself is the last tap: envelopes appear on the
	// stream in exact publication order, interleaved with updates
	// items pushed by the loop below.
	bus.Tap(func(env emit.Envelope) {
		s.push(runCtx, Item{Mode: ModeCustom, Envelope: env})
	})

	go func() {
		defer bus.Close()
		final, err := e.loop(runCtx, threadID, initial, bus, s)
		switch {
		case err == nil:
			if e.cfg.completionField != "" {
				bus.Publish(emit.Complete(Str(final, e.cfg.completionField)))
			}
			e.cfg.metrics.runFinished(e.graph.name, "ok")
		case IsCancellation(err):
			// No terminal envelope for cancelled runs.
			e.cfg.metrics.runFinished(e.graph.name, "cancelled")
			final = nil
		default:
			bus.Publish(emit.Error(err.Error()))
			e.cfg.metrics.runFinished(e.graph.name, "error")
			final = nil
		}
		s.finish(final, err)
	}()

	return s
}

// loop is the engine's step loop. It returns the terminal state or the
// first error.
func (e *Engine) loop(ctx context.Context, threadID string, state State, bus *emit.Bus, s *Stream) (State, error) {
	parentID, err := e.latestCheckpointID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	rc := &RunContext{ThreadID: threadID, Branch: -1, bus: bus}
	current := e.graph.start
	entries := make(map[string]int)
	step := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step++
		if e.cfg.maxSteps > 0 && step > e.cfg.maxSteps {
			return nil, &AssertionError{Message: fmt.Sprintf("graph %s exceeded %d steps", e.graph.name, e.cfg.maxSteps)}
		}

		current = e.applyCaps(current, entries)
		fn, ok := e.graph.nodes[current]
		if !ok {
			return nil, &AssertionError{Message: "node not found during execution: " + current}
		}
		entries[current]++

		update, err := e.invoke(ctx, fn, current, state, rc.fork(current, -1))
		if err != nil {
			return nil, err
		}

		state = e.graph.schema.Apply(state, update)
		e.publishStateUpdate(bus, current, update, state)
		s.push(ctx, Item{Mode: ModeUpdates, Node: current, Update: update})

		parentID, err = e.checkpoint(ctx, threadID, parentID, step, current, state)
		if err != nil {
			return nil, err
		}

		next, fo := e.graph.next(current, state)
		if fo != nil {
			merged, err := e.fanOutStep(ctx, rc, fo, state, bus, s)
			if err != nil {
				return nil, err
			}
			state = merged
			step++
			parentID, err = e.checkpoint(ctx, threadID, parentID, step, fo.child, state)
			if err != nil {
				return nil, err
			}
			var chained *fanOut
			next, chained = e.graph.next(fo.child, state)
			if chained != nil {
				// Compile rejects this shape.
				return nil, &AssertionError{Message: "fan-out child starts another fan-out: " + fo.child}
			}
		}

		if next == End {
			return state, nil
		}
		if next == "" {
			return nil, &AssertionError{Message: "no route from node: " + current}
		}
		current = next
	}
}

// invoke runs one node, timing it and mapping panics into assertion
// errors so a buggy node cannot take down the process.
func (e *Engine) invoke(ctx context.Context, fn NodeFunc, node string, state State, rc *RunContext) (update State, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &AssertionError{Message: fmt.Sprintf("node %s panicked: %v", node, r)}
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.cfg.metrics.observeStep(e.graph.name, node, status, time.Since(start))
	}()
	return fn(ctx, state, rc)
}

// fanOutStep schedules one branch of the child node per producer
// state. Branch envelopes interleave on the bus as emitted; branch
// updates are merged and surfaced strictly in branch-index order after
// all branches complete.
func (e *Engine) fanOutStep(ctx context.Context, rc *RunContext, fo *fanOut, state State, bus *emit.Bus, s *Stream) (State, error) {
	branches := fo.producer(state)
	if len(branches) == 0 {
		return state, nil
	}
	fn, ok := e.graph.nodes[fo.child]
	if !ok {
		return nil, &AssertionError{Message: "fan-out child not found: " + fo.child}
	}

	type result struct {
		update State
		err    error
	}
	results := make([]result, len(branches))
	var wg sync.WaitGroup

	for i, branchState := range branches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		isolated, err := DeepCopy(branchState)
		if err != nil {
			return nil, &AssertionError{Message: "branch state not serializable: " + err.Error()}
		}
		wg.Add(1)
		e.cfg.metrics.branchStarted()
		go func(idx int, bs State) {
			defer wg.Done()
			defer e.cfg.metrics.branchDone()
			update, err := e.invoke(ctx, fn, fo.child, bs, rc.fork(fo.child, idx))
			results[idx] = result{update: update, err: err}
		}(i, isolated)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// In-flight branches ran to completion; their output is
		// discarded once the consumer has gone away.
		return nil, err
	}

	merged := state
	combined := State{}
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		merged = e.graph.schema.Apply(merged, r.update)
		for k, v := range r.update {
			combined[k] = v
		}
	}
	e.publishStateUpdate(bus, fo.child, combined, merged)
	for _, r := range results {
		s.push(ctx, Item{Mode: ModeUpdates, Node: fo.child, Update: r.update})
	}
	return merged, nil
}

// applyCaps coerces routing away from a node that has reached its
// iteration cap.
func (e *Engine) applyCaps(target string, entries map[string]int) string {
	for _, c := range e.cfg.caps {
		if c.node == target && entries[target] >= c.limit {
			return c.fallback
		}
	}
	return target
}

// publishStateUpdate emits at most one state_update envelope per node
// step, carrying the post-reduce values of the configured fields the
// node touched.
func (e *Engine) publishStateUpdate(bus *emit.Bus, node string, update State, merged State) {
	if len(e.cfg.stateUpdateFields) == 0 || len(update) == 0 {
		return
	}
	payload := map[string]any{}
	for field := range update {
		if e.cfg.stateUpdateFields[field] {
			payload[field] = merged[field]
		}
	}
	if len(payload) > 0 {
		bus.Publish(emit.StateUpdate(node, payload))
	}
}

// checkpoint persists the state after a step and returns the new
// checkpoint id (the next step's parent).
func (e *Engine) checkpoint(ctx context.Context, threadID, parentID string, step int, node string, state State) (string, error) {
	blob, err := json.Marshal(state)
	if err != nil {
		return "", &AssertionError{Message: "state not serializable: " + err.Error()}
	}
	cp := store.Checkpoint{
		ThreadID:  threadID,
		Namespace: e.cfg.namespace,
		ID:        e.cfg.newID(),
		ParentID:  parentID,
		Step:      step,
		Node:      node,
		State:     blob,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.cfg.store.Put(ctx, cp); err != nil {
		return "", fmt.Errorf("persist checkpoint: %w", err)
	}
	e.cfg.metrics.checkpointWritten()
	return cp.ID, nil
}

func (e *Engine) latestCheckpointID(ctx context.Context, threadID string) (string, error) {
	cp, err := e.cfg.store.GetLatest(ctx, threadID, e.cfg.namespace)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load latest checkpoint: %w", err)
	}
	return cp.ID, nil
}

// LatestState loads and decodes the latest checkpointed state for a
// thread, or store.ErrNotFound when the thread has none.
func (e *Engine) LatestState(ctx context.Context, threadID string) (State, error) {
	cp, err := e.cfg.store.GetLatest(ctx, threadID, e.cfg.namespace)
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(cp.State, &s); err != nil {
		return nil, &AssertionError{Message: "corrupt checkpoint state: " + err.Error()}
	}
	return s, nil
}
