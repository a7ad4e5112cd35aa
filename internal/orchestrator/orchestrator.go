// Package orchestrator is the entrypoint behind the transport: it
// resolves the thread, assembles the initial state, drives one
// main-graph run, demultiplexes its stream, and finalizes persistence
// (messages plus trace reconciliation) when the run completes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"deepresearch/graph"
	"deepresearch/graph/emit"
	"deepresearch/graph/model"
	"deepresearch/graph/store"
	"deepresearch/internal/agents"
	"deepresearch/internal/msgstore"
	"deepresearch/internal/polymarket"
	"deepresearch/internal/search"
	"deepresearch/internal/trace"
)

// ErrEmptyMessage marks a refused run: an empty message yields no
// state change and no events beyond the system markers.
var ErrEmptyMessage = errors.New("empty user message")

// mainNamespace is the checkpoint namespace of the supervisor graph.
const mainNamespace = "main"

// Options are the orchestrator's collaborators and knobs. Checkpoints
// and Messages default to in-memory stores (the no-DSN degradation).
type Options struct {
	Model           model.ChatModel
	ThreadNameModel model.ChatModel
	Searcher        search.Searcher
	Catalog         polymarket.Catalog
	Checkpoints     store.Store
	Messages        msgstore.Store
	Emitters        []emit.Emitter
	Metrics         *graph.Metrics

	Temperature    float64
	IterationCap   int
	HistoryCap     int
	MarketFallback int
}

// Orchestrator serves runs. Safe for sequential runs per thread;
// different threads may run concurrently.
type Orchestrator struct {
	opts Options
}

// New validates the collaborators and applies the in-memory defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, errors.New("orchestrator: a chat model is required")
	}
	if opts.Searcher == nil {
		return nil, errors.New("orchestrator: a search driver is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("orchestrator: a market catalog driver is required")
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = store.NewMemStore()
	}
	if opts.Messages == nil {
		opts.Messages = msgstore.NewMemStore()
	}
	if opts.IterationCap < 1 {
		opts.IterationCap = 10
	}
	if opts.HistoryCap < 1 {
		opts.HistoryCap = 50
	}
	return &Orchestrator{opts: opts}, nil
}

// Run is one user turn: the demuxed stream of the main-graph run. The
// first item is always the system/thread_id marker. When threadID is
// empty a fresh id is generated.
func (o *Orchestrator) Run(ctx context.Context, userMessage, threadID string) (*Run, error) {
	userMessage = strings.TrimSpace(userMessage)
	if threadID == "" {
		threadID = uuid.NewString()
	}
	r := newRun(threadID)

	if userMessage == "" {
		go func() {
			defer r.close()
			r.push(ctx, systemItem(threadID))
			r.setErr(ErrEmptyMessage)
		}()
		return r, nil
	}

	if err := o.opts.Messages.CreateThread(ctx, threadID, ""); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	initial, err := o.initialState(ctx, threadID, userMessage)
	if err != nil {
		return nil, err
	}

	g, err := agents.NewMainGraph(agents.GraphOptions{
		Model:          o.opts.Model,
		ThreadName:     o.opts.ThreadNameModel,
		Searcher:       o.opts.Searcher,
		Catalog:        o.opts.Catalog,
		Checkpoints:    o.opts.Checkpoints,
		Temperature:    o.opts.Temperature,
		IterationCap:   o.opts.IterationCap,
		HistoryCap:     o.opts.HistoryCap,
		MarketFallback: o.opts.MarketFallback,
	})
	if err != nil {
		return nil, err
	}

	collector := trace.NewCollector()
	engineOpts := []graph.Option{
		graph.WithStore(o.opts.Checkpoints),
		graph.WithNamespace(mainNamespace),
		graph.WithCompletionField(agents.FieldFinalReport),
		graph.WithStateUpdateFields(agents.MainStateUpdateFields...),
		graph.WithIterationCap(agents.NodeSupervisor, o.opts.IterationCap, agents.NodeFinalReport),
		graph.WithTap(collector.Observe),
		graph.WithEmitters(o.opts.Emitters...),
	}
	if o.opts.Metrics != nil {
		engineOpts = append(engineOpts, graph.WithMetrics(o.opts.Metrics))
	}
	eng, err := graph.NewEngine(g, engineOpts...)
	if err != nil {
		return nil, err
	}

	go func() {
		defer r.close()
		r.push(ctx, systemItem(threadID))

		stream := eng.Run(ctx, threadID, initial)
		for item := range stream.Items() {
			if item.Mode == graph.ModeCustom && item.Envelope.Event == "thread_name" {
				if name, _ := item.Envelope.Payload["name"].(string); name != "" {
					// Naming is best-effort.
					_ = o.opts.Messages.RenameThread(ctx, threadID, name)
				}
			}
			r.push(ctx, item)
		}

		err := stream.Err()
		if err == nil {
			err = o.finalize(ctx, threadID, userMessage, stream.Final(), collector)
		}
		r.setErr(err)
	}()
	return r, nil
}

// initialState builds the state for a fresh or resumed run. On resume
// only user_request, conversation_summary and the bumped report version
// are seeded; append-only fields start empty so their reducers cannot
// double-append history.
func (o *Orchestrator) initialState(ctx context.Context, threadID, userMessage string) (graph.State, error) {
	initial := graph.State{agents.FieldUserRequest: userMessage}

	cp, err := o.opts.Checkpoints.GetLatest(ctx, threadID, mainNamespace)
	if errors.Is(err, store.ErrNotFound) {
		return initial, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	decoded, err := store.DecodeState(cp)
	if err != nil {
		return nil, err
	}
	prior := graph.State(decoded)
	initial[agents.FieldConversationSummary] = graph.Str(prior, agents.FieldConversationSummary)
	initial[agents.FieldCurrentReportVersion] = graph.Int(prior, agents.FieldCurrentReportVersion) + 1
	return initial, nil
}

// finalize persists the turn: user and assistant messages in index
// order, then trace reconciliation against everything the collector
// observed plus the execution_trace the terminal node returned.
func (o *Orchestrator) finalize(ctx context.Context, threadID, userMessage string, final graph.State, c *trace.Collector) error {
	if final == nil {
		return nil
	}
	answer := graph.Str(final, agents.FieldFinalReport)
	if answer == "" {
		return nil
	}

	if _, _, err := o.opts.Messages.AppendMessage(ctx, threadID, msgstore.RoleUser, userMessage); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	msgID, _, err := o.opts.Messages.AppendMessage(ctx, threadID, msgstore.RoleAssistant, answer)
	if err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}

	c.Capture(returnedTrace(final[agents.FieldExecutionTrace]))
	return c.Reconcile(ctx, o.opts.Messages, msgID)
}

// returnedTrace converts the execution_trace entries a terminal node
// returned into trace events for capture.
func returnedTrace(v any) []msgstore.TraceEvent {
	entries, _ := v.([]any)
	out := make([]msgstore.TraceEvent, 0, len(entries))
	for _, item := range entries {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := entry["kind"].(string)
		payload, _ := entry["payload"].(map[string]any)
		out = append(out, msgstore.TraceEvent{
			Kind:        kind,
			Payload:     payload,
			TimestampMS: asInt64(entry["timestamp_ms"]),
		})
	}
	return out
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Threads lists known threads, most recently updated first.
func (o *Orchestrator) Threads(ctx context.Context) ([]msgstore.Thread, error) {
	return o.opts.Messages.ListThreads(ctx)
}

// History returns a thread's messages with their traces.
func (o *Orchestrator) History(ctx context.Context, threadID string) ([]msgstore.MessageWithTrace, error) {
	return o.opts.Messages.GetHistory(ctx, threadID)
}

// DeleteThread removes a thread everywhere: messages, traces and the
// checkpoint lineages of the main graph and both subgraphs.
func (o *Orchestrator) DeleteThread(ctx context.Context, threadID string) error {
	if err := o.opts.Messages.DeleteThread(ctx, threadID); err != nil && !errors.Is(err, msgstore.ErrNotFound) {
		return err
	}
	return o.opts.Checkpoints.DeleteThread(ctx, threadID)
}

func systemItem(threadID string) graph.Item {
	return graph.Item{
		Mode:     graph.ModeCustom,
		Envelope: emit.System("thread_id", map[string]any{"thread_id": threadID}),
	}
}

// Run is one demuxed turn. The engine and the finalization side
// effects run behind it; Err blocks until both settle.
type Run struct {
	ThreadID string

	items chan graph.Item
	done  chan struct{}

	mu  sync.Mutex
	err error
}

func newRun(threadID string) *Run {
	return &Run{
		ThreadID: threadID,
		items:    make(chan graph.Item, emit.DefaultBufferSize),
		done:     make(chan struct{}),
	}
}

// Items is the ordered stream of envelopes and node updates. Closed
// when the run and its finalization complete.
func (r *Run) Items() <-chan graph.Item { return r.items }

// Err reports the run or finalization failure, if any. ErrEmptyMessage
// marks a refused empty turn. Blocks until the stream closes.
func (r *Run) Err() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) push(ctx context.Context, item graph.Item) {
	select {
	case r.items <- item:
	case <-ctx.Done():
	}
}

func (r *Run) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Run) close() {
	close(r.items)
	close(r.done)
}
