package graph

import (
	"deepresearch/graph/emit"
	"deepresearch/graph/store"
)

// Option configures an Engine.
type Option func(*engineConfig) error

type iterationCap struct {
	node     string
	limit    int
	fallback string
}

type engineConfig struct {
	store             store.Store
	namespace         string
	caps              []iterationCap
	completionField   string
	stateUpdateFields map[string]bool
	emitters          []emit.Emitter
	taps              []func(emit.Envelope)
	metrics           *Metrics
	maxSteps          int
	buffer            int
	newID             func() string
}

// WithStore sets the checkpoint store. Without one the engine runs
// with an in-memory store scoped to the engine instance.
func WithStore(s store.Store) Option {
	return func(cfg *engineConfig) error {
		cfg.store = s
		return nil
	}
}

// WithNamespace overrides the checkpoint namespace (defaults to the
// graph name). Subgraphs sharing a store with their parent use
// distinct namespaces.
func WithNamespace(ns string) Option {
	return func(cfg *engineConfig) error {
		cfg.namespace = ns
		return nil
	}
}

// WithIterationCap bounds re-entries of one node within a run. When
// the node has already executed limit times and is routed to again,
// the engine coerces the route to fallback instead.
func WithIterationCap(node string, limit int, fallback string) Option {
	return func(cfg *engineConfig) error {
		if limit < 1 {
			return &BuildError{Message: "iteration cap must be >= 1"}
		}
		cfg.caps = append(cfg.caps, iterationCap{node: node, limit: limit, fallback: fallback})
		return nil
	}
}

// WithCompletionField names the state field whose terminal value is
// carried in the complete envelope's response payload. Empty disables
// the complete envelope (subgraphs).
func WithCompletionField(field string) Option {
	return func(cfg *engineConfig) error {
		cfg.completionField = field
		return nil
	}
}

// WithStateUpdateFields configures which fields of a node's update are
// surfaced as a state_update envelope after the node's step. At most
// one such envelope is emitted per node per step.
func WithStateUpdateFields(fields ...string) Option {
	return func(cfg *engineConfig) error {
		cfg.stateUpdateFields = make(map[string]bool, len(fields))
		for _, f := range fields {
			cfg.stateUpdateFields[f] = true
		}
		return nil
	}
}

// WithEmitters attaches observability emitters (state log, OTel). Each
// emitter sees every envelope on the run's bus in publication order.
func WithEmitters(emitters ...emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitters = append(cfg.emitters, emitters...)
		return nil
	}
}

// WithTap attaches a synchronous envelope observer (the trace
// collector). Taps see envelopes in strict publication order.
func WithTap(fn func(emit.Envelope)) Option {
	return func(cfg *engineConfig) error {
		cfg.taps = append(cfg.taps, fn)
		return nil
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithMaxSteps hard-bounds total node executions per run as a guard
// against misrouted loops. 0 disables the guard.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.maxSteps = n
		return nil
	}
}

// WithStreamBuffer sets the output stream's channel buffer.
func WithStreamBuffer(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &BuildError{Message: "stream buffer must be >= 1"}
		}
		cfg.buffer = n
		return nil
	}
}

// WithIDFunc overrides checkpoint id generation (tests).
func WithIDFunc(fn func() string) Option {
	return func(cfg *engineConfig) error {
		cfg.newID = fn
		return nil
	}
}
