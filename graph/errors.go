package graph

import (
	"context"
	"errors"
)

// BuildError reports an invalid graph construction.
type BuildError struct {
	Graph   string
	Message string
}

func (e *BuildError) Error() string {
	return "graph " + e.Graph + ": " + e.Message
}

// DriverError wraps a failure from an external collaborator (LLM, web
// search, market catalog, stores). Transient failures (rate limits,
// timeouts, 5xx) may be retried by the driver itself; the engine
// treats both kinds as fatal for the run once they surface.
type DriverError struct {
	// Op names the failed operation, e.g. "tavily.search".
	Op string

	// Transient marks rate limits, timeouts and 5xx responses.
	Transient bool

	// Err is the underlying cause.
	Err error
}

func (e *DriverError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return e.Op + ": " + kind + " driver failure: " + e.Err.Error()
}

func (e *DriverError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable driver failure.
func Transient(op string, err error) error {
	return &DriverError{Op: op, Transient: true, Err: err}
}

// Permanent wraps err as a non-retryable driver failure (4xx, bad
// config, unparseable structured output after retries).
func Permanent(op string, err error) error {
	return &DriverError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable driver failure.
func IsTransient(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && de.Transient
}

// PreconditionError reports a violated node invariant, e.g. a CLARIFY
// decision with an empty question.
type PreconditionError struct {
	Node    string
	Message string
}

func (e *PreconditionError) Error() string {
	return "node " + e.Node + ": precondition violated: " + e.Message
}

// AssertionError reports a reducer or engine contract violation. It
// indicates a bug, not an environmental failure.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Message
}

// IsCancellation reports whether err stems from context cancellation
// or deadline expiry. Cancelled runs close their stream without
// synthesizing complete or error envelopes.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
