// Package graph provides the typed-state graph execution engine:
// state schemas with per-field reducers, static graphs with
// conditional routing and fan-out, and a streaming engine with
// per-thread checkpointing.
package graph

import (
	"encoding/json"
	"fmt"
)

// State is the typed graph state that flows between nodes. Nodes
// receive an immutable view and return partial updates; the engine
// merges updates through the schema's reducer table.
type State map[string]any

// Clone returns a shallow copy of the state. Reducers must not mutate
// existing values in place, so a shallow copy is sufficient for the
// engine's apply step.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// Reducer merges an existing field value with a node's update for that
// field. Reducers must be deterministic and must not mutate their
// inputs.
type Reducer func(existing, update any) any

// Field declares one state field in a schema: how updates merge and
// what the field defaults to when first touched.
type Field struct {
	// Reducer merges updates into the field. Nil means replace.
	Reducer Reducer

	// Default produces the initial value used when the field is
	// updated before ever being set. Nil means the zero value of the
	// update applies directly.
	Default func() any
}

// Schema is the reducer table: it maps field names to their merge
// behavior. Fields not declared in the schema merge by replacement.
type Schema struct {
	fields map[string]Field
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]Field)}
}

// AddField declares a field. Returns the schema for chaining.
func (s *Schema) AddField(name string, f Field) *Schema {
	if f.Reducer == nil {
		f.Reducer = ReplaceReducer
	}
	s.fields[name] = f
	return s
}

// Apply merges a partial update into the current state, consulting the
// reducer table per field. The current state is not mutated.
func (s *Schema) Apply(current State, update State) State {
	result := current.Clone()
	for key, updateValue := range update {
		field, declared := s.fields[key]
		if !declared {
			result[key] = updateValue
			continue
		}
		existing, ok := result[key]
		if !ok && field.Default != nil {
			existing = field.Default()
		}
		result[key] = field.Reducer(existing, updateValue)
	}
	return result
}

// ReplaceReducer overwrites the existing value with the update. This
// is the default for undeclared fields.
func ReplaceReducer(existing, update any) any {
	return update
}

// AppendAnyReducer concatenates []any slices. Nodes must return only
// new items, never the field's prior contents; the reducer extends,
// it never rewinds.
func AppendAnyReducer(existing, update any) any {
	if existing == nil {
		existing = []any{}
	}
	prev, ok1 := existing.([]any)
	next, ok2 := update.([]any)
	if !ok1 || !ok2 {
		return update
	}
	merged := make([]any, 0, len(prev)+len(next))
	merged = append(merged, prev...)
	merged = append(merged, next...)
	return merged
}

// AppendStringsReducer concatenates []string slices with the same
// extend-only contract as AppendAnyReducer.
func AppendStringsReducer(existing, update any) any {
	if existing == nil {
		existing = []string{}
	}
	prev, ok1 := existing.([]string)
	next, ok2 := update.([]string)
	if !ok1 || !ok2 {
		return update
	}
	merged := make([]string, 0, len(prev)+len(next))
	merged = append(merged, prev...)
	merged = append(merged, next...)
	return merged
}

// DeepCopy duplicates a state via a JSON round trip. Used to isolate
// fan-out branch inputs from each other. Fails on values that do not
// marshal to JSON.
func DeepCopy(s State) (State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return copied, nil
}

// Strings reads a []string field, tolerating the []any shape a state
// acquires after a JSON round trip (checkpoint resume).
func Strings(s State, key string) []string {
	switch v := s[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Str reads a string field, returning "" when absent.
func Str(s State, key string) string {
	v, _ := s[key].(string)
	return v
}

// Int reads an integer field, tolerating the float64 shape JSON
// decoding produces.
func Int(s State, key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
