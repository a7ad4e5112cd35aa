package agents

import (
	"fmt"
	"testing"

	"deepresearch/graph"
)

func TestHistoryReducerAppendsInOrder(t *testing.T) {
	r := HistoryReducer(50)
	merged := r(nil, []any{HistoryEntry("user", "hi")})
	merged = r(merged, []any{HistoryEntry("assistant", "hello")})

	list, ok := merged.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("merged = %#v", merged)
	}
	first := list[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "hi" {
		t.Errorf("first = %v", first)
	}
}

func TestHistoryReducerResetDiscardsPriorEntries(t *testing.T) {
	r := HistoryReducer(50)
	var merged any
	for i := 0; i < 4; i++ {
		merged = r(merged, []any{HistoryEntry("user", fmt.Sprintf("m%d", i))})
	}
	merged = r(merged, HistoryReset())
	if list := merged.([]any); len(list) != 0 {
		t.Fatalf("after reset = %v", list)
	}

	merged = r(merged, []any{HistoryEntry("user", "fresh")})
	list := merged.([]any)
	if len(list) != 1 || list[0].(map[string]any)["content"] != "fresh" {
		t.Errorf("after reset+append = %v", list)
	}
}

func TestHistoryReducerResetMidUpdate(t *testing.T) {
	// Appends with a single reset somewhere: result is the tail of the
	// appends after the reset, capped.
	r := HistoryReducer(3)
	var merged any
	for i := 0; i < 5; i++ {
		merged = r(merged, []any{HistoryEntry("user", fmt.Sprintf("old%d", i))})
	}
	merged = r(merged, HistoryReset())
	for i := 0; i < 5; i++ {
		merged = r(merged, []any{HistoryEntry("user", fmt.Sprintf("new%d", i))})
	}

	list := merged.([]any)
	if len(list) != 3 {
		t.Fatalf("len = %d, want cap 3", len(list))
	}
	for i, want := range []string{"new2", "new3", "new4"} {
		if got := list[i].(map[string]any)["content"]; got != want {
			t.Errorf("list[%d] = %v, want %s", i, got, want)
		}
	}
}

func TestHistoryReducerCapsWithoutReset(t *testing.T) {
	r := HistoryReducer(2)
	var merged any
	for i := 0; i < 5; i++ {
		merged = r(merged, []any{HistoryEntry("user", fmt.Sprintf("m%d", i))})
	}
	list := merged.([]any)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].(map[string]any)["content"] != "m3" || list[1].(map[string]any)["content"] != "m4" {
		t.Errorf("tail = %v", list)
	}
}

func TestSupervisorSchemaAppendOnlyFields(t *testing.T) {
	schema := SupervisorSchema(50)
	state := graph.State{}

	state = schema.Apply(state, graph.State{FieldResearchNotes: []string{"note 1"}})
	state = schema.Apply(state, graph.State{FieldResearchNotes: []string{"note 2"}})
	notes := graph.Strings(state, FieldResearchNotes)
	if len(notes) != 2 || notes[0] != "note 1" || notes[1] != "note 2" {
		t.Errorf("notes = %v", notes)
	}

	state = schema.Apply(state, graph.State{FieldExecutionTrace: []any{map[string]any{"kind": "node_call"}}})
	state = schema.Apply(state, graph.State{FieldExecutionTrace: []any{map[string]any{"kind": "reasoning"}}})
	if entries := toList(state[FieldExecutionTrace]); len(entries) != 2 {
		t.Errorf("trace = %v", entries)
	}

	// Undeclared fields replace.
	state = schema.Apply(state, graph.State{FieldIterations: 1})
	state = schema.Apply(state, graph.State{FieldIterations: 2})
	if graph.Int(state, FieldIterations) != 2 {
		t.Errorf("iterations = %v", state[FieldIterations])
	}
}
