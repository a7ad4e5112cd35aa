package model

import (
	"context"
	"testing"

	"deepresearch/graph"
)

type decision struct {
	Action string `json:"action"`
	Query  string `json:"query"`
}

var decisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action": map[string]any{"type": "string"},
		"query":  map[string]any{"type": "string"},
	},
	"required": []string{"action"},
}

func TestDecodeValidJSON(t *testing.T) {
	m := NewMockModel(MockText(`{"action":"research","query":"rates"}`))

	var out decision
	usage, err := Decode(context.Background(), m, []Message{{Role: RoleUser, Content: "decide"}}, Options{JSONSchema: decisionSchema}, &out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Action != "research" || out.Query != "rates" {
		t.Errorf("decoded %+v", out)
	}
	if usage.Total() == 0 {
		t.Error("usage not accumulated")
	}
	if len(m.Calls()) != 1 {
		t.Errorf("calls = %d, want 1", len(m.Calls()))
	}
}

func TestDecodeStripsCodeFences(t *testing.T) {
	m := NewMockModel(MockText("```json\n{\"action\":\"finish\"}\n```"))

	var out decision
	if _, err := Decode(context.Background(), m, nil, Options{JSONSchema: decisionSchema}, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Action != "finish" {
		t.Errorf("Action = %q", out.Action)
	}
}

func TestDecodeReasksOnMalformedJSON(t *testing.T) {
	m := NewMockModel(
		MockText("sure, here is the plan"),
		MockText(`{"action":"research"}`),
	)

	var out decision
	if _, err := Decode(context.Background(), m, nil, Options{JSONSchema: decisionSchema}, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Action != "research" {
		t.Errorf("Action = %q", out.Action)
	}
	calls := m.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	// The re-ask carries the malformed reply and a correction turn.
	if len(calls[1]) != 2 {
		t.Errorf("re-ask message count = %d, want 2", len(calls[1]))
	}
}

func TestDecodePermanentAfterRepeatedMalformedJSON(t *testing.T) {
	m := NewMockModel(MockText("still not json"))

	var out decision
	_, err := Decode(context.Background(), m, nil, Options{JSONSchema: decisionSchema}, &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if graph.IsTransient(err) {
		t.Error("decode failure should be permanent")
	}
	if len(m.Calls()) != maxDecodeAttempts {
		t.Errorf("calls = %d, want %d", len(m.Calls()), maxDecodeAttempts)
	}
}

func TestCostKnownAndUnknownModels(t *testing.T) {
	usd, known := Cost("gpt-4o-mini", Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})
	if !known {
		t.Fatal("gpt-4o-mini should be priced")
	}
	if usd < 0.74 || usd > 0.76 {
		t.Errorf("cost = %f, want 0.75", usd)
	}

	if _, known := Cost("some-local-model", Usage{PromptTokens: 100}); known {
		t.Error("unknown model reported as priced")
	}
}
