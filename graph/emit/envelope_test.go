package emit

import (
	"encoding/json"
	"testing"
)

func TestConstructorsProduceWellFormedEnvelopes(t *testing.T) {
	tests := []struct {
		name      string
		env       Envelope
		wantType  string
		wantEvent string
	}{
		{"trace", Trace(TraceNodeCall, "supervisor", map[string]any{"x": 1}), TypeTrace, TraceNodeCall},
		{"custom", Custom("supervisor_decision", "supervisor", nil), TypeCustom, "supervisor_decision"},
		{"state update", StateUpdate("final_report", map[string]any{"current_report": "r"}), TypeStateUpdate, "state_update"},
		{"system", System("thread_id", map[string]any{"thread_id": "t1"}), TypeSystem, "thread_id"},
		{"complete", Complete("the answer"), TypeComplete, "complete"},
		{"error", Error("it broke"), TypeError, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.env.Type, tt.wantType)
			}
			if tt.env.Event != tt.wantEvent {
				t.Errorf("Event = %q, want %q", tt.env.Event, tt.wantEvent)
			}
			if tt.env.TimestampMS == 0 {
				t.Error("timestamp missing")
			}
		})
	}
}

func TestCompleteAndErrorPayloads(t *testing.T) {
	if got := Complete("done").Payload["response"]; got != "done" {
		t.Errorf("complete response = %v", got)
	}
	if got := Error("boom").Payload["error"]; got != "boom" {
		t.Errorf("error message = %v", got)
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	env := Custom("web_search_url", "perform_search", map[string]any{"url": "https://example.com"})
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "timestamp_ms", "node", "event", "payload"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in wire shape", key)
		}
	}
	if len(decoded) != 5 {
		t.Errorf("wire shape has %d keys, want 5", len(decoded))
	}
}

func TestNormalizeFillsMissingFields(t *testing.T) {
	env := Normalize(Envelope{})
	if env.Type != TypeCustom || env.Event != TypeCustom {
		t.Errorf("normalized = %+v", env)
	}
	if env.TimestampMS == 0 || env.Payload == nil {
		t.Errorf("normalized = %+v", env)
	}

	// Already well-formed envelopes pass through unchanged.
	orig := Trace(TraceSearch, "n", map[string]any{"q": "x"})
	if got := Normalize(orig); got.TimestampMS != orig.TimestampMS || got.Event != orig.Event {
		t.Errorf("Normalize changed a well-formed envelope: %+v", got)
	}
}
