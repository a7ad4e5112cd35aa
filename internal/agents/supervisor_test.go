package agents

import (
	"errors"
	"testing"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

func TestSupervisorResearchDecision(t *testing.T) {
	decider := model.NewMockModel(model.MockText(
		`{"next_step":"research","research_topic":"obama last week","reasoning":"needs fresh info","answer_format":"report"}`))
	namer := model.NewMockModel(model.MockText("Obama Weekly Activity Recap Conversation Log"))
	sv := &Supervisor{Model: decider, NameModel: namer, Cap: 10}

	run := runNode(t, NodeSupervisor, sv.Node, SupervisorSchema(50), graph.State{
		FieldUserRequest: "What did Obama do last week?",
	})
	if run.err != nil {
		t.Fatalf("run: %v", run.err)
	}

	if graph.Int(run.update, FieldIterations) != 1 {
		t.Errorf("iterations = %v", run.update[FieldIterations])
	}
	if got := graph.Str(run.update, FieldNextTopic); got != "obama last week" {
		t.Errorf("next_topic = %q", got)
	}
	if got := graph.Str(run.update, FieldAnswerFormat); got != FormatReport {
		t.Errorf("answer_format = %q", got)
	}

	// node_call, reasoning, supervisor_decision in that relative order.
	var order []string
	for _, e := range run.envelopes {
		switch e.Event {
		case "node_call", "reasoning", "supervisor_decision":
			order = append(order, e.Event)
		}
	}
	want := []string{"node_call", "reasoning", "supervisor_decision"}
	if len(order) != len(want) {
		t.Fatalf("events = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("events = %v, want %v", order, want)
		}
	}

	names := events(run.envelopes, "thread_name")
	if len(names) != 1 {
		t.Fatalf("thread_name events = %d", len(names))
	}
	if name := names[0].Payload["name"]; name != "Obama Weekly Activity Recap Conversation" {
		t.Errorf("name = %q, want 5-word truncation", name)
	}
}

func TestSupervisorClarifyWithoutQuestionFails(t *testing.T) {
	decider := model.NewMockModel(model.MockText(`{"next_step":"clarify","reasoning":"ambiguous"}`))
	sv := &Supervisor{Model: decider, Cap: 10}

	run := runNode(t, NodeSupervisor, sv.Node, SupervisorSchema(50), graph.State{
		FieldUserRequest: "it",
	})
	var pre *graph.PreconditionError
	if !errors.As(run.err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", run.err)
	}
}

func TestSupervisorClarifyProducesSentinel(t *testing.T) {
	decider := model.NewMockModel(model.MockText(
		`{"next_step":"clarify","question":"What does 'it' refer to?","reasoning":"too vague"}`))
	sv := &Supervisor{Model: decider, Cap: 10}

	run := runNode(t, NodeSupervisor, sv.Node, SupervisorSchema(50), graph.State{
		FieldUserRequest: "it",
	})
	if run.err != nil {
		t.Fatal(run.err)
	}
	if got := graph.Str(run.update, FieldNextTopic); got != ClarifyPrefix+"What does 'it' refer to?" {
		t.Errorf("next_topic = %q", got)
	}
}

func TestSupervisorForcesFinishOverCap(t *testing.T) {
	decider := model.NewMockModel()
	sv := &Supervisor{Model: decider, Cap: 5}

	run := runNode(t, NodeSupervisor, sv.Node, SupervisorSchema(50), graph.State{
		FieldUserRequest: "keep going",
		FieldIterations:  5,
	})
	if run.err != nil {
		t.Fatal(run.err)
	}
	if len(decider.Calls()) != 0 {
		t.Errorf("model called %d times over the cap", len(decider.Calls()))
	}
	if got := graph.Str(run.update, FieldNextTopic); got != DecisionFinish {
		t.Errorf("next_topic = %q", got)
	}
	if graph.Int(run.update, FieldIterations) != 6 {
		t.Errorf("iterations = %v", run.update[FieldIterations])
	}
	decisions := events(run.envelopes, "supervisor_decision")
	if len(decisions) != 1 || decisions[0].Payload["decision"] != "finish" {
		t.Errorf("decisions = %v", decisions)
	}
}

func TestSupervisorSkipsThreadNameOnResume(t *testing.T) {
	decider := model.NewMockModel(model.MockText(`{"next_step":"finish","reasoning":"done"}`))
	namer := model.NewMockModel(model.MockText("Should Not Be Called"))
	sv := &Supervisor{Model: decider, NameModel: namer, Cap: 10}

	run := runNode(t, NodeSupervisor, sv.Node, SupervisorSchema(50), graph.State{
		FieldUserRequest:          "follow-up",
		FieldCurrentReportVersion: 1,
	})
	if run.err != nil {
		t.Fatal(run.err)
	}
	if len(events(run.envelopes, "thread_name")) != 0 {
		t.Error("thread_name emitted on a resumed thread")
	}
	if len(namer.Calls()) != 0 {
		t.Error("naming model called on a resumed thread")
	}
}

func TestSupervisorRouter(t *testing.T) {
	tests := []struct {
		name  string
		state graph.State
		want  string
	}{
		{"clarify", graph.State{FieldNextTopic: ClarifyPrefix + "which?"}, NodeClarification},
		{"finish no notes concise", graph.State{FieldNextTopic: DecisionFinish, FieldAnswerFormat: FormatConcise}, NodeDirectAnswer},
		{"finish with notes", graph.State{FieldNextTopic: DecisionFinish, FieldResearchNotes: []string{"n"}}, NodeFinalReport},
		{"finish report format", graph.State{FieldNextTopic: DecisionFinish, FieldAnswerFormat: FormatReport}, NodeFinalReport},
		{"research topic", graph.State{FieldNextTopic: "obama"}, NodeCallResearcher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SupervisorRouter(tt.state); got != tt.want {
				t.Errorf("route = %q, want %q", got, tt.want)
			}
		})
	}
}
