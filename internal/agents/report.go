package agents

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

// Terminal node names. Each produces the assistant message of the turn.
const (
	NodeFinalReport   = "final_report"
	NodeDirectAnswer  = "direct_answer"
	NodeClarification = "clarification"
)

// defaultClarification covers a CLARIFY sentinel whose question text
// was lost.
const defaultClarification = "Could you clarify what you would like me to research?"

// Report writes the terminal assistant message.
type Report struct {
	Model       model.ChatModel
	Temperature float64
}

// FinalReportNode composes a markdown report from the gathered notes.
// A refinement prompt is used when the thread already carries a report
// from an earlier turn.
func (rp *Report) FinalReportNode(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	var trace []any
	call := rc.EmitTrace("node_call", map[string]any{"node": NodeFinalReport})
	trace = append(trace, TraceEntry(call))
	rc.EmitCustom("writing_report", map[string]any{})

	out, err := rp.Model.Chat(ctx, rp.reportMessages(s), &model.Options{Temperature: rp.Temperature})
	if err != nil {
		return nil, err
	}
	report := strings.TrimSpace(out.Text)

	usd, _ := model.Cost(out.Model, out.Usage)
	done := rc.EmitTrace("custom", map[string]any{
		"event":    "report_written",
		"model":    out.Model,
		"tokens":   out.Usage.Total(),
		"cost_usd": usd,
	})
	trace = append(trace, TraceEntry(done))
	rc.EmitCustom("final_report_complete", map[string]any{"report": report})

	update := terminalUpdate(s, report, trace)
	update[FieldNextTopic] = DecisionFinish
	update[FieldCurrentReportVersion] = graph.Int(s, FieldCurrentReportVersion) + 1
	return update, nil
}

func (rp *Report) reportMessages(s graph.State) []model.Message {
	refine := graph.Int(s, FieldCurrentReportVersion) >= 1

	var system strings.Builder
	if refine {
		system.WriteString("Refine the previous report for the follow-up request, keeping what still holds. ")
	} else {
		system.WriteString("Write a report answering the request from the research notes. ")
	}
	if graph.Str(s, FieldAnswerFormat) == FormatReport {
		system.WriteString("Use structured markdown with headings.")
	} else {
		system.WriteString("Keep it concise: a few short paragraphs, no headings.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", graph.Str(s, FieldUserRequest))
	if summary := graph.Str(s, FieldConversationSummary); summary != "" {
		fmt.Fprintf(&b, "Conversation so far: %s\n", summary)
	}
	if refine {
		fmt.Fprintf(&b, "Previous report:\n%s\n", graph.Str(s, FieldFinalReport))
	}
	for i, note := range graph.Strings(s, FieldResearchNotes) {
		fmt.Fprintf(&b, "--- note %d ---\n%s\n", i+1, note)
	}
	return []model.Message{
		{Role: model.RoleSystem, Content: system.String()},
		{Role: model.RoleUser, Content: b.String()},
	}
}

// DirectAnswerNode answers from the conversation alone, without
// research notes.
func (rp *Report) DirectAnswerNode(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	var trace []any
	call := rc.EmitTrace("node_call", map[string]any{"node": NodeDirectAnswer})
	trace = append(trace, TraceEntry(call))

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", graph.Str(s, FieldUserRequest))
	if summary := graph.Str(s, FieldConversationSummary); summary != "" {
		fmt.Fprintf(&b, "Conversation so far: %s\n", summary)
	}

	out, err := rp.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Answer the request directly and concisely."},
		{Role: model.RoleUser, Content: b.String()},
	}, &model.Options{Temperature: rp.Temperature})
	if err != nil {
		return nil, err
	}
	answer := strings.TrimSpace(out.Text)
	rc.EmitCustom("final_report_complete", map[string]any{"report": answer})
	update := terminalUpdate(s, answer, trace)
	update[FieldNextTopic] = DecisionFinish
	return update, nil
}

// ClarificationNode surfaces the supervisor's question as the
// assistant message. No model call.
func (rp *Report) ClarificationNode(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	var trace []any
	call := rc.EmitTrace("node_call", map[string]any{"node": NodeClarification})
	trace = append(trace, TraceEntry(call))

	question := strings.TrimSpace(strings.TrimPrefix(graph.Str(s, FieldNextTopic), ClarifyPrefix))
	if question == "" {
		question = defaultClarification
	}
	rc.EmitCustom("final_report_complete", map[string]any{"report": question})
	return terminalUpdate(s, question, trace), nil
}

// terminalUpdate is the shared shape of a terminal node's return: the
// answer, both turn messages appended to history, and the trace entries
// the node emitted. Clarification keeps its CLARIFY sentinel in
// next_topic; the report and direct-answer nodes overwrite it with
// FINISH.
func terminalUpdate(s graph.State, answer string, trace []any) graph.State {
	return graph.State{
		FieldFinalReport: answer,
		FieldConversationHistory: []any{
			HistoryEntry(model.RoleUser, graph.Str(s, FieldUserRequest)),
			HistoryEntry(model.RoleAssistant, answer),
		},
		FieldExecutionTrace: trace,
	}
}
