package agents

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

// NodeSummarize compacts the turn into conversation_summary.
const NodeSummarize = "summarize_conversation"

// Summarizer folds the raw conversation_history into an updated
// conversation_summary and resets the history through its reducer.
type Summarizer struct {
	Model       model.ChatModel
	Temperature float64
}

// Node runs after every terminal node. Summarization is best-effort: a
// model failure falls back to a mechanical digest so the answer the
// user already received is never lost to a summarizer error.
// Cancellation still propagates.
func (sm *Summarizer) Node(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	rc.EmitTrace("node_call", map[string]any{"node": NodeSummarize})

	previous := graph.Str(s, FieldConversationSummary)
	rendered := renderHistory(toList(s[FieldConversationHistory]))

	summary, err := sm.summarize(ctx, previous, rendered)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		summary = mechanicalSummary(previous, rendered)
	}

	return graph.State{
		FieldConversationSummary: summary,
		FieldConversationHistory: HistoryReset(),
	}, nil
}

func (sm *Summarizer) summarize(ctx context.Context, previous, history string) (string, error) {
	var b strings.Builder
	if previous != "" {
		fmt.Fprintf(&b, "Existing summary:\n%s\n\n", previous)
	}
	fmt.Fprintf(&b, "New turns:\n%s", history)

	out, err := sm.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Update the conversation summary to cover everything to date. A short paragraph, third person."},
		{Role: model.RoleUser, Content: b.String()},
	}, &model.Options{Temperature: sm.Temperature})
	if err != nil {
		if graph.IsCancellation(err) {
			return "", err
		}
		return "", nil
	}
	return strings.TrimSpace(out.Text), nil
}

func renderHistory(history []any) string {
	var b strings.Builder
	for _, item := range history {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%v: %v\n", entry["role"], entry["content"])
	}
	return b.String()
}

// mechanicalSummary is the non-model fallback: the old summary plus the
// raw turns, truncated.
func mechanicalSummary(previous, history string) string {
	const max = 4000
	s := strings.TrimSpace(previous + "\n" + history)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
