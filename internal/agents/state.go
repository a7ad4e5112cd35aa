// Package agents implements the research-agent nodes and graphs: the
// supervisor loop, the researcher and market-research subgraphs, the
// terminal answer nodes and the conversation summarizer.
package agents

import (
	"deepresearch/graph"
	"deepresearch/graph/emit"
)

// Supervisor-state field names.
const (
	FieldUserRequest          = "user_request"
	FieldConversationSummary  = "conversation_summary"
	FieldConversationHistory  = "conversation_history"
	FieldResearchNotes        = "research_notes"
	FieldExecutionTrace       = "execution_trace"
	FieldNextTopic            = "next_topic"
	FieldFinalReport          = "final_report"
	FieldIterations           = "iterations"
	FieldAnswerFormat         = "answer_format"
	FieldCurrentReportVersion = "current_report_version"
	FieldPredictionMarkets    = "prediction_markets"
	FieldPolymarketBlurb      = "polymarket_blurb"
)

// Researcher-state field names.
const (
	FieldTopic           = "topic"
	FieldQueries         = "queries"
	FieldQuery           = "query"
	FieldQueryBreadth    = "query_breadth"
	FieldSearchResults   = "search_results"
	FieldResearchSummary = "research_summary"
)

// Market-research-state field names.
const (
	FieldOriginalTopic    = "original_topic"
	FieldAIResponse       = "ai_response"
	FieldSelectedTags     = "selected_tags"
	FieldRawEvents        = "raw_events"
	FieldCandidateMarkets = "candidate_markets"
	FieldApprovedMarkets  = "approved_markets"
	FieldReasoningTrace   = "reasoning_trace"
)

// Routing sentinels carried in next_topic.
const (
	DecisionFinish = "FINISH"
	ClarifyPrefix  = "CLARIFY:"
)

// Answer formats.
const (
	FormatConcise = "concise"
	FormatReport  = "report"
)

// historyResetMarker is the in-band reset signal the summarizer sends
// through the conversation_history reducer.
const historyResetMarker = "__history_reset__"

// HistoryEntry builds one role-tagged conversation_history item.
func HistoryEntry(role, content string) map[string]any {
	return map[string]any{"role": role, "content": content}
}

// HistoryReset is the update value that clears conversation_history.
func HistoryReset() []any {
	return []any{historyResetMarker}
}

// HistoryReducer merges conversation_history updates: items append in
// order, a reset marker discards everything before it, and the result
// is capped to the last limit entries.
func HistoryReducer(limit int) graph.Reducer {
	return func(existing, update any) any {
		merged := make([]any, 0)
		merged = append(merged, toList(existing)...)
		merged = append(merged, toList(update)...)

		cut := 0
		for i := len(merged) - 1; i >= 0; i-- {
			if marker, ok := merged[i].(string); ok && marker == historyResetMarker {
				cut = i + 1
				break
			}
		}
		merged = merged[cut:]
		if len(merged) > limit {
			merged = merged[len(merged)-limit:]
		}
		return merged
	}
}

func toList(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	default:
		return []any{v}
	}
}

// SupervisorSchema is the reducer table of the main graph.
func SupervisorSchema(historyCap int) *graph.Schema {
	s := graph.NewSchema()
	s.AddField(FieldConversationHistory, graph.Field{Reducer: HistoryReducer(historyCap)})
	s.AddField(FieldResearchNotes, graph.Field{Reducer: graph.AppendStringsReducer})
	s.AddField(FieldExecutionTrace, graph.Field{Reducer: graph.AppendAnyReducer})
	return s
}

// ResearcherSchema is the reducer table of the researcher subgraph.
// search_results is the fan-out accumulator; branch updates concatenate
// in branch-index order.
func ResearcherSchema() *graph.Schema {
	s := graph.NewSchema()
	s.AddField(FieldSearchResults, graph.Field{Reducer: graph.AppendAnyReducer})
	return s
}

// MarketSchema is the reducer table of the market-research subgraph.
func MarketSchema() *graph.Schema {
	s := graph.NewSchema()
	s.AddField(FieldReasoningTrace, graph.Field{Reducer: graph.AppendStringsReducer})
	return s
}

// TraceEntry converts an emitted trace envelope into the shape nodes
// carry in execution_trace, so the run's collector can reconcile
// returned entries against bus-observed ones.
func TraceEntry(e emit.Envelope) map[string]any {
	return map[string]any{
		"kind":         e.Event,
		"payload":      e.Payload,
		"timestamp_ms": e.TimestampMS,
	}
}
