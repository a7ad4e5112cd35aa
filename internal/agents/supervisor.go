package agents

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

// NodeSupervisor is the decision node of the main graph.
const NodeSupervisor = "supervisor"

const supervisorSystemPrompt = `You are the supervisor of a research agent.
Decide the next step for answering the user's request:
- "finish" when the gathered material (or the conversation itself) suffices to answer,
- "clarify" when the request is too ambiguous to act on (include a question),
- "research" when another web-research pass is needed (include a research_topic).
Also pick the answer_format: "concise" for short factual answers, "report" for
questions that deserve a structured write-up.
Respond with JSON only.`

var decisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"next_step":      map[string]any{"type": "string", "enum": []string{"finish", "clarify", "research"}},
		"research_topic": map[string]any{"type": "string"},
		"question":       map[string]any{"type": "string"},
		"reasoning":      map[string]any{"type": "string"},
		"answer_format":  map[string]any{"type": "string", "enum": []string{"concise", "report"}},
	},
	"required":             []string{"next_step", "reasoning"},
	"additionalProperties": false,
}

// Decision is the supervisor's structured output.
type Decision struct {
	NextStep      string `json:"next_step"`
	ResearchTopic string `json:"research_topic,omitempty"`
	Question      string `json:"question,omitempty"`
	Reasoning     string `json:"reasoning"`
	AnswerFormat  string `json:"answer_format,omitempty"`
}

// Supervisor decides the next step from the current state. On the first
// turn of a thread it also names the thread.
type Supervisor struct {
	Model       model.ChatModel
	NameModel   model.ChatModel
	Cap         int
	Temperature float64
}

// Node runs one supervisor step.
func (sv *Supervisor) Node(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	iterations := graph.Int(s, FieldIterations) + 1
	var trace []any

	call := rc.EmitTrace("node_call", map[string]any{
		"node":      NodeSupervisor,
		"iteration": iterations,
	})
	trace = append(trace, TraceEntry(call))

	if iterations > sv.Cap {
		// Over the cap no model call is made; routing collapses to the
		// report path.
		rc.EmitCustom("supervisor_decision", map[string]any{
			"decision":  "finish",
			"reasoning": "iteration cap reached",
			"topic":     "",
		})
		return graph.State{
			FieldIterations:     iterations,
			FieldNextTopic:      DecisionFinish,
			FieldExecutionTrace: trace,
		}, nil
	}

	update := graph.State{FieldIterations: iterations}

	if iterations == 1 && graph.Int(s, FieldCurrentReportVersion) == 0 {
		if name := sv.threadName(ctx, graph.Str(s, FieldUserRequest)); name != "" {
			rc.EmitCustom("thread_name", map[string]any{
				"thread_id": rc.ThreadID,
				"name":      name,
			})
		}
	}

	var decision Decision
	usage, err := model.Decode(ctx, sv.Model, sv.messages(s, iterations), model.Options{
		Temperature: sv.Temperature,
		JSONSchema:  decisionSchema,
		SchemaName:  "supervisor_decision",
	}, &decision)
	if err != nil {
		return nil, err
	}

	reasoning := rc.EmitTrace("reasoning", map[string]any{
		"text":              decision.Reasoning,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
	})
	trace = append(trace, TraceEntry(reasoning))

	nextTopic, err := sv.nextTopic(s, decision)
	if err != nil {
		return nil, err
	}

	rc.EmitCustom("supervisor_decision", map[string]any{
		"decision":  decision.NextStep,
		"reasoning": decision.Reasoning,
		"topic":     decision.ResearchTopic,
	})

	update[FieldNextTopic] = nextTopic
	update[FieldAnswerFormat] = normalizeFormat(decision.AnswerFormat, graph.Str(s, FieldAnswerFormat))
	update[FieldExecutionTrace] = trace
	return update, nil
}

// nextTopic maps the decision onto the next_topic sentinel vocabulary.
func (sv *Supervisor) nextTopic(s graph.State, d Decision) (string, error) {
	switch d.NextStep {
	case "finish":
		return DecisionFinish, nil
	case "clarify":
		question := strings.TrimSpace(d.Question)
		if question == "" {
			return "", &graph.PreconditionError{Node: NodeSupervisor, Message: "clarify decision without a question"}
		}
		return ClarifyPrefix + question, nil
	default:
		topic := strings.TrimSpace(d.ResearchTopic)
		if topic == "" {
			topic = graph.Str(s, FieldUserRequest)
		}
		return topic, nil
	}
}

func (sv *Supervisor) messages(s graph.State, iterations int) []model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n", graph.Str(s, FieldUserRequest))
	if summary := graph.Str(s, FieldConversationSummary); summary != "" {
		fmt.Fprintf(&b, "Conversation so far: %s\n", summary)
	}
	notes := graph.Strings(s, FieldResearchNotes)
	fmt.Fprintf(&b, "Research notes gathered: %d\n", len(notes))
	for i, note := range notes {
		fmt.Fprintf(&b, "--- note %d ---\n%s\n", i+1, note)
	}
	fmt.Fprintf(&b, "Iteration %d of %d.\n", iterations, sv.Cap)
	if graph.Int(s, FieldCurrentReportVersion) >= 1 {
		b.WriteString("A previous report for this thread exists; this is a follow-up turn.\n")
	}
	return []model.Message{
		{Role: model.RoleSystem, Content: supervisorSystemPrompt},
		{Role: model.RoleUser, Content: b.String()},
	}
}

// threadName asks the naming model for a short thread title. Naming is
// best-effort; failures leave the thread unnamed.
func (sv *Supervisor) threadName(ctx context.Context, request string) string {
	if sv.NameModel == nil {
		return ""
	}
	out, err := sv.NameModel.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Name this conversation in at most 5 words. Reply with the name only."},
		{Role: model.RoleUser, Content: request},
	}, &model.Options{Temperature: sv.Temperature, MaxTokens: 20})
	if err != nil {
		return ""
	}
	name := strings.Trim(strings.TrimSpace(out.Text), `"`)
	if words := strings.Fields(name); len(words) > 5 {
		name = strings.Join(words[:5], " ")
	}
	return name
}

func normalizeFormat(format, current string) string {
	switch format {
	case FormatConcise, FormatReport:
		return format
	}
	if current == FormatReport {
		return FormatReport
	}
	return FormatConcise
}
