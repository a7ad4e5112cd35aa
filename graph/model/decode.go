package model

import (
	"context"
	"encoding/json"
	"strings"

	"deepresearch/graph"
)

// maxDecodeAttempts bounds structured-output re-asks when a provider
// returns malformed JSON despite schema constraints.
const maxDecodeAttempts = 2

// Decode requests a completion constrained to the given JSON schema
// and unmarshals it into T. A malformed completion is re-asked once
// with the parse error appended; a second failure is permanent.
// Usage accumulates across attempts.
func Decode[T any](ctx context.Context, m ChatModel, messages []Message, opts Options, out *T) (Usage, error) {
	var usage Usage
	var lastErr error

	attempt := append([]Message(nil), messages...)
	for i := 0; i < maxDecodeAttempts; i++ {
		res, err := m.Chat(ctx, attempt, &opts)
		usage = usage.Add(res.Usage)
		if err != nil {
			return usage, err
		}

		text := stripFences(res.Text)
		if err := json.Unmarshal([]byte(text), out); err == nil {
			return usage, nil
		} else {
			lastErr = err
		}

		attempt = append(attempt,
			Message{Role: RoleAssistant, Content: res.Text},
			Message{Role: RoleUser, Content: "The previous reply was not valid JSON (" + lastErr.Error() + "). Reply again with only a JSON document matching the requested schema."},
		)
	}
	return usage, graph.Permanent("decode structured output", lastErr)
}

// stripFences removes a markdown code fence wrapper some models add
// around JSON output.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
