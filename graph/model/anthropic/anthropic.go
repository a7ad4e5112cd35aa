// Package anthropic adapts the official Anthropic Go SDK to the
// model.ChatModel interface. Claude has no native JSON-schema response
// format, so structured output is steered through the system prompt.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

// defaultMaxTokens applies when the caller leaves MaxTokens unset;
// the Anthropic API requires an explicit value.
const defaultMaxTokens = 4096

// ChatModel wraps a Claude model. Safe for concurrent use.
type ChatModel struct {
	client *anthropic.Client
	name   string
	retry  model.RetryPolicy
}

// New creates an Anthropic chat model driver for the named model
// (e.g. "claude-3-5-sonnet-20241022").
func New(apiKey, name string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if name == "" {
		return nil, errors.New("anthropic: model name is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		client: &client,
		name:   name,
		retry:  model.DefaultRetryPolicy(graph.IsTransient),
	}, nil
}

// Chat sends the conversation and returns the completion.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts *model.Options) (model.Out, error) {
	system, turns := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.name),
		MaxTokens: defaultMaxTokens,
		Messages:  turns,
	}
	if opts != nil {
		if opts.MaxTokens > 0 {
			params.MaxTokens = int64(opts.MaxTokens)
		}
		if opts.Temperature > 0 {
			params.Temperature = anthropic.Float(opts.Temperature)
		}
		if opts.JSONSchema != nil {
			system = appendSchemaInstruction(system, opts.JSONSchema)
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var message *anthropic.Message
	err := m.retry.Do(ctx, func() error {
		var callErr error
		message, callErr = m.client.Messages.New(ctx, params)
		return model.ClassifyAPIError("anthropic messages", callErr)
	})
	if err != nil {
		return model.Out{}, err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return model.Out{
		Text:  text.String(),
		Model: string(message.Model),
		Usage: model.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// splitSystem separates leading system messages (Anthropic carries
// them outside the turn list) from the user/assistant turns.
func splitSystem(messages []model.Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case model.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system.String(), turns
}

func appendSchemaInstruction(system string, schema map[string]any) string {
	blob, err := json.Marshal(schema)
	if err != nil {
		return system
	}
	instruction := "Respond with only a JSON document matching this JSON Schema, no markdown fences and no prose:\n" + string(blob)
	if system == "" {
		return instruction
	}
	return system + "\n\n" + instruction
}

var _ model.ChatModel = (*ChatModel)(nil)
