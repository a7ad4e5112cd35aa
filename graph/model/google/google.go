// Package google adapts the Google Gemini SDK to the model.ChatModel
// interface. Structured output uses Gemini's JSON response MIME type
// plus schema steering in the system instruction.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

// ChatModel wraps a Gemini model. The SDK client is created per call
// because genai clients bind to a context at construction.
type ChatModel struct {
	apiKey string
	name   string
	retry  model.RetryPolicy
}

// New creates a Gemini chat model driver for the named model
// (e.g. "gemini-1.5-flash").
func New(apiKey, name string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if name == "" {
		return nil, errors.New("google: model name is required")
	}
	return &ChatModel{
		apiKey: apiKey,
		name:   name,
		retry:  model.DefaultRetryPolicy(graph.IsTransient),
	}, nil
}

// Chat sends the conversation and returns the completion.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts *model.Options) (model.Out, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return model.Out{}, graph.Permanent("google client", err)
	}
	defer func() { _ = client.Close() }()

	gen := client.GenerativeModel(m.name)
	system, parts := convertMessages(messages)
	if opts != nil {
		if opts.Temperature > 0 {
			temp := float32(opts.Temperature)
			gen.Temperature = &temp
		}
		if opts.MaxTokens > 0 {
			maxTokens := int32(opts.MaxTokens)
			gen.MaxOutputTokens = &maxTokens
		}
		if opts.JSONSchema != nil {
			gen.ResponseMIMEType = "application/json"
			system = appendSchemaInstruction(system, opts.JSONSchema)
		}
	}
	if system != "" {
		gen.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	var resp *genai.GenerateContentResponse
	err = m.retry.Do(ctx, func() error {
		var callErr error
		resp, callErr = gen.GenerateContent(ctx, parts...)
		return model.ClassifyAPIError("google generate content", callErr)
	})
	if err != nil {
		return model.Out{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.Out{}, graph.Permanent("google generate content",
			fmt.Errorf("no candidates (prompt feedback: %v)", resp.PromptFeedback))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := model.Out{Text: text.String(), Model: m.name}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// convertMessages folds system messages into the system instruction
// and the remaining turns into text parts.
func convertMessages(messages []model.Message) (string, []genai.Part) {
	var system strings.Builder
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role == model.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	return system.String(), parts
}

func appendSchemaInstruction(system string, schema map[string]any) string {
	blob, err := json.Marshal(schema)
	if err != nil {
		return system
	}
	instruction := "Respond with only a JSON document matching this JSON Schema:\n" + string(blob)
	if system == "" {
		return instruction
	}
	return system + "\n\n" + instruction
}

var _ model.ChatModel = (*ChatModel)(nil)
