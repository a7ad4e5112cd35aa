// Package openai adapts the official OpenAI Go SDK to the model.ChatModel
// interface, with native JSON-schema structured outputs.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

// ChatModel wraps an OpenAI chat model. Safe for concurrent use.
type ChatModel struct {
	client *openai.Client
	name   string
	retry  model.RetryPolicy
}

// New creates an OpenAI chat model driver for the named model
// (e.g. "gpt-4o-mini"). Transient provider failures are retried with
// exponential backoff.
func New(apiKey, name string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if name == "" {
		return nil, errors.New("openai: model name is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		client: &client,
		name:   name,
		retry:  model.DefaultRetryPolicy(graph.IsTransient),
	}, nil
}

// Chat sends the conversation and returns the completion.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts *model.Options) (model.Out, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(messages),
	}
	if opts != nil {
		if opts.Temperature > 0 {
			params.Temperature = openai.Float(opts.Temperature)
		}
		if opts.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
		}
		if opts.JSONSchema != nil {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   schemaName(opts),
						Schema: opts.JSONSchema,
						Strict: openai.Bool(true),
					},
				},
			}
		}
	}

	var completion *openai.ChatCompletion
	err := m.retry.Do(ctx, func() error {
		var callErr error
		completion, callErr = m.client.Chat.Completions.New(ctx, params)
		return model.ClassifyAPIError("openai chat completion", callErr)
	})
	if err != nil {
		return model.Out{}, err
	}
	if len(completion.Choices) == 0 {
		return model.Out{}, graph.Permanent("openai chat completion", errors.New("empty choices"))
	}

	return model.Out{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case model.RoleAssistant:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return out
}

func schemaName(opts *model.Options) string {
	if opts.SchemaName != "" {
		return opts.SchemaName
	}
	return "response"
}

var _ model.ChatModel = (*ChatModel)(nil)
