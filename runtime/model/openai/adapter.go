// Package openai adapts the unified runtime/model vocabulary onto the
// OpenAI Chat Completions API via github.com/openai/openai-go. The
// non-streaming path drives a narrow ChatClient seam so tests can fake
// the SDK; streaming (streaming.go) goes around that seam entirely,
// posting directly to the chat-completions endpoint and decoding its SSE
// chunk stream through runtime/model/sse.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/wavegraph/orchestrator/runtime/model"
)

// ChatClient captures the subset of the openai-go client the adapter
// drives, satisfied by the SDK's Chat.Completions service or a fake in
// tests.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Adapter implements model.Adapter over the OpenAI Chat Completions API.
type Adapter struct {
	chat         ChatClient
	defaultModel string

	// Streaming transport, populated only by NewFromAPIKey or a later call
	// to EnableStreaming; left zero by New so existing fake-backed tests
	// keep a non-streaming adapter.
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// New constructs an Adapter bound to chat, defaulting to defaultModel
// when a request does not name one.
func New(chat ChatClient, defaultModel string) (*Adapter, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions client is required")
	}
	defaultModel = strings.TrimSpace(defaultModel)
	if defaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Adapter{chat: chat, defaultModel: defaultModel}, nil
}

// NewFromAPIKey constructs an Adapter using the SDK's default HTTP
// client configured with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Adapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	a, err := New(&client.Chat.Completions, defaultModel)
	if err != nil {
		return nil, err
	}
	return a.EnableStreaming(apiKey, nil), nil
}

// Provider returns the adapter's provider identifier.
func (a *Adapter) Provider() string { return "openai" }

// Complete issues a single non-streaming Chat Completions call.
func (a *Adapter) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := a.chat.New(ctx, params)
	if err != nil {
		return model.Response{}, translateError(err)
	}
	return translateCompletion(resp)
}

// Stream issues a streaming Chat Completions request over raw SSE. It
// requires the adapter to carry an HTTP transport (see streaming.go):
// NewFromAPIKey wires one automatically, since the minimal ChatClient seam
// (New only) this package depends on has no native streaming method of its
// own to drive.
func (a *Adapter) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return a.streamImpl(ctx, req)
}

func (a *Adapter) buildParams(req model.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = a.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(*req.TopP)
	}
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(*req.MaxOutputTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	return params, nil
}

func encodeMessage(m model.Message) (openai.ChatCompletionMessageParamUnion, error) {
	text := m.Text
	if text == "" {
		for _, c := range m.Content {
			if tb, ok := c.(model.TextBlock); ok {
				text += tb.Text
			}
		}
	}
	switch m.Role {
	case model.RoleUser:
		return openai.UserMessage(text), nil
	case model.RoleAssistant:
		return openai.AssistantMessage(text), nil
	case model.RoleToolResult:
		for _, c := range m.Content {
			if tr, ok := c.(model.ToolResultBlock); ok {
				return openai.ToolMessage(tr.Content, tr.ToolUseID), nil
			}
		}
		return openai.ToolMessage(text, ""), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
	}
}

func encodeTools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: param.NewOpt(d.Description),
				Parameters:  shared.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}

func translateCompletion(resp *openai.ChatCompletion) (model.Response, error) {
	if len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai: response contained no choices")
	}
	choice := resp.Choices[0]

	var calls []model.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return model.Response{}, err
		}
		calls = append(calls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return model.Response{
		Text:         choice.Message.Content,
		ToolCalls:    calls,
		FinishReason: translateFinishReason(choice.FinishReason),
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func translateFinishReason(reason string) model.FinishReason {
	switch reason {
	case "stop":
		return model.FinishStop
	case "tool_calls":
		return model.FinishToolUse
	case "length":
		return model.FinishMaxTokens
	default:
		return model.FinishStop
	}
}

func translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.NewProviderError("openai", apiErr.StatusCode, err)
	}
	return model.NewProviderError("openai", 0, err)
}
