// Package anthropic adapts the unified runtime/model vocabulary onto the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go,
// covering the text | tool_use | tool_result content-block surface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wavegraph/orchestrator/runtime/model"
)

// MessagesClient is the subset of the Anthropic SDK client the adapter
// drives, satisfied by *sdk.MessageService in production and by a fake in
// tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Adapter implements model.Adapter over the Anthropic Messages API.
type Adapter struct {
	msg          MessagesClient
	defaultModel string

	// Streaming transport, populated only by NewFromAPIKey or a later call
	// to EnableStreaming; left zero by New so existing fake-backed tests
	// keep a non-streaming adapter.
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// New constructs an Adapter bound to msg, defaulting to defaultModel when
// a request does not name one.
func New(msg MessagesClient, defaultModel string) (*Adapter, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Adapter{msg: msg, defaultModel: defaultModel}, nil
}

// NewFromAPIKey constructs an Adapter using the SDK's default HTTP client
// configured with apiKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	a, err := New(&client.Messages, defaultModel)
	if err != nil {
		return nil, err
	}
	return a.EnableStreaming(apiKey, nil), nil
}

// Provider returns the adapter's provider identifier.
func (a *Adapter) Provider() string { return "anthropic" }

// Complete issues a single non-streaming Messages.New call.
func (a *Adapter) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return model.Response{}, translateError(err)
	}
	return translateMessage(msg), nil
}

// Stream issues a streaming Messages request. It requires the adapter to
// carry an HTTP transport (see streaming.go): NewFromAPIKey wires one
// automatically, since the SDK's MessagesClient surface this package
// depends on (New) has no native streaming method of its own to drive.
func (a *Adapter) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return a.streamImpl(ctx, req)
}

func (a *Adapter) buildParams(req model.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}
	maxTokens := 4096
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		maxTokens = *req.MaxOutputTokens
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	return params, nil
}

func encodeTools(defs []model.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: d.Parameters["properties"],
			Required:   toStringSlice(d.Parameters["required"]),
		}, d.Name)
		if d.Description != "" && u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks, err := encodeContent(m)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser, model.RoleToolResult:
			out = append(out, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeContent(m model.Message) ([]sdk.ContentBlockParamUnion, error) {
	if m.Text != "" && len(m.Content) == 0 {
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.Text)}, nil
	}
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
	for _, c := range m.Content {
		switch v := c.(type) {
		case model.TextBlock:
			if v.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			}
		case model.ToolUseBlock:
			blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Arguments, v.Name))
		case model.ToolResultBlock:
			blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
		default:
			return nil, fmt.Errorf("anthropic: unsupported content block %T", c)
		}
	}
	return blocks, nil
}

func translateMessage(msg *sdk.Message) model.Response {
	var text string
	var calls []model.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			args, _ := decodeToolInput(block.Input)
			calls = append(calls, model.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	return model.Response{
		Text:         text,
		ToolCalls:    calls,
		FinishReason: translateStopReason(string(msg.StopReason)),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func decodeToolInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func translateStopReason(reason string) model.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return model.FinishStop
	case "tool_use":
		return model.FinishToolUse
	case "max_tokens":
		return model.FinishMaxTokens
	default:
		return model.FinishStop
	}
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return model.NewProviderError("anthropic", apiErr.StatusCode, err)
	}
	return model.NewProviderError("anthropic", 0, err)
}
