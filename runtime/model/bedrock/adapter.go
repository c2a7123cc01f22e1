// Package bedrock adapts the unified runtime/model vocabulary onto the AWS
// Bedrock Converse API via github.com/aws/aws-sdk-go-v2/service/bedrockruntime,
// splitting system from conversational messages, encoding tool schemas into
// Bedrock's ToolConfiguration document shape, and translating Converse's
// tagged-union output blocks (text, tool_use) back into the unified
// Response.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/wavegraph/orchestrator/runtime/model"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client the
// adapter drives, satisfied by *bedrockruntime.Client in production and a
// fake in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Adapter implements model.Adapter over AWS Bedrock Converse.
type Adapter struct {
	runtime      RuntimeClient
	defaultModel string
}

// New constructs an Adapter bound to runtime, defaulting to defaultModel
// when a request does not name one.
func New(runtime RuntimeClient, defaultModel string) (*Adapter, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Adapter{runtime: runtime, defaultModel: defaultModel}, nil
}

// Provider returns the adapter's provider identifier.
func (a *Adapter) Provider() string { return "bedrock" }

// Complete issues a single non-streaming Converse call.
func (a *Adapter) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	parts, err := a.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
		System:   parts.system,
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	out, err := a.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, translateError(err)
	}
	return translateOutput(out)
}

// Stream is implemented in streaming.go: Converse's streaming sibling,
// ConverseStream, returns an event stream whose tagged-union chunk types
// need their own translation layer, type-asserted onto the adapter's
// runtime client rather than widened into RuntimeClient itself.

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
}

func (a *Adapter) prepareRequest(req model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.defaultModel
	}

	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if req.SystemPrompt != "" {
		system = append([]brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}, system...)
	}

	var toolConfig *brtypes.ToolConfiguration
	if len(req.Tools) > 0 {
		toolConfig, err = encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
	}

	return &requestParts{modelID: modelID, messages: messages, system: system, toolConfig: toolConfig}, nil
}

func encodeMessages(msgs []model.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		blocks, err := encodeContent(m)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser, model.RoleToolResult:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeContent(m model.Message) ([]brtypes.ContentBlock, error) {
	if m.Text != "" && len(m.Content) == 0 {
		return []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}}, nil
	}
	blocks := make([]brtypes.ContentBlock, 0, len(m.Content))
	for _, c := range m.Content {
		switch v := c.(type) {
		case model.TextBlock:
			if v.Text != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
			}
		case model.ToolUseBlock:
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(v.ID),
				Name:      aws.String(v.Name),
				Input:     lazyDocument(v.Arguments),
			}})
		case model.ToolResultBlock:
			status := brtypes.ToolResultStatusSuccess
			if v.IsError {
				status = brtypes.ToolResultStatusError
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(v.ToolUseID),
				Status:    status,
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
				},
			}})
		default:
			return nil, fmt.Errorf("bedrock: unsupported content block %T", c)
		}
	}
	return blocks, nil
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, d := range defs {
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(d.Name),
			Description: aws.String(d.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(d.Parameters)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, nil
}

func lazyDocument(v map[string]any) document.Interface {
	if v == nil {
		v = map[string]any{}
	}
	return document.NewLazyDocument(&v)
}

func decodeDocument(doc document.Interface) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func translateOutput(out *bedrockruntime.ConverseOutput) (model.Response, error) {
	if out == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	var resp model.Response
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				var id, name string
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
					ID: id, Name: name, Arguments: decodeDocument(v.Value.Input),
				})
			}
		}
	}
	if usage := out.Usage; usage != nil {
		resp.Usage = model.Usage{
			InputTokens:  int(deref(usage.InputTokens)),
			OutputTokens: int(deref(usage.OutputTokens)),
			TotalTokens:  int(deref(usage.TotalTokens)),
		}
	}
	resp.FinishReason = translateStopReason(string(out.StopReason))
	return resp, nil
}

func deref(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
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
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return model.NewProviderError("bedrock", respErr.HTTPStatusCode(), err)
	}
	return model.NewProviderError("bedrock", 0, err)
}
