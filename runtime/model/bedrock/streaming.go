package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/wavegraph/orchestrator/runtime/model"
)

// StreamingRuntimeClient is satisfied by *bedrockruntime.Client in addition
// to RuntimeClient; Stream type-asserts to it rather than widening
// RuntimeClient itself, so Converse-only fakes built against the existing
// interface (adapter_test.go) keep compiling unchanged.
type StreamingRuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Stream issues a Converse request over Bedrock's native bidirectional
// event-stream transport (not SSE, unlike the Anthropic/OpenAI adapters),
// translating its tagged-union chunk types into the unified model.Chunk
// vocabulary.
func (a *Adapter) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	streaming, ok := a.runtime.(StreamingRuntimeClient)
	if !ok {
		return nil, errors.New("bedrock: this adapter's runtime client does not support ConverseStream")
	}
	parts, err := a.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
		System:   parts.system,
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}

	out, err := streaming.ConverseStream(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}
	stream := out.GetStream()
	return newEventStreamer(ctx, stream), nil
}

// converseEventStream is the subset of *bedrockruntime.ConverseStreamEventStreamReader
// the adapter drives: a channel of tagged-union events plus an error/close
// surface, satisfied by the SDK's real reader in production.
type converseEventStream interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Close() error
	Err() error
}

// eventStreamer adapts the SDK's push-style event channel into the
// model.Streamer Recv/Close contract, mirroring sse.ReaderStreamer's shape
// for the Anthropic/OpenAI adapters even though Bedrock's wire format is a
// distinct, non-SSE event-stream encoding.
type eventStreamer struct {
	stream converseEventStream
	state  *bedrockStreamState
	ctx    context.Context
}

func newEventStreamer(ctx context.Context, stream converseEventStream) *eventStreamer {
	return &eventStreamer{stream: stream, state: &bedrockStreamState{toolIndex: map[int32]*pendingTool{}}, ctx: ctx}
}

func (e *eventStreamer) Recv() (model.Chunk, bool, error) {
	for {
		select {
		case <-e.ctx.Done():
			return model.Chunk{}, false, e.ctx.Err()
		case ev, ok := <-e.stream.Events():
			if !ok {
				if err := e.stream.Err(); err != nil {
					return model.Chunk{}, false, err
				}
				return model.Chunk{}, false, nil
			}
			chunk, emit, err := e.state.translate(ev)
			if err != nil {
				return model.Chunk{}, false, err
			}
			if !emit {
				continue
			}
			return chunk, true, nil
		}
	}
}

func (e *eventStreamer) Close() error {
	return e.stream.Close()
}

type pendingTool struct {
	id   string
	name string
	args string
}

// bedrockStreamState accumulates the running text/tool-call/usage state
// across a Converse event stream's dispatched tagged-union events.
type bedrockStreamState struct {
	text       string
	stopReason string
	inputUsage int32
	outUsage   int32
	toolIndex  map[int32]*pendingTool
	toolOrder  []int32
}

func (s *bedrockStreamState) translate(ev brtypes.ConverseStreamOutput) (model.Chunk, bool, error) {
	switch v := ev.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		start := v.Value
		if toolStart, ok := start.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			id := aws.ToString(toolStart.Value.ToolUseId)
			name := aws.ToString(toolStart.Value.Name)
			s.toolIndex[deref(start.ContentBlockIndex)] = &pendingTool{id: id, name: name}
			s.toolOrder = append(s.toolOrder, deref(start.ContentBlockIndex))
			return model.Chunk{Type: model.ChunkToolCallStart, ToolCallID: id, ToolCallName: name}, true, nil
		}
		return model.Chunk{}, false, nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		delta := v.Value
		switch d := delta.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			s.text += d.Value
			return model.Chunk{Type: model.ChunkTextDelta, Text: d.Value}, true, nil
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tool := s.toolIndex[deref(delta.ContentBlockIndex)]
			var id, name string
			if tool != nil {
				id, name = tool.id, tool.name
				tool.args += aws.ToString(d.Value.Input)
			}
			return model.Chunk{
				Type:              model.ChunkToolCallDelta,
				ToolCallID:        id,
				ToolCallName:      name,
				ToolCallArgsDelta: aws.ToString(d.Value.Input),
			}, true, nil
		}
		return model.Chunk{}, false, nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		stop := v.Value
		if tool := s.toolIndex[deref(stop.ContentBlockIndex)]; tool != nil {
			return model.Chunk{Type: model.ChunkToolCallEnd, ToolCallID: tool.id}, true, nil
		}
		return model.Chunk{}, false, nil
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		s.stopReason = string(v.Value.StopReason)
		return model.Chunk{}, false, nil
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if usage := v.Value.Usage; usage != nil {
			s.inputUsage = deref(usage.InputTokens)
			s.outUsage = deref(usage.OutputTokens)
		}
		resp := model.Response{
			Text:         s.text,
			ToolCalls:    s.aggregatedToolCalls(),
			FinishReason: translateStopReason(s.stopReason),
			Usage: model.Usage{
				InputTokens:  int(s.inputUsage),
				OutputTokens: int(s.outUsage),
				TotalTokens:  int(s.inputUsage + s.outUsage),
			},
		}
		return model.Chunk{Type: model.ChunkDone, Response: &resp}, true, nil
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return model.Chunk{}, false, nil
	default:
		return model.Chunk{}, false, fmt.Errorf("bedrock: unrecognized stream event %T", ev)
	}
}

// aggregatedToolCalls assembles the completed tool calls for the final
// response in stream order. Argument fragments that never formed valid JSON
// decode to an empty map rather than failing the stream at its final event.
func (s *bedrockStreamState) aggregatedToolCalls() []model.ToolCall {
	var calls []model.ToolCall
	for _, idx := range s.toolOrder {
		tool := s.toolIndex[idx]
		args := map[string]any{}
		if tool.args != "" {
			_ = json.Unmarshal([]byte(tool.args), &args)
		}
		calls = append(calls, model.ToolCall{ID: tool.id, Name: tool.name, Arguments: args})
	}
	return calls
}
