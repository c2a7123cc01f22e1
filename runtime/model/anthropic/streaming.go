package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wavegraph/orchestrator/runtime/model"
	"github.com/wavegraph/orchestrator/runtime/model/sse"
)

// HTTPDoer is the subset of *http.Client the streaming path drives,
// satisfied by http.DefaultClient in production and by a fake in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultBaseURL = "https://api.anthropic.com"

// EnableStreaming equips the adapter with the raw-HTTP streaming transport
// NewFromAPIKey wires automatically; adapters built via New (the fake
// MessagesClient constructor used by unit tests) stay non-streaming unless
// the caller opts in explicitly.
func (a *Adapter) EnableStreaming(apiKey string, httpClient HTTPDoer) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	a.apiKey = apiKey
	a.httpClient = httpClient
	a.baseURL = defaultBaseURL
	return a
}

// streamImpl issues a streaming Messages request over raw SSE, decoding the
// provider's native event shape into the unified model.Chunk vocabulary.
// It requires the adapter to have been built
// via NewFromAPIKey (or EnableStreaming); an adapter constructed from a bare
// MessagesClient fake has no HTTP transport to stream over.
func (a *Adapter) streamImpl(ctx context.Context, req model.Request) (model.Streamer, error) {
	if a.httpClient == nil {
		return nil, fmt.Errorf("anthropic: this adapter instance was not configured for streaming; use NewFromAPIKey")
	}
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal stream request: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("anthropic: re-decode stream request: %w", err)
	}
	raw["stream"] = true
	body, err = json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("anthropic: re-marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, translateError(err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, model.NewProviderError("anthropic", resp.StatusCode, fmt.Errorf("%s", errBody))
	}

	state := &streamState{}
	return model.ClassifyStreamErrors("anthropic", sse.NewReaderStreamer(ctx, resp.Body, state.decode)), nil
}

// streamState accumulates the running text/tool-call/usage state across an
// Anthropic streaming response's dispatched SSE events.
type streamState struct {
	blockKinds   map[int64]string // index -> "text" | "tool_use"
	toolIDs      map[int64]string
	toolNames    map[int64]string
	toolArgs     map[int64]string
	toolOrder    []int64
	text         string
	stopReason   string
	inputTokens  int64
	outputTokens int64
}

type streamEvent struct {
	Type         string              `json:"type"`
	Index        int64               `json:"index"`
	ContentBlock *streamContentBlock `json:"content_block"`
	Delta        *streamDelta        `json:"delta"`
	Message      *streamMessage      `json:"message"`
	Usage        *streamUsage        `json:"usage"`
}

type streamContentBlock struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

type streamMessage struct {
	Usage *streamUsage `json:"usage"`
}

type streamUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// decode translates one dispatched Anthropic SSE event into zero-or-one
// model.Chunk, per the event types documented for the Messages streaming
// API: message_start, content_block_start, content_block_delta,
// content_block_stop, message_delta, message_stop, and ping (ignored).
func (s *streamState) decode(raw sse.RawEvent) (model.Chunk, bool, error) {
	if s.blockKinds == nil {
		s.blockKinds = make(map[int64]string)
		s.toolIDs = make(map[int64]string)
		s.toolNames = make(map[int64]string)
		s.toolArgs = make(map[int64]string)
	}

	switch raw.Event {
	case "ping":
		return model.Chunk{}, false, nil
	case "message_start":
		var ev streamEvent
		if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
			return model.Chunk{}, false, err
		}
		if ev.Message != nil && ev.Message.Usage != nil {
			s.inputTokens = ev.Message.Usage.InputTokens
		}
		return model.Chunk{}, false, nil
	case "content_block_start":
		var ev streamEvent
		if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
			return model.Chunk{}, false, err
		}
		if ev.ContentBlock == nil {
			return model.Chunk{}, false, nil
		}
		s.blockKinds[ev.Index] = ev.ContentBlock.Type
		if ev.ContentBlock.Type == "tool_use" {
			s.toolIDs[ev.Index] = ev.ContentBlock.ID
			s.toolNames[ev.Index] = ev.ContentBlock.Name
			s.toolOrder = append(s.toolOrder, ev.Index)
			return model.Chunk{
				Type:         model.ChunkToolCallStart,
				ToolCallID:   ev.ContentBlock.ID,
				ToolCallName: ev.ContentBlock.Name,
			}, true, nil
		}
		return model.Chunk{}, false, nil
	case "content_block_delta":
		var ev streamEvent
		if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
			return model.Chunk{}, false, err
		}
		if ev.Delta == nil {
			return model.Chunk{}, false, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			s.text += ev.Delta.Text
			return model.Chunk{Type: model.ChunkTextDelta, Text: ev.Delta.Text}, true, nil
		case "input_json_delta":
			s.toolArgs[ev.Index] += ev.Delta.PartialJSON
			return model.Chunk{
				Type:              model.ChunkToolCallDelta,
				ToolCallID:        s.toolIDs[ev.Index],
				ToolCallName:      s.toolNames[ev.Index],
				ToolCallArgsDelta: ev.Delta.PartialJSON,
			}, true, nil
		}
		return model.Chunk{}, false, nil
	case "content_block_stop":
		var ev streamEvent
		if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
			return model.Chunk{}, false, err
		}
		if s.blockKinds[ev.Index] == "tool_use" {
			return model.Chunk{Type: model.ChunkToolCallEnd, ToolCallID: s.toolIDs[ev.Index]}, true, nil
		}
		return model.Chunk{}, false, nil
	case "message_delta":
		var ev streamEvent
		if err := json.Unmarshal([]byte(raw.Data), &ev); err != nil {
			return model.Chunk{}, false, err
		}
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			s.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			s.outputTokens = ev.Usage.OutputTokens
		}
		return model.Chunk{}, false, nil
	case "message_stop":
		resp := model.Response{
			Text:         s.text,
			ToolCalls:    s.aggregatedToolCalls(),
			FinishReason: translateStopReason(s.stopReason),
			Usage: model.Usage{
				InputTokens:  int(s.inputTokens),
				OutputTokens: int(s.outputTokens),
				TotalTokens:  int(s.inputTokens + s.outputTokens),
			},
		}
		return model.Chunk{Type: model.ChunkDone, Response: &resp}, true, nil
	default:
		return model.Chunk{}, false, nil
	}
}

// aggregatedToolCalls assembles the completed tool calls for the final
// response in stream order, decoding each call's accumulated argument
// fragments. Arguments that never formed valid JSON decode to an empty map
// rather than failing the whole stream at its final event.
func (s *streamState) aggregatedToolCalls() []model.ToolCall {
	var calls []model.ToolCall
	for _, idx := range s.toolOrder {
		args := map[string]any{}
		if raw := s.toolArgs[idx]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		calls = append(calls, model.ToolCall{ID: s.toolIDs[idx], Name: s.toolNames[idx], Arguments: args})
	}
	return calls
}
