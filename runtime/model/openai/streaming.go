package openai

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

const defaultBaseURL = "https://api.openai.com"

// EnableStreaming equips the adapter with the raw-HTTP streaming transport
// NewFromAPIKey wires automatically; adapters built via New (the fake
// ChatClient constructor used by unit tests) stay non-streaming unless the
// caller opts in explicitly.
func (a *Adapter) EnableStreaming(apiKey string, httpClient HTTPDoer) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	a.apiKey = apiKey
	a.httpClient = httpClient
	a.baseURL = defaultBaseURL
	return a
}

func (a *Adapter) streamImpl(ctx context.Context, req model.Request) (model.Streamer, error) {
	if a.httpClient == nil {
		return nil, fmt.Errorf("openai: this adapter instance was not configured for streaming; use NewFromAPIKey")
	}
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal stream request: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("openai: re-decode stream request: %w", err)
	}
	raw["stream"] = true
	raw["stream_options"] = map[string]any{"include_usage": true}
	body, err = json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("openai: re-marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, translateError(err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, model.NewProviderError("openai", resp.StatusCode, fmt.Errorf("%s", errBody))
	}

	state := &streamState{toolIndex: make(map[int64]*pendingToolCall)}
	return model.ClassifyStreamErrors("openai", sse.NewReaderStreamer(ctx, resp.Body, state.decode)), nil
}

// pendingToolCall tracks one tool call's accumulated fragments across
// OpenAI's by-index streamed deltas; id/name arrive once on the first
// fragment, arguments arrive incrementally on every subsequent one.
type pendingToolCall struct {
	id      string
	name    string
	args    string
	started bool
}

type streamState struct {
	text        string
	finish      string
	inputUsage  int64
	outputUsage int64
	toolIndex   map[int64]*pendingToolCall
	toolOrder   []int64
}

type chatCompletionChunk struct {
	Choices []chunkChoice `json:"choices"`
	Usage   *chunkUsage   `json:"usage"`
}

type chunkChoice struct {
	Delta        chunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type chunkDelta struct {
	Content   string          `json:"content"`
	ToolCalls []chunkToolCall `json:"tool_calls"`
}

type chunkToolCall struct {
	Index    int64             `json:"index"`
	ID       string            `json:"id"`
	Function chunkToolFunction `json:"function"`
}

type chunkToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chunkUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// decode translates one dispatched OpenAI chat-completion-chunk event into
// at most one model.Chunk. OpenAI's SSE frames carry no "event:" line, so
// every dispatched RawEvent is a JSON chunk (or the [DONE] sentinel, which
// sse.Parse already strips before this is called).
func (s *streamState) decode(raw sse.RawEvent) (model.Chunk, bool, error) {
	var chunk chatCompletionChunk
	if err := json.Unmarshal([]byte(raw.Data), &chunk); err != nil {
		return model.Chunk{}, false, err
	}
	if chunk.Usage != nil {
		s.inputUsage = chunk.Usage.PromptTokens
		s.outputUsage = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		if chunk.Usage == nil {
			return model.Chunk{}, false, nil
		}
		// The final chunk when stream_options.include_usage is set: no
		// choices, usage only. This is the dispatch boundary for Done.
		resp := model.Response{
			Text:         s.text,
			ToolCalls:    s.aggregatedToolCalls(),
			FinishReason: translateFinishReason(s.finish),
			Usage: model.Usage{
				InputTokens:  int(s.inputUsage),
				OutputTokens: int(s.outputUsage),
				TotalTokens:  int(s.inputUsage + s.outputUsage),
			},
		}
		return model.Chunk{Type: model.ChunkDone, Response: &resp}, true, nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		s.finish = choice.FinishReason
	}

	if choice.Delta.Content != "" {
		s.text += choice.Delta.Content
		return model.Chunk{Type: model.ChunkTextDelta, Text: choice.Delta.Content}, true, nil
	}
	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		pending, ok := s.toolIndex[tc.Index]
		if !ok {
			pending = &pendingToolCall{id: tc.ID}
			s.toolIndex[tc.Index] = pending
			s.toolOrder = append(s.toolOrder, tc.Index)
		}
		if !pending.started {
			pending.started = true
			pending.name = tc.Function.Name
			pending.args += tc.Function.Arguments
			return model.Chunk{
				Type:         model.ChunkToolCallStart,
				ToolCallID:   pending.id,
				ToolCallName: tc.Function.Name,
			}, true, nil
		}
		pending.args += tc.Function.Arguments
		return model.Chunk{
			Type:              model.ChunkToolCallDelta,
			ToolCallID:        pending.id,
			ToolCallArgsDelta: tc.Function.Arguments,
		}, true, nil
	}
	return model.Chunk{}, false, nil
}

// aggregatedToolCalls assembles the completed tool calls for the final
// response in stream order. Argument fragments that never formed valid JSON
// decode to an empty map rather than failing the stream at its final event.
func (s *streamState) aggregatedToolCalls() []model.ToolCall {
	var calls []model.ToolCall
	for _, idx := range s.toolOrder {
		pending := s.toolIndex[idx]
		args := map[string]any{}
		if pending.args != "" {
			_ = json.Unmarshal([]byte(pending.args), &args)
		}
		calls = append(calls, model.ToolCall{ID: pending.id, Name: pending.name, Arguments: args})
	}
	return calls
}
