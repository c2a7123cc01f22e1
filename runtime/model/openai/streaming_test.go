package openai

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavegraph/orchestrator/runtime/model"
)

type fakeDoer struct {
	resp *http.Response
	err  error
	req  *http.Request
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func sseBody(s string) *http.Response {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewBufferString(s))}
}

func TestStream_RejectsAdapterWithoutTransport(t *testing.T) {
	a, err := New(&fakeChat{}, "gpt-4.1")
	require.NoError(t, err)
	_, err = a.Stream(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
}

func TestStream_TranslatesTextDeltaAndDone(t *testing.T) {
	stream := "" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":2}}\n\n" +
		"data: [DONE]\n\n"

	fake := &fakeDoer{resp: sseBody(stream)}
	a, err := New(&fakeChat{}, "gpt-4.1")
	require.NoError(t, err)
	a.EnableStreaming("test-key", fake)

	streamer, err := a.Stream(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)

	var chunks []model.Chunk
	for {
		c, ok, err := streamer.Recv()
		require.NoError(t, err)
		if !ok {
			break
		}
		chunks = append(chunks, c)
	}
	require.NoError(t, streamer.Close())

	require.Len(t, chunks, 2)
	require.Equal(t, model.ChunkTextDelta, chunks[0].Type)
	require.Equal(t, "hi", chunks[0].Text)
	require.Equal(t, model.ChunkDone, chunks[1].Type)
	require.Equal(t, "hi", chunks[1].Response.Text)
	require.Equal(t, model.FinishStop, chunks[1].Response.FinishReason)
	require.Equal(t, 10, chunks[1].Response.Usage.InputTokens)
	require.Equal(t, 2, chunks[1].Response.Usage.OutputTokens)

	require.Equal(t, "https://api.openai.com/v1/chat/completions", fake.req.URL.String())
	require.Equal(t, "Bearer test-key", fake.req.Header.Get("authorization"))
}

func TestStream_ToolCallEvents(t *testing.T) {
	stream := "" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"search\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"q\\\":1}\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":1}}\n\n" +
		"data: [DONE]\n\n"

	fake := &fakeDoer{resp: sseBody(stream)}
	a, err := New(&fakeChat{}, "gpt-4.1")
	require.NoError(t, err)
	a.EnableStreaming("test-key", fake)

	streamer, err := a.Stream(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)

	var chunks []model.Chunk
	for {
		c, ok, err := streamer.Recv()
		require.NoError(t, err)
		if !ok {
			break
		}
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 3)
	require.Equal(t, model.ChunkToolCallStart, chunks[0].Type)
	require.Equal(t, "call_1", chunks[0].ToolCallID)
	require.Equal(t, "search", chunks[0].ToolCallName)
	require.Equal(t, model.ChunkToolCallDelta, chunks[1].Type)
	require.Equal(t, "call_1", chunks[1].ToolCallID)
	require.Equal(t, `{"q":1}`, chunks[1].ToolCallArgsDelta)
	require.Equal(t, model.ChunkDone, chunks[2].Type)
	require.Equal(t, model.FinishToolUse, chunks[2].Response.FinishReason)
}

func TestStream_NonOKStatusReturnsProviderError(t *testing.T) {
	resp := &http.Response{StatusCode: 500, Body: io.NopCloser(bytes.NewBufferString("server error"))}
	fake := &fakeDoer{resp: resp}
	a, err := New(&fakeChat{}, "gpt-4.1")
	require.NoError(t, err)
	a.EnableStreaming("test-key", fake)

	_, err = a.Stream(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
	var perr *model.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 500, perr.StatusCode())
	require.True(t, perr.Retryable())
}
