package openai

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/wavegraph/orchestrator/runtime/model"
)

type fakeChat struct {
	gotParams openai.ChatCompletionNewParams
	resp      *openai.ChatCompletion
	err       error
}

func (f *fakeChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.gotParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestComplete_TranslatesTextResponse(t *testing.T) {
	fake := &fakeChat{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: "hello there"},
			FinishReason: "stop",
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	a, err := New(fake, "gpt-4.1")
	require.NoError(t, err)

	resp, err := a.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Text)
	require.Equal(t, model.FinishStop, resp.FinishReason)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestComplete_RejectsEmptyMessages(t *testing.T) {
	a, err := New(&fakeChat{}, "gpt-4.1")
	require.NoError(t, err)
	_, err = a.Complete(context.Background(), model.Request{})
	require.Error(t, err)
}

func TestComplete_RejectsEmptyChoices(t *testing.T) {
	a, err := New(&fakeChat{resp: &openai.ChatCompletion{}}, "gpt-4.1")
	require.NoError(t, err)
	_, err = a.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
}

func TestProvider_ReturnsOpenAI(t *testing.T) {
	a, err := New(&fakeChat{}, "gpt-4.1")
	require.NoError(t, err)
	require.Equal(t, "openai", a.Provider())
}
