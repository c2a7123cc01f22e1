package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/wavegraph/orchestrator/runtime/model"
)

type fakeEventStream struct {
	events chan brtypes.ConverseStreamOutput
	err    error
}

func (f *fakeEventStream) Events() <-chan brtypes.ConverseStreamOutput { return f.events }
func (f *fakeEventStream) Close() error                                { return nil }
func (f *fakeEventStream) Err() error                                  { return f.err }

var _ converseEventStream = (*fakeEventStream)(nil)

// ConverseStreamOutput.GetStream returns a concrete SDK reader type this
// package cannot fake directly, so the success path is exercised through
// bedrockStreamState.translate and eventStreamer (against the
// converseEventStream seam) below, and the adapter-level rejection path is
// covered here.
func TestStream_RejectsNonStreamingRuntime(t *testing.T) {
	a, err := New(&fakeRuntime{}, "anthropic.claude-sonnet-4-5")
	require.NoError(t, err)
	_, err = a.Stream(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
}

func TestBedrockStreamState_TranslatesTextAndDone(t *testing.T) {
	s := &bedrockStreamState{toolIndex: map[int32]*pendingTool{}}

	c, ok, err := s.translate(&brtypes.ConverseStreamOutputMemberContentBlockDelta{
		Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &brtypes.ContentBlockDeltaMemberText{Value: "hi"},
		},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.ChunkTextDelta, c.Type)
	require.Equal(t, "hi", c.Text)

	c, ok, err = s.translate(&brtypes.ConverseStreamOutputMemberMessageStop{
		Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonEndTurn},
	})
	require.NoError(t, err)
	require.False(t, ok)

	c, ok, err = s.translate(&brtypes.ConverseStreamOutputMemberMetadata{
		Value: brtypes.ConverseStreamMetadataEvent{
			Usage: &brtypes.TokenUsage{InputTokens: aws.Int32(7), OutputTokens: aws.Int32(3)},
		},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.ChunkDone, c.Type)
	require.Equal(t, "hi", c.Response.Text)
	require.Equal(t, model.FinishStop, c.Response.FinishReason)
	require.Equal(t, 7, c.Response.Usage.InputTokens)
	require.Equal(t, 3, c.Response.Usage.OutputTokens)
}

func TestBedrockStreamState_TranslatesToolCallLifecycle(t *testing.T) {
	s := &bedrockStreamState{toolIndex: map[int32]*pendingTool{}}

	c, ok, err := s.translate(&brtypes.ConverseStreamOutputMemberContentBlockStart{
		Value: brtypes.ContentBlockStartEvent{
			ContentBlockIndex: aws.Int32(0),
			Start: &brtypes.ContentBlockStartMemberToolUse{Value: brtypes.ToolUseBlockStart{
				ToolUseId: aws.String("tu_1"),
				Name:      aws.String("search"),
			}},
		},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.ChunkToolCallStart, c.Type)
	require.Equal(t, "tu_1", c.ToolCallID)

	c, ok, err = s.translate(&brtypes.ConverseStreamOutputMemberContentBlockDelta{
		Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &brtypes.ContentBlockDeltaMemberToolUse{Value: brtypes.ToolUseBlockDelta{Input: aws.String(`{"q":`)}},
		},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.ChunkToolCallDelta, c.Type)
	require.Equal(t, `{"q":`, c.ToolCallArgsDelta)

	c, ok, err = s.translate(&brtypes.ConverseStreamOutputMemberContentBlockStop{
		Value: brtypes.ContentBlockStopEvent{ContentBlockIndex: aws.Int32(0)},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.ChunkToolCallEnd, c.Type)
	require.Equal(t, "tu_1", c.ToolCallID)
}

func TestEventStreamer_DrainsThenEOF(t *testing.T) {
	events := make(chan brtypes.ConverseStreamOutput, 1)
	events <- &brtypes.ConverseStreamOutputMemberContentBlockDelta{
		Value: brtypes.ContentBlockDeltaEvent{Delta: &brtypes.ContentBlockDeltaMemberText{Value: "hi"}},
	}
	close(events)
	es := newEventStreamer(context.Background(), &fakeEventStream{events: events})

	c, ok, err := es.Recv()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hi", c.Text)

	_, ok, err = es.Recv()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, es.Close())
}
