package ctxstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_AppendAndTokenCount(t *testing.T) {
	s := NewStore(1000)
	s.Append(Message{Role: RoleUser, Content: "abcdefgh"}) // 2 tokens
	tokens := 5
	s.Append(Message{Role: RoleAssistant, Content: "ignored", Tokens: &tokens})
	require.Equal(t, 7, s.TokenCount())
}

func TestPrune_SkipsSystemMessages(t *testing.T) {
	msgs := make([]Message, 0, 20)
	msgs = append(msgs, Message{Role: RoleSystem, Content: "system prompt"})
	for i := 0; i < 19; i++ {
		msgs = append(msgs, Message{
			Role:    RoleToolResult,
			Content: "a very long tool output with error: failed to compile file foo.go and bar.ts\n" +
				repeatPad(500),
			Parts: []ToolCallPart{{ToolName: "bash"}},
		})
	}
	out := Prune(msgs, PruningPolicy{ProtectWindow: 10, MinSavings: 1})
	require.Equal(t, "system prompt", out[0].Content)
	require.False(t, out[0].Truncated)
}

func TestPrune_ProtectedToolsNeverTruncated(t *testing.T) {
	msgs := make([]Message, 0, 20)
	for i := 0; i < 20; i++ {
		msgs = append(msgs, Message{
			Role:    RoleToolResult,
			Content: repeatPad(500),
			Parts:   []ToolCallPart{{ToolName: "skill"}},
		})
	}
	out := Prune(msgs, PruningPolicy{ProtectWindow: 10, MinSavings: 1, ProtectedTools: []string{"skill"}})
	for _, m := range out {
		require.False(t, m.Truncated)
	}
}

func TestPrune_DiscardsTransformBelowMinSavings(t *testing.T) {
	msgs := []Message{
		{Role: RoleToolResult, Content: "short error: failed", Parts: []ToolCallPart{{ToolName: "bash"}}},
	}
	out := Prune(msgs, PruningPolicy{ProtectWindow: 0, MinSavings: 1_000_000})
	require.Equal(t, msgs, out)
}

func TestPrune_StructuredTruncationIncludesHashAndFiles(t *testing.T) {
	msgs := make([]Message, 0, 10)
	for i := 0; i < 10; i++ {
		msgs = append(msgs, Message{
			Role: RoleToolResult,
			Content: "command failed\n" + repeatPad(2000) +
				"\nsee src/App.tsx and src/utils.ts for details",
			Parts: []ToolCallPart{{ToolName: "bash"}},
		})
	}
	out := Prune(msgs, PruningPolicy{ProtectWindow: 0, MinSavings: 1})
	require.True(t, out[0].Truncated)
	require.Contains(t, out[0].Content, "hash:")
	require.Contains(t, out[0].Content, "App.tsx")
}

func TestCompact_TriggersOverThreshold(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "Build a React dashboard with Tailwind styling, decision:使用 TypeScript"},
		{Role: RoleAssistant, Content: "```tsx\ncode\n```"},
	}
	tokens := 200000
	msgs[0].Tokens = &tokens
	out := Compact(msgs, 180000, CompactionPolicy{CompressionThreshold: 0.8, MinSavings: 100})
	require.True(t, out[0].Role == RoleSystem)
	require.Contains(t, out[0].Content, "React")
	require.True(t, out[1].Compacted)
}

func TestCompact_NoOpUnderThreshold(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	out := Compact(msgs, 180000, DefaultCompactionPolicy)
	require.Equal(t, msgs, out)
}

func TestSelectSections_PriorityOrderAndBudget(t *testing.T) {
	core := []Section{{ID: "core1", Content: "core content", Tokens: 10}}
	tech := []Section{{ID: "tech1", Content: "tech content", Tokens: 10}}
	platform := []Section{{ID: "plat1", Content: "plat content", Tokens: 10}}
	req := SelectionRequest{MaxTokens: 50, Custom: []Section{{ID: "custom1", Tokens: 10}}}

	out := SelectSections(req, core, tech, platform)
	ids := make([]string, len(out))
	for i, s := range out {
		ids[i] = s.ID
	}
	// budget = 0.4 * 50 = 20 tokens: the two highest-tier sections fit.
	require.Equal(t, []string{"core1", "tech1"}, ids)
}

func TestSelectSections_DeduplicatesByID(t *testing.T) {
	core := []Section{{ID: "dup", Tokens: 5}}
	tech := []Section{{ID: "dup", Tokens: 5}}
	out := SelectSections(SelectionRequest{MaxTokens: 100}, core, tech, nil)
	require.Len(t, out, 1)
}

func TestSelectSections_SkipsOverBudgetSections(t *testing.T) {
	core := []Section{{ID: "big", Tokens: 100}}
	tech := []Section{{ID: "small", Tokens: 5}}
	out := SelectSections(SelectionRequest{MaxTokens: 50}, core, tech, nil) // budget = 20
	ids := make([]string, len(out))
	for i, s := range out {
		ids[i] = s.ID
	}
	require.Equal(t, []string{"small"}, ids)
}

func repeatPad(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = 'x'
	}
	return string(out)
}
