// Package ctxstore holds the ordered message history for a session and
// implements token accounting, pruning, compaction, and section selection
// for prompt assembly, backed by runtime/cache for section/content lookups
// and runtime/tokenest for token estimation.
package ctxstore

import (
	"sync"

	"github.com/wavegraph/orchestrator/runtime/tokenest"
)

// Role is a context message's conversational role.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolResult Role = "tool_result"
)

// ToolCallPart carries tool-call metadata attached to a message, used by
// the pruning transform to identify which tools were invoked.
type ToolCallPart struct {
	ToolName string
	Args     map[string]any
}

// Message is one entry in a session's context. Content is append-only from
// the store's perspective except for the two documented rewrites: pruning
// rewrites Content to a structured summary, and compaction prepends a
// synthetic system summary message and sets Compacted on every original
// message it keeps.
type Message struct {
	Role      Role
	Content   string
	Tokens    *int
	Parts     []ToolCallPart
	Truncated bool
	Compacted bool
}

// tokenCount returns m's token count, using the precomputed value when present.
func (m Message) tokenCount() int {
	if m.Tokens != nil {
		return *m.Tokens
	}
	return tokenest.Estimate(m.Content)
}

func toTokenestMessages(msgs []Message) []tokenest.Message {
	out := make([]tokenest.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenest.Message{Content: m.Content, Tokens: m.Tokens}
	}
	return out
}

// Store holds the ordered message list for one session.
type Store struct {
	mu        sync.Mutex
	messages  []Message
	maxTokens int
}

// NewStore constructs an empty store. maxTokens is the budget pruning and
// compaction measure against; a non-positive value selects the default of
// 180,000.
func NewStore(maxTokens int) *Store {
	if maxTokens <= 0 {
		maxTokens = 180000
	}
	return &Store{maxTokens: maxTokens}
}

// Append adds a message to the end of the session's history.
func (s *Store) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// Messages returns a copy of the current message list.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Replace atomically swaps the store's message list, used by pruning and
// compaction to install their rewritten history.
func (s *Store) Replace(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = msgs
}

// TokenCount sums the token count of the store's current messages using
// runtime/tokenest, preferring each message's precomputed Tokens.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tokenest.CountMessages(toTokenestMessages(s.messages))
}

// MaxTokens returns the store's configured token budget.
func (s *Store) MaxTokens() int { return s.maxTokens }
