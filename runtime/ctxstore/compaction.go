package ctxstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/wavegraph/orchestrator/runtime/tokenest"
)

// CompactionPolicy configures Compact. CompressionThreshold is the
// fraction of MaxTokens at which compaction triggers; MinSavings is the
// minimum token reduction required for the transform to be kept.
type CompactionPolicy struct {
	CompressionThreshold float64
	MinSavings           int
}

// DefaultCompactionPolicy is the out-of-the-box threshold and savings floor.
var DefaultCompactionPolicy = CompactionPolicy{CompressionThreshold: 0.8, MinSavings: 20000}

// techStackVocabulary is the closed vocabulary of framework and platform
// names topic extraction matches against. It is intentionally small and
// explicit rather than learned: extraction is vocabulary matching, not NLP.
var techStackVocabulary = []string{
	"React", "Vue", "Angular", "Svelte", "Next.js", "Nuxt",
	"TypeScript", "JavaScript", "Tailwind", "CSS", "GraphQL", "REST",
	"Node.js", "Express", "PostgreSQL", "MongoDB", "Redis", "Docker",
	"Kubernetes", "AWS", "iOS", "Android", "Flutter", "Electron",
}

var codeBlockFenceRe = regexp.MustCompile("```")

var technicalDecisionRe = regexp.MustCompile(`(?:决定|决策|选择|使用|采用)[:：]\s*(.+)`)

// Compact checks whether msgs' current token count exceeds
// policy.CompressionThreshold * maxTokens. If so, it builds a summary from
// user-message topics, assistant-message code-block counts, and any
// message's technical-decision lines, and — provided the aggregate savings
// meet policy.MinSavings — prepends a synthetic system message carrying
// that summary and marks every original message Compacted. If the
// threshold is not crossed, or the savings are insufficient, msgs is
// returned unchanged.
func Compact(msgs []Message, maxTokens int, policy CompactionPolicy) []Message {
	originalTokens := tokenest.CountMessages(toTokenestMessages(msgs))
	threshold := int(policy.CompressionThreshold * float64(maxTokens))
	if originalTokens <= threshold {
		return msgs
	}

	summary := buildSummary(msgs)
	summaryTokens := tokenest.Estimate(summary)
	if originalTokens-summaryTokens < policy.MinSavings {
		return msgs
	}

	compacted := make([]Message, 0, len(msgs)+1)
	compacted = append(compacted, Message{Role: RoleSystem, Content: summary, Compacted: true})
	for _, m := range msgs {
		m.Compacted = true
		compacted = append(compacted, m)
	}
	return compacted
}

func buildSummary(msgs []Message) string {
	topics := extractTopics(msgs)
	codeBlockCount := extractCodeBlockCount(msgs)
	decisions := extractTechnicalDecisions(msgs)

	var b strings.Builder
	b.WriteString("[conversation summary]\n")
	if len(topics) > 0 {
		fmt.Fprintf(&b, "topics: %s\n", strings.Join(topics, ", "))
	}
	fmt.Fprintf(&b, "code blocks generated: %d\n", codeBlockCount)
	if len(decisions) > 0 {
		b.WriteString("technical decisions:\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}
	return b.String()
}

func extractTopics(msgs []Message) []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		for _, term := range techStackVocabulary {
			if strings.Contains(m.Content, term) {
				if _, ok := seen[term]; ok {
					continue
				}
				seen[term] = struct{}{}
				topics = append(topics, term)
			}
		}
	}
	return topics
}

func extractCodeBlockCount(msgs []Message) int {
	count := 0
	for _, m := range msgs {
		if m.Role != RoleAssistant {
			continue
		}
		count += len(codeBlockFenceRe.FindAllString(m.Content, -1)) / 2
	}
	return count
}

func extractTechnicalDecisions(msgs []Message) []string {
	var decisions []string
	for _, m := range msgs {
		matches := technicalDecisionRe.FindAllStringSubmatch(m.Content, -1)
		for _, match := range matches {
			decisions = append(decisions, strings.TrimSpace(match[1]))
		}
	}
	return decisions
}
