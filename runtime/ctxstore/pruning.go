package ctxstore

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/wavegraph/orchestrator/runtime/tokenest"
)

// PruningPolicy configures Prune. ProtectWindow is the suffix token budget
// (measured from a candidate message to the end of history) under which a
// message is left untouched; MinSavings is the minimum aggregate token
// reduction required for the transform to be kept; ProtectedTools names
// tool-call messages that must never be truncated regardless of position.
type PruningPolicy struct {
	ProtectWindow  int
	MinSavings     int
	ProtectedTools []string
}

// DefaultPruningPolicy is the out-of-the-box protect window, savings floor,
// and protected tool list.
var DefaultPruningPolicy = PruningPolicy{
	ProtectWindow:  40000,
	MinSavings:     20000,
	ProtectedTools: []string{"skill", "lsp"},
}

var (
	errorLineRe = regexp.MustCompile(`(?i)error|failed`)
	filePathRe  = regexp.MustCompile(`[\w-]+\.[\w]+`)
)

// Prune walks msgs oldest-first and, for each tool-call message whose tool
// is not protected and whose suffix does not fit within policy.ProtectWindow
// tokens, replaces its content with a structured truncation summary.
// System messages are always skipped. If the aggregate tokens saved across
// the whole transform fall below policy.MinSavings, Prune discards the
// transformation and returns msgs unchanged.
func Prune(msgs []Message, policy PruningPolicy) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)

	suffixTokens := make([]int, len(out)+1)
	for i := len(out) - 1; i >= 0; i-- {
		suffixTokens[i] = suffixTokens[i+1] + out[i].tokenCount()
	}

	savedTotal := 0
	for i := range out {
		m := out[i]
		if m.Role == RoleSystem {
			continue
		}
		if suffixTokens[i] <= policy.ProtectWindow {
			continue
		}
		if m.Role != RoleToolResult || len(m.Parts) == 0 {
			continue
		}
		if isProtectedTool(m.Parts, policy.ProtectedTools) {
			continue
		}

		original := m.tokenCount()
		summary, estimated := structuredTruncation(m)
		saved := original - estimated
		if saved <= 0 {
			continue
		}
		savedTotal += saved
		out[i].Content = summary
		out[i].Truncated = true
		out[i].Tokens = nil
	}

	if savedTotal < policy.MinSavings {
		return msgs
	}
	return out
}

func isProtectedTool(parts []ToolCallPart, protected []string) bool {
	for _, p := range parts {
		for _, name := range protected {
			if p.ToolName == name {
				return true
			}
		}
	}
	return false
}

// structuredTruncation builds a fixed-header summary in place of a pruned
// message: original/estimated token counts, the tools called, up to three
// error lines, up to five distinct file paths, up to three AST digests,
// and a content hash. It returns the summary text and its estimated token
// count.
func structuredTruncation(m Message) (string, int) {
	originalTokens := m.tokenCount()
	tools := toolNames(m.Parts)
	errorLines := extractErrorLines(m.Content, 3)
	filePaths := extractFilePaths(m.Content, 5)
	digests, degraded := extractASTDigests(m.Content, 3)
	hash := fnvHash(m.Content)

	var b strings.Builder
	fmt.Fprintf(&b, "[truncated tool result: %d tokens -> summary]\n", originalTokens)
	fmt.Fprintf(&b, "tools: %s\n", strings.Join(tools, ", "))
	if len(errorLines) > 0 {
		fmt.Fprintf(&b, "errors:\n")
		for _, l := range errorLines {
			fmt.Fprintf(&b, "  - %s\n", l)
		}
	}
	if len(filePaths) > 0 {
		fmt.Fprintf(&b, "files: %s\n", strings.Join(filePaths, ", "))
	}
	if len(digests) > 0 {
		fmt.Fprintf(&b, "digests:\n")
		for _, d := range digests {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}
	if degraded {
		fmt.Fprintf(&b, "degraded: true\n")
	}
	fmt.Fprintf(&b, "hash: %08x\n", hash)

	summary := b.String()
	return summary, tokenest.Estimate(summary)
}

func toolNames(parts []ToolCallPart) []string {
	names := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if _, ok := seen[p.ToolName]; ok {
			continue
		}
		seen[p.ToolName] = struct{}{}
		names = append(names, p.ToolName)
	}
	return names
}

// extractErrorLines returns up to max lines matching /error|failed/i.
func extractErrorLines(content string, max int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if errorLineRe.MatchString(line) {
			out = append(out, strings.TrimSpace(line))
			if len(out) >= max {
				break
			}
		}
	}
	return out
}

// extractFilePaths returns up to max distinct paths matched by
// [\w-]+\.[\w]+, in first-seen order.
func extractFilePaths(content string, max int) []string {
	matches := filePathRe.FindAllString(content, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
		if len(out) >= max {
			break
		}
	}
	return out
}

// astDigestSignalRe matches the code-block signals an AST digest extracts:
// export statements, function signatures, interface declarations, mock
// shapes, and leading comment lines.
var astDigestSignalRe = regexp.MustCompile(`(?m)^\s*(export\s+.+|func\s+\w+.*\(.*|interface\s+\w+.*|(?:jest\.mock|sinon\.mock|mock\.Mock)\(.*|//.*)$`)

// extractASTDigests scans content's fenced code blocks for up to max digest
// lines (exports, function signatures, interface names, mock shapes,
// leading comments). If no fenced code block is found, it degrades
// gracefully and returns an empty digest set with degraded=true rather than
// failing.
func extractASTDigests(content string, max int) ([]string, bool) {
	blocks := extractCodeBlocks(content)
	if len(blocks) == 0 {
		return nil, true
	}
	var digests []string
	for _, block := range blocks {
		for _, line := range strings.Split(block, "\n") {
			if astDigestSignalRe.MatchString(line) {
				digests = append(digests, strings.TrimSpace(line))
				if len(digests) >= max {
					return digests, false
				}
			}
		}
	}
	return digests, false
}

var codeBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\n(.*?)```")

func extractCodeBlocks(content string) []string {
	matches := codeBlockRe.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// fnvHash computes a 32-bit FNV-1a hash of content for the truncation
// summary's verification field.
func fnvHash(content string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	return h.Sum32()
}
