// Package tokenest estimates token counts for prompt-assembly and budgeting
// decisions made by runtime/ctxstore. It deliberately stays a small,
// dependency-free leaf package: one concern, two exported functions.
package tokenest

// chineseCharsPerToken and nonChineseCharsPerToken are the coarse
// characters-per-token ratios used to approximate token counts without
// invoking a real tokenizer. CJK text is denser per token than English.
const (
	chineseCharsPerToken    = 1.5
	nonChineseCharsPerToken = 4.0
)

// isCJK reports whether r falls in the CJK Unified Ideographs block
// (U+4E00-U+9FA5), the range the estimator counts as "Chinese" for
// density purposes.
func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FA5
}

// Estimate approximates the number of tokens text would consume. CJK code
// points are counted separately from the rest and weighted more densely; the
// result is rounded up so estimates never under-count against a downstream
// budget. Empty input estimates to zero.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	var chineseChars, nonChinese int
	for _, r := range text {
		if isCJK(r) {
			chineseChars++
		} else {
			nonChinese++
		}
	}
	raw := float64(chineseChars)/chineseCharsPerToken + float64(nonChinese)/nonChineseCharsPerToken
	return ceilNonNegative(raw)
}

// ceilNonNegative rounds a non-negative float up to the nearest integer
// without pulling in math.Ceil's float64-specific edge cases for this
// narrow, always-non-negative use.
func ceilNonNegative(v float64) int {
	n := int(v)
	if float64(n) < v {
		n++
	}
	return n
}

// Message is the minimal shape CountMessages needs: a role-agnostic content
// string plus an optional precomputed token count. runtime/ctxstore.Message
// satisfies this via its own Tokens/Content fields.
type Message struct {
	Content string
	Tokens  *int
}

// CountMessages sums the token count for a slice of messages, using each
// message's precomputed Tokens when present and falling back to Estimate on
// Content otherwise.
func CountMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		if m.Tokens != nil {
			total += *m.Tokens
			continue
		}
		total += Estimate(m.Content)
	}
	return total
}
