package ctxstore

import "github.com/wavegraph/orchestrator/runtime/tokenest"

// SectionTier orders sections by selection priority: core sections are
// always considered first, then sections mapped from the caller's tech
// stack, then platform sections, then caller-supplied custom sections.
type SectionTier int

const (
	TierCore SectionTier = iota
	TierTechStack
	TierPlatform
	TierCustom
)

// Section is a candidate prompt-assembly fragment.
type Section struct {
	ID      string
	Tier    SectionTier
	Content string
	Tokens  int
}

// SelectionRequest describes the context section selection should assemble
// for one prompt: the generation mode/platform/tech stack driving which
// mapped sections are eligible, the token budget, and any caller-supplied
// custom sections.
type SelectionRequest struct {
	Mode      string
	Platform  string
	TechStack []string
	MaxTokens int
	Custom    []Section
}

// sectionBudgetFraction is the fraction of MaxTokens section selection may
// spend.
const sectionBudgetFraction = 0.4

// SelectSections picks sections in priority order — core, then tech-stack
// mapped, then platform, then caller-custom — deduplicating by ID, until
// the running total would exceed 0.4 * req.MaxTokens. A section that does
// not fit is skipped (not truncated) so later, smaller sections still get a
// chance to fit.
func SelectSections(req SelectionRequest, core, techStackMapped, platform []Section) []Section {
	budget := int(sectionBudgetFraction * float64(req.MaxTokens))

	ordered := make([]Section, 0, len(core)+len(techStackMapped)+len(platform)+len(req.Custom))
	ordered = append(ordered, core...)
	ordered = append(ordered, techStackMapped...)
	ordered = append(ordered, platform...)
	ordered = append(ordered, req.Custom...)

	seen := make(map[string]struct{}, len(ordered))
	var selected []Section
	spent := 0
	for _, s := range ordered {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}

		tokens := s.Tokens
		if tokens == 0 {
			tokens = tokenest.Estimate(s.Content)
		}
		if spent+tokens > budget {
			continue
		}
		spent += tokens
		selected = append(selected, s)
	}
	return selected
}
