// Package patchmerge implements the last-writer-wins CRDT reduction over a
// wave's concurrent file-edit intents: grouping by file path, picking a
// deterministic winner, and flagging conflicts for multi-agent collisions.
package patchmerge

import (
	"sort"
	"time"

	"github.com/wavegraph/orchestrator/runtime/plan"
	"github.com/wavegraph/orchestrator/runtime/scheduler"
)

// IntentID identifies a single patch intent.
type IntentID string

// Intent is a proposed file edit emitted by one task's execution, unresolved
// until the merger collapses it with any other intents targeting the same
// file in the same wave.
type Intent struct {
	ID          IntentID
	WaveID      scheduler.WaveID
	TaskID      plan.TaskID
	AgentID     plan.AgentKind
	FilePath    string
	Content     string
	ContentHash string
	CreatedAt   time.Time
}

// Merged is the resolved record for one file path after merging a wave's
// intents: the winning content, every contributing intent in creation
// order, and whether more than one intent targeted the file.
type Merged struct {
	FilePath string
	Content  string
	Sources  []Intent
	Conflict bool
}

// Result is the output of merging one wave's intents.
type Result struct {
	Merged       []Merged
	Conflicts    []Merged
	TouchedFiles []string
}

// Merge groups intents by FilePath, and within each group sorts by
// CreatedAt ascending (ties broken by ID lexicographically); the winner is
// the last element of that order. Merge is a pure function of intents: any
// permutation of its input yields an identical Result. Intents from the
// same task targeting the same file are a local sequence, not a collision —
// Conflict is set only when the group's contributors span two or more
// distinct TaskIDs.
func Merge(intents []Intent) Result {
	groups := make(map[string][]Intent)
	for _, in := range intents {
		groups[in.FilePath] = append(groups[in.FilePath], in)
	}

	var merged []Merged
	var conflicts []Merged
	var touched []string

	for filePath, group := range groups {
		sorted := make([]Intent, len(group))
		copy(sorted, group)
		sort.SliceStable(sorted, func(i, j int) bool {
			if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
				return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
			}
			return sorted[i].ID < sorted[j].ID
		})

		winner := sorted[len(sorted)-1]
		m := Merged{
			FilePath: filePath,
			Content:  winner.Content,
			Sources:  sorted,
			Conflict: distinctTaskCount(sorted) > 1,
		}
		merged = append(merged, m)
		if m.Conflict {
			conflicts = append(conflicts, m)
		}
		touched = append(touched, filePath)
	}

	sort.Strings(touched)
	sort.Slice(merged, func(i, j int) bool { return merged[i].FilePath < merged[j].FilePath })
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].FilePath < conflicts[j].FilePath })

	return Result{Merged: merged, Conflicts: conflicts, TouchedFiles: touched}
}

// distinctTaskCount counts the distinct TaskIDs contributing to a group.
// A file touched repeatedly by the same task is a local revision sequence,
// not a collision between concurrent agents.
func distinctTaskCount(group []Intent) int {
	seen := make(map[plan.TaskID]struct{}, len(group))
	for _, in := range group {
		seen[in.TaskID] = struct{}{}
	}
	return len(seen)
}
