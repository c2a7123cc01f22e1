package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wavegraph/orchestrator/runtime/apperr"
)

// ValidationError reports why a plan was rejected, carrying one of the
// closed rejection codes plus the offending ids for that code.
type ValidationError struct {
	Code string
	// DuplicateIDs is populated for E_DUP_ID.
	DuplicateIDs []TaskID
	// MissingDeps is populated for E_MISSING_DEP, as "taskId->depId" pairs.
	MissingDeps []string
	// CycleTaskIDs is populated for E_CYCLE with the node set Kahn's
	// algorithm could not drain.
	CycleTaskIDs []TaskID
	detail       string
}

func (e *ValidationError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("plan: %s: %s", e.Code, e.detail)
	}
	return fmt.Sprintf("plan: %s", e.Code)
}

const (
	ErrEmptyID    = "E_EMPTY_ID"
	ErrDupID      = "E_DUP_ID"
	ErrMissingDep = "E_MISSING_DEP"
	ErrCycle      = "E_CYCLE"
)

// Validate normalizes and validates tasks: ids are trimmed, must be unique
// and non-empty, every dependency must reference another task in the same
// set, and the dependency relation must be acyclic. It returns the
// normalized task slice (trimmed ids, deduplicated dependency sets) on
// success.
func Validate(tasks []Task) ([]Task, error) {
	normalized := make([]Task, len(tasks))
	seen := make(map[TaskID]int, len(tasks))
	var dup []TaskID
	dupSeen := make(map[TaskID]struct{})

	for i, t := range tasks {
		id := TaskID(strings.TrimSpace(string(t.ID)))
		if id == "" {
			return nil, apperr.New(apperr.Validation, "plan.Validate",
				&ValidationError{Code: ErrEmptyID, detail: fmt.Sprintf("task at index %d has an empty id", i)})
		}
		t.ID = id
		t.Dependencies = normalizeDeps(t.Dependencies)
		normalized[i] = t

		if _, exists := seen[id]; exists {
			if _, already := dupSeen[id]; !already {
				dup = append(dup, id)
				dupSeen[id] = struct{}{}
			}
		}
		seen[id] = i
	}
	if len(dup) > 0 {
		sort.Slice(dup, func(i, j int) bool { return dup[i] < dup[j] })
		return nil, apperr.New(apperr.Validation, "plan.Validate",
			&ValidationError{Code: ErrDupID, DuplicateIDs: dup})
	}

	var missing []string
	for _, t := range normalized {
		for _, dep := range t.Dependencies {
			if _, ok := seen[dep]; !ok {
				missing = append(missing, fmt.Sprintf("%s->%s", t.ID, dep))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apperr.New(apperr.Validation, "plan.Validate",
			&ValidationError{Code: ErrMissingDep, MissingDeps: missing})
	}

	hasCycle, cycleIDs := DetectCycle(normalized)
	if hasCycle {
		return nil, apperr.New(apperr.DependencyCycle, "plan.Validate",
			&ValidationError{Code: ErrCycle, CycleTaskIDs: cycleIDs})
	}

	return normalized, nil
}

// normalizeDeps unifies the (no longer distinguishable, by the time a Task
// reaches this package) dependency field into a deduplicated, order-stable
// set. Callers that decode the two legacy wire field names ("dependencies"
// and "dependsOn") are expected to merge them into Task.Dependencies before
// calling Validate; this helper only trims and dedupes.
func normalizeDeps(deps []TaskID) []TaskID {
	if len(deps) == 0 {
		return nil
	}
	out := make([]TaskID, 0, len(deps))
	seen := make(map[TaskID]struct{}, len(deps))
	for _, d := range deps {
		d = TaskID(strings.TrimSpace(string(d)))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// DetectCycle runs Kahn's algorithm over tasks' dependency edges. It
// returns (false, nil) if the graph is a DAG, or (true, remaining) where
// remaining is the set of task ids that could never reach in-degree zero —
// the nodes participating in (or only reachable through) a cycle,
// including simple self-loops.
func DetectCycle(tasks []Task) (bool, []TaskID) {
	inDegree := make(map[TaskID]int, len(tasks))
	dependents := make(map[TaskID][]TaskID, len(tasks))
	for _, t := range tasks {
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
		for _, dep := range t.Dependencies {
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []TaskID
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	drained := make(map[TaskID]struct{}, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		drained[id] = struct{}{}
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(drained) == len(inDegree) {
		return false, nil
	}

	var remaining []TaskID
	for _, t := range tasks {
		if _, ok := drained[t.ID]; !ok {
			remaining = append(remaining, t.ID)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
	return true, remaining
}
