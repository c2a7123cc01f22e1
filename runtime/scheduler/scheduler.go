// Package scheduler linearizes a validated plan's task DAG into ordered
// waves (scheduled groups) that respect dependency order, priority
// tie-breaking, and the per-task execution mode's batching precedence.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/wavegraph/orchestrator/runtime/apperr"
	"github.com/wavegraph/orchestrator/runtime/plan"
)

// WaveID identifies a scheduled group.
type WaveID string

// Group is a maximal set of tasks schedulable together under the mode
// precedence rule: exactly one serial task, exactly one pipeline task, or
// one-or-more mutually-independent parallel tasks.
type Group struct {
	ID      WaveID
	Mode    plan.Mode
	TaskIDs []plan.TaskID
	Wave    int
}

// Result is the scheduler's output: the ordered groups, a flattened trace
// of task ids in emission order, and a cycle flag that is always false on
// success (cycles are returned as errors, never flagged in a successful
// Result).
type Result struct {
	Groups         []Group
	OrderedTaskIDs []plan.TaskID
	HasCycle       bool
}

// CycleError is raised when Schedule finds tasks that never reach
// in-degree zero. Schedule is always called with an already-Validate'd
// plan, so this path indicates a plan mutated after validation rather than
// a normal input-rejection case.
type CycleError struct {
	RemainingTaskIDs []plan.TaskID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("scheduler: cycle detected among remaining tasks: %v", e.RemainingTaskIDs)
}

// Schedule computes the wave sequence for tasks. tasks is expected to have
// already passed plan.Validate; Schedule re-derives in-degree from the
// dependency edges rather than trusting a precomputed value, so it is safe
// to call directly on plan.Plan.Tasks.
func Schedule(tasks []plan.Task) (Result, error) {
	byID := make(map[plan.TaskID]plan.Task, len(tasks))
	inDegree := make(map[plan.TaskID]int, len(tasks))
	dependents := make(map[plan.TaskID][]plan.TaskID, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
		for _, dep := range t.Dependencies {
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	pending := make(map[plan.TaskID]struct{}, len(tasks))
	for _, t := range tasks {
		pending[t.ID] = struct{}{}
	}

	var groups []Group
	var ordered []plan.TaskID
	wave := 0

	for len(pending) > 0 {
		ready := readyTasks(pending, inDegree, byID)
		if len(ready) == 0 {
			remaining := make([]plan.TaskID, 0, len(pending))
			for id := range pending {
				remaining = append(remaining, id)
			}
			sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
			return Result{}, apperr.New(apperr.DependencyCycle, "scheduler.Schedule", &CycleError{RemainingTaskIDs: remaining})
		}

		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority > ready[j].Priority
			}
			return ready[i].ID < ready[j].ID
		})

		batch := selectBatch(ready)
		wave++
		group := Group{
			ID:      WaveID(fmt.Sprintf("group-%d", wave)),
			Mode:    batch[0].Mode,
			TaskIDs: make([]plan.TaskID, 0, len(batch)),
			Wave:    wave,
		}
		for _, t := range batch {
			group.TaskIDs = append(group.TaskIDs, t.ID)
			ordered = append(ordered, t.ID)
			delete(pending, t.ID)
			for _, dependent := range dependents[t.ID] {
				if inDegree[dependent] > 0 {
					inDegree[dependent]--
				}
			}
		}
		groups = append(groups, group)
	}

	return Result{Groups: groups, OrderedTaskIDs: ordered, HasCycle: false}, nil
}

// readyTasks returns the still-pending tasks whose current in-degree is
// zero, i.e. every dependency has already been emitted in a prior wave.
func readyTasks(pending map[plan.TaskID]struct{}, inDegree map[plan.TaskID]int, byID map[plan.TaskID]plan.Task) []plan.Task {
	var ready []plan.Task
	for id := range pending {
		if inDegree[id] == 0 {
			ready = append(ready, byID[id])
		}
	}
	return ready
}

// selectBatch applies the mode-precedence rule to an already
// priority/id-sorted ready set: a single serial task wins over everything;
// absent that, a single pipeline task wins; absent that, every ready
// parallel task is emitted together.
func selectBatch(ready []plan.Task) []plan.Task {
	for _, t := range ready {
		if t.Mode == plan.ModeSerial {
			return []plan.Task{t}
		}
	}
	for _, t := range ready {
		if t.Mode == plan.ModePipeline {
			return []plan.Task{t}
		}
	}
	var parallel []plan.Task
	for _, t := range ready {
		if t.Mode == plan.ModeParallel {
			parallel = append(parallel, t)
		}
	}
	if len(parallel) > 0 {
		return parallel
	}
	// No recognized mode among ready tasks (e.g. zero-value Mode): treat
	// the highest-priority task as its own serial batch rather than
	// silently dropping it.
	return []plan.Task{ready[0]}
}
