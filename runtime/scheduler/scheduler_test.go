package scheduler

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/wavegraph/orchestrator/runtime/plan"
)

// S1: a, b(a), c(a), d(b,c), all priority 1, all parallel -> waves [[a],[b,c],[d]].
func TestSchedule_DiamondDependency(t *testing.T) {
	tasks := []plan.Task{
		{ID: "a", Mode: plan.ModeParallel, Priority: 1},
		{ID: "b", Mode: plan.ModeParallel, Priority: 1, Dependencies: []plan.TaskID{"a"}},
		{ID: "c", Mode: plan.ModeParallel, Priority: 1, Dependencies: []plan.TaskID{"a"}},
		{ID: "d", Mode: plan.ModeParallel, Priority: 1, Dependencies: []plan.TaskID{"b", "c"}},
	}
	result, err := Schedule(tasks)
	require.NoError(t, err)
	require.Len(t, result.Groups, 3)
	require.Equal(t, []plan.TaskID{"a"}, result.Groups[0].TaskIDs)
	require.ElementsMatch(t, []plan.TaskID{"b", "c"}, result.Groups[1].TaskIDs)
	require.Equal(t, []plan.TaskID{"d"}, result.Groups[2].TaskIDs)
	require.False(t, result.HasCycle)
}

func TestSchedule_SerialWinsOverParallel(t *testing.T) {
	tasks := []plan.Task{
		{ID: "low-serial", Mode: plan.ModeSerial, Priority: 1},
		{ID: "high-parallel", Mode: plan.ModeParallel, Priority: 100},
	}
	result, err := Schedule(tasks)
	require.NoError(t, err)
	require.Equal(t, []plan.TaskID{"low-serial"}, result.Groups[0].TaskIDs)
	require.Equal(t, []plan.TaskID{"high-parallel"}, result.Groups[1].TaskIDs)
}

func TestSchedule_PipelineWinsOverParallelButNotSerial(t *testing.T) {
	tasks := []plan.Task{
		{ID: "s", Mode: plan.ModeSerial, Priority: 1},
		{ID: "p", Mode: plan.ModePipeline, Priority: 1},
		{ID: "q", Mode: plan.ModeParallel, Priority: 1},
	}
	result, err := Schedule(tasks)
	require.NoError(t, err)
	require.Equal(t, []plan.TaskID{"s"}, result.Groups[0].TaskIDs)
	require.Equal(t, []plan.TaskID{"p"}, result.Groups[1].TaskIDs)
	require.Equal(t, []plan.TaskID{"q"}, result.Groups[2].TaskIDs)
}

func TestSchedule_PriorityTieBreak(t *testing.T) {
	tasks := []plan.Task{
		{ID: "z", Mode: plan.ModeSerial, Priority: 5},
		{ID: "a", Mode: plan.ModeSerial, Priority: 5},
	}
	result, err := Schedule(tasks)
	require.NoError(t, err)
	// Same priority: id "a" < "z" wins the tie-break.
	require.Equal(t, []plan.TaskID{"a"}, result.Groups[0].TaskIDs)
}

func TestSchedule_Cycle(t *testing.T) {
	tasks := []plan.Task{
		{ID: "a", Dependencies: []plan.TaskID{"b"}},
		{ID: "b", Dependencies: []plan.TaskID{"a"}},
	}
	_, err := Schedule(tasks)
	require.Error(t, err)
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	require.ElementsMatch(t, []plan.TaskID{"a", "b"}, ce.RemainingTaskIDs)
}

func deps(ids ...plan.TaskID) []plan.TaskID { return ids }

// P2/P3/P4: dependency order, coverage without duplication, and
// within-wave independence hold for any generated DAG.
func TestSchedule_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("wave respects dependency order, full coverage, and independence", prop.ForAll(
		func(n int) bool {
			tasks := make([]plan.Task, n)
			for i := 0; i < n; i++ {
				id := plan.TaskID(idFor(i))
				var d []plan.TaskID
				if i > 0 {
					d = deps(plan.TaskID(idFor(i - 1)))
				}
				tasks[i] = plan.Task{ID: id, Mode: plan.ModeParallel, Priority: i % 3, Dependencies: d}
			}
			result, err := Schedule(tasks)
			if err != nil {
				return false
			}

			waveOf := make(map[plan.TaskID]int, n)
			seen := make(map[plan.TaskID]struct{}, n)
			for _, g := range result.Groups {
				for _, id := range g.TaskIDs {
					if _, dup := seen[id]; dup {
						return false // P3: no duplication
					}
					seen[id] = struct{}{}
					waveOf[id] = g.Wave
				}
			}
			if len(seen) != n {
				return false // P3: full coverage
			}
			byID := make(map[plan.TaskID]plan.Task, n)
			for _, t := range tasks {
				byID[t.ID] = t
			}
			for _, t := range tasks {
				for _, dep := range t.Dependencies {
					if waveOf[t.ID] <= waveOf[dep] {
						return false // P2
					}
				}
			}
			for _, g := range result.Groups {
				for _, a := range g.TaskIDs {
					for _, dep := range byID[a].Dependencies {
						for _, b := range g.TaskIDs {
							if dep == b {
								return false // P4: same-wave mutual dependency
							}
						}
					}
				}
			}
			return true
		},
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}

func idFor(i int) string {
	return "t" + string(rune('0'+i%10)) + string(rune('a'+i%26))
}
