package reflection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavegraph/orchestrator/runtime/plan"
)

func hasIssue(issues []Issue, code IssueCode) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

// S5: one artifact with only <h1>Welcome</h1> under a prototype prompt ->
// shouldIterate=true with issues superset
// {LOW_INTERACTION_COMPLEXITY, MISSING_FORM_FLOW, MISSING_DATA_SURFACE}.
func TestEvaluate_PrototypeWelcomeOnly(t *testing.T) {
	in := Input{
		Plan:           plan.Plan{ReplanPolicy: plan.ReplanPolicy{MaxReplanDepth: 5}},
		TaskResults:    []TaskResult{{TaskID: "t1", Status: "completed"}},
		FilesGenerated: 1,
		PassScore:      90,
		PromptMessage:  "build a prototype",
		TouchedFilePaths: []string{"src/App.tsx"},
		GeneratedArtifacts: map[string]string{
			"src/App.tsx": "<h1>Welcome</h1>",
		},
		ReplanDepth: 0,
	}
	result := Evaluate(in)
	require.True(t, result.ShouldIterate)
	require.True(t, hasIssue(result.Issues, IssueLowInteractionComplexity))
	require.True(t, hasIssue(result.Issues, IssueMissingFormFlow))
	require.True(t, hasIssue(result.Issues, IssueMissingDataSurface))
}

func TestEvaluate_TaskFailedIsFatal(t *testing.T) {
	in := Input{
		TaskResults: []TaskResult{{TaskID: "t1", Status: "failed"}},
		PassScore:   90,
	}
	result := Evaluate(in)
	require.True(t, hasIssue(result.Issues, IssueTaskFailed))
	require.True(t, result.ShouldIterate)
	require.LessOrEqual(t, result.Score, 0)
}

func TestEvaluate_ReplanDepthFloorForcesStop(t *testing.T) {
	in := Input{
		TaskResults: []TaskResult{{TaskID: "t1", Status: "failed"}},
		PassScore:   90,
		Plan:        plan.Plan{ReplanPolicy: plan.ReplanPolicy{MaxReplanDepth: 2}},
		ReplanDepth: 2,
	}
	result := Evaluate(in)
	require.False(t, result.ShouldIterate)
}

func TestEvaluate_ScaffoldOnlyOutput(t *testing.T) {
	in := Input{
		TaskResults:      []TaskResult{{TaskID: "t1", Status: "completed"}},
		FilesGenerated:   3,
		PassScore:        90,
		TouchedFilePaths: []string{"src/main.tsx", "src/App.tsx"},
		GeneratedArtifacts: map[string]string{
			"src/App.tsx": "<table><thead></thead></table><form onSubmit={submit}></form>",
		},
	}
	result := Evaluate(in)
	require.True(t, hasIssue(result.Issues, IssueScaffoldOnlyOutput))
}

func TestEvaluate_HealthyOutputNoIssuesBeyondThreshold(t *testing.T) {
	// Two generated files set the interaction threshold at 1 handler, which
	// the form's onSubmit meets.
	in := Input{
		TaskResults:      []TaskResult{{TaskID: "t1", Status: "completed"}},
		FilesGenerated:   2,
		PassScore:        50,
		TouchedFilePaths: []string{"src/App.tsx", "src/pages/List.tsx"},
		GeneratedArtifacts: map[string]string{
			"src/App.tsx":        `<form onSubmit={submit}><input required /></form>`,
			"src/pages/List.tsx": `<table><thead><tr></tr></thead></table>`,
		},
	}
	result := Evaluate(in)
	require.False(t, hasIssue(result.Issues, IssueMissingFormFlow))
	require.False(t, hasIssue(result.Issues, IssueMissingDataSurface))
	require.False(t, result.ShouldIterate)
	require.Equal(t, 100, result.Score)
}

func TestEvaluate_PlaceholderContentDetected(t *testing.T) {
	in := Input{
		TaskResults:    []TaskResult{{TaskID: "t1", Status: "completed"}},
		FilesGenerated: 12,
		PassScore:      90,
		GeneratedArtifacts: map[string]string{
			"src/App.tsx": "// TODO: implement",
		},
	}
	result := Evaluate(in)
	require.True(t, hasIssue(result.Issues, IssuePlaceholderContent))
}
