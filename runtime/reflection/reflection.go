// Package reflection implements the rule-based quality gate that decides,
// after a wave of generation completes, whether the aggregate output
// crosses a quality bar and whether the plan should iterate.
//
// Evaluate is a pure function over its Input: it examines prior results and
// returns a small structured decision, holding no state of its own.
package reflection

import (
	"regexp"
	"strings"

	"github.com/wavegraph/orchestrator/runtime/plan"
)

// IssueCode is the closed vocabulary of quality issues Evaluate can report.
type IssueCode string

const (
	IssueLowInteractionComplexity IssueCode = "LOW_INTERACTION_COMPLEXITY"
	IssueMissingFormFlow          IssueCode = "MISSING_FORM_FLOW"
	IssueMissingDataSurface       IssueCode = "MISSING_DATA_SURFACE"
	IssuePlaceholderContent       IssueCode = "PLACEHOLDER_CONTENT_DETECTED"
	IssueStandaloneHTMLArtifact   IssueCode = "STANDALONE_HTML_ARTIFACT"
	IssueScaffoldOnlyOutput       IssueCode = "SCAFFOLD_ONLY_OUTPUT"
	IssueTaskFailed               IssueCode = "TASK_FAILED"
)

// Severity classifies how much an issue should weigh against the score.
type Severity string

const (
	SeverityFatal  Severity = "fatal"
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Issue is one reported quality problem.
type Issue struct {
	Code     IssueCode
	Severity Severity
	Detail   string
}

// Penalties is the per-severity score deduction table, exposed as
// configuration so callers with better-calibrated weights can override the
// conservative defaults.
type Penalties struct {
	Fatal  int
	High   int
	Medium int
	Low    int
}

// DefaultPenalties: score starts at 100 and subtracts a fixed penalty per
// issue by severity.
var DefaultPenalties = Penalties{Fatal: 100, High: 25, Medium: 15, Low: 8}

// TaskResult is the minimal per-task outcome Evaluate needs to check for
// TASK_FAILED.
type TaskResult struct {
	TaskID plan.TaskID
	Status string // "completed", "failed", "cancelled", "timed_out"
}

// Input bundles everything Evaluate needs to score one wave's aggregate
// output.
type Input struct {
	Plan               plan.Plan
	TaskResults        []TaskResult
	FilesGenerated     int
	PassScore          int
	PromptMessage      string
	TouchedFilePaths   []string
	GeneratedArtifacts map[string]string // file path -> content
	ReplanDepth        int
	Penalties          Penalties
}

// Result is the reflection outcome.
type Result struct {
	ShouldIterate bool
	Score         int
	Issues        []Issue
}

var (
	prototypePromptRe = regexp.MustCompile(`(?i)原型|prototype`)
	onSubmitRe        = regexp.MustCompile(`onSubmit|required\s*[:=]`)
	dataTableRe       = regexp.MustCompile(`(?is)<table[^>]*>.*?<thead`)
	interactiveRe     = regexp.MustCompile(`onClick|onSubmit|onChange`)
)

// placeholderPhrases is the configured set of phrases that mark
// unfinished/placeholder output.
var placeholderPhrases = []string{"占位", "TODO", "Lorem ipsum", "可扩展增删改查"}

// scaffoldOnlyPrefixes is the closed set of paths SCAFFOLD_ONLY_OUTPUT treats
// as "nothing but the bare scaffold was touched".
var scaffoldOnlyPrefixes = []string{"src/main.", "src/App.", "src/index.css"}

// Evaluate applies every rule to in and accumulates issues. It never
// short-circuits on a single rule: even after a fatal TASK_FAILED issue,
// every other rule still runs so Issues reflects the complete picture.
func Evaluate(in Input) Result {
	penalties := in.Penalties
	if penalties == (Penalties{}) {
		penalties = DefaultPenalties
	}

	var issues []Issue

	if issue, ok := ruleTaskFailed(in); ok {
		issues = append(issues, issue)
	}
	if issue, ok := ruleStandaloneHTMLArtifact(in); ok {
		issues = append(issues, issue)
	}
	if issue, ok := ruleScaffoldOnlyOutput(in); ok {
		issues = append(issues, issue)
	}
	if issue, ok := ruleMissingFormFlow(in); ok {
		issues = append(issues, issue)
	}
	if issue, ok := ruleMissingDataSurface(in); ok {
		issues = append(issues, issue)
	}
	if issue, ok := ruleLowInteractionComplexity(in); ok {
		issues = append(issues, issue)
	}
	if issue, ok := rulePlaceholderContent(in); ok {
		issues = append(issues, issue)
	}

	score := 100
	for _, issue := range issues {
		score -= penaltyFor(penalties, issue.Severity)
	}
	if score < 0 {
		score = 0
	}

	shouldIterate := score < in.PassScore
	if in.Plan.ReplanPolicy.MaxReplanDepth > 0 && in.ReplanDepth >= in.Plan.ReplanPolicy.MaxReplanDepth {
		shouldIterate = false
	}

	return Result{ShouldIterate: shouldIterate, Score: score, Issues: issues}
}

func penaltyFor(p Penalties, sev Severity) int {
	switch sev {
	case SeverityFatal:
		return p.Fatal
	case SeverityHigh:
		return p.High
	case SeverityMedium:
		return p.Medium
	default:
		return p.Low
	}
}

// Rule 1: any non-completed task status is a fatal issue.
func ruleTaskFailed(in Input) (Issue, bool) {
	for _, tr := range in.TaskResults {
		if tr.Status != "completed" {
			return Issue{Code: IssueTaskFailed, Severity: SeverityFatal, Detail: string(tr.TaskID) + ": " + tr.Status}, true
		}
	}
	return Issue{}, false
}

// Rule 2: exactly one artifact whose path ends in .html, under a prompt
// that reads as a prototype request.
func ruleStandaloneHTMLArtifact(in Input) (Issue, bool) {
	if !prototypePromptRe.MatchString(in.PromptMessage) {
		return Issue{}, false
	}
	htmlCount := 0
	var htmlPath string
	for _, p := range in.TouchedFilePaths {
		if strings.HasSuffix(p, ".html") {
			htmlCount++
			htmlPath = p
		}
	}
	if htmlCount == 1 {
		return Issue{Code: IssueStandaloneHTMLArtifact, Severity: SeverityMedium, Detail: htmlPath}, true
	}
	return Issue{}, false
}

// Rule 3: fewer than 10 files generated, and every touched file is one of
// the bare-scaffold paths.
func ruleScaffoldOnlyOutput(in Input) (Issue, bool) {
	if in.FilesGenerated >= 10 {
		return Issue{}, false
	}
	for _, p := range in.TouchedFilePaths {
		if !isScaffoldPath(p) {
			return Issue{}, false
		}
	}
	if len(in.TouchedFilePaths) == 0 {
		return Issue{}, false
	}
	return Issue{Code: IssueScaffoldOnlyOutput, Severity: SeverityHigh, Detail: "only scaffold files touched"}, true
}

func isScaffoldPath(p string) bool {
	for _, prefix := range scaffoldOnlyPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Rule 4: no generated artifact contains both a <form and a submit/required
// signal.
func ruleMissingFormFlow(in Input) (Issue, bool) {
	for _, content := range in.GeneratedArtifacts {
		if strings.Contains(content, "<form") && onSubmitRe.MatchString(content) {
			return Issue{}, false
		}
	}
	return Issue{Code: IssueMissingFormFlow, Severity: SeverityMedium, Detail: "no form with a submit/required signal found"}, true
}

// Rule 5: no artifact contains a <table> with a <thead>, nor any
// comparable data-grid marker.
func ruleMissingDataSurface(in Input) (Issue, bool) {
	for _, content := range in.GeneratedArtifacts {
		if dataTableRe.MatchString(content) || strings.Contains(content, "data-grid") {
			return Issue{}, false
		}
	}
	return Issue{Code: IssueMissingDataSurface, Severity: SeverityMedium, Detail: "no table+thead or data grid marker found"}, true
}

// Rule 6: aggregate interactive-handler count across artifacts below a
// threshold scaled by FilesGenerated: one handler per two generated files,
// floored at 1.
func ruleLowInteractionComplexity(in Input) (Issue, bool) {
	total := 0
	for _, content := range in.GeneratedArtifacts {
		total += len(interactiveRe.FindAllString(content, -1))
	}
	threshold := in.FilesGenerated / 2
	if threshold < 1 {
		threshold = 1
	}
	if total < threshold {
		return Issue{Code: IssueLowInteractionComplexity, Severity: SeverityMedium, Detail: "interactive handler count below threshold"}, true
	}
	return Issue{}, false
}

// Rule 7: any artifact contains a configured placeholder phrase.
func rulePlaceholderContent(in Input) (Issue, bool) {
	for path, content := range in.GeneratedArtifacts {
		for _, phrase := range placeholderPhrases {
			if strings.Contains(content, phrase) {
				return Issue{Code: IssuePlaceholderContent, Severity: SeverityLow, Detail: path + ": " + phrase}, true
			}
		}
	}
	return Issue{}, false
}
