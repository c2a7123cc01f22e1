// Package plan holds the execution plan and task data model and validates
// a plan's task DAG before it is handed to the scheduler.
package plan

import (
	"encoding/json"
	"time"
)

// TaskID identifies a task uniquely within a plan.
type TaskID string

// PlanID identifies an execution plan.
type PlanID string

// AgentKind is the closed enumeration of agent identities a task may be
// dispatched to.
type AgentKind string

const (
	AgentScaffold    AgentKind = "scaffold"
	AgentPage        AgentKind = "page"
	AgentInteraction AgentKind = "interaction"
	AgentState       AgentKind = "state"
	AgentStyle       AgentKind = "style"
	AgentQuality     AgentKind = "quality"
	AgentRepair      AgentKind = "repair"
	AgentPlanner     AgentKind = "planner"
	AgentArchitect   AgentKind = "architect"
	AgentResearch    AgentKind = "research"
)

// knownAgentKinds is the membership set backing IsValidAgentKind.
var knownAgentKinds = map[AgentKind]struct{}{
	AgentScaffold: {}, AgentPage: {}, AgentInteraction: {}, AgentState: {},
	AgentStyle: {}, AgentQuality: {}, AgentRepair: {}, AgentPlanner: {},
	AgentArchitect: {}, AgentResearch: {},
}

// IsValidAgentKind reports whether kind is a member of the closed agent
// enumeration.
func IsValidAgentKind(kind AgentKind) bool {
	_, ok := knownAgentKinds[kind]
	return ok
}

// Mode is a task's execution mode, which the scheduler uses as a batching
// precedence signal.
type Mode string

const (
	ModeSerial   Mode = "serial"
	ModePipeline Mode = "pipeline"
	ModeParallel Mode = "parallel"
)

// Task is a single node in a plan's execution DAG.
type Task struct {
	ID      TaskID    `json:"id"`
	AgentID AgentKind `json:"agentId"`
	Phase   string    `json:"phase"`
	Mode    Mode      `json:"mode"`
	// Priority breaks ties among tasks that become ready in the same round;
	// higher values are scheduled first.
	Priority int `json:"priority"`
	// Dependencies is normalized on input: UnmarshalJSON unifies the two
	// legacy wire field names ("dependencies" and "dependsOn") into this
	// single set, and Validate further trims/dedupes it before validation
	// runs.
	Dependencies []TaskID `json:"dependencies"`
	TimeoutMs    int      `json:"timeoutMs"`
	RetryLimit   int      `json:"retryLimit"`
}

// taskWire mirrors Task's wire shape but carries both legacy dependency
// field names, letting UnmarshalJSON decode whichever (or both) a producer
// sent without the custom logic living back out in the plan loader.
type taskWire struct {
	ID           TaskID    `json:"id"`
	AgentID      AgentKind `json:"agentId"`
	Phase        string    `json:"phase"`
	Mode         Mode      `json:"mode"`
	Priority     int       `json:"priority"`
	Dependencies []TaskID  `json:"dependencies"`
	DependsOn    []TaskID  `json:"dependsOn"`
	TimeoutMs    int       `json:"timeoutMs"`
	RetryLimit   int       `json:"retryLimit"`
}

// UnmarshalJSON unifies the "dependencies" and "dependsOn" legacy field
// names into Dependencies, so a plan producer that uses either (or even
// both, redundantly) decodes into the same task graph.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w taskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	deps := make([]TaskID, 0, len(w.Dependencies)+len(w.DependsOn))
	deps = append(deps, w.Dependencies...)
	deps = append(deps, w.DependsOn...)

	*t = Task{
		ID:           w.ID,
		AgentID:      w.AgentID,
		Phase:        w.Phase,
		Mode:         w.Mode,
		Priority:     w.Priority,
		Dependencies: deps,
		TimeoutMs:    w.TimeoutMs,
		RetryLimit:   w.RetryLimit,
	}
	return nil
}

// ReplanPolicy bounds how many times a plan may be replanned in response to
// a failing reflection.
type ReplanPolicy struct {
	MaxReplanDepth int `json:"maxReplanDepth"`
}

// Plan is the immutable (per revision) execution plan produced by the
// upstream analysis agents and consumed by the scheduler/executor.
type Plan struct {
	ID            PlanID         `json:"id"`
	CreatedAt     time.Time      `json:"createdAt"`
	UserMessage   string         `json:"userMessage"`
	RouteDecision string         `json:"routeDecision"`
	MaxIterations int            `json:"maxIterations"`
	ReplanPolicy  ReplanPolicy   `json:"replanPolicy"`
	Tasks         []Task         `json:"tasks"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
