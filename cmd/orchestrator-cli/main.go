// Command orchestrator-cli drives one plan revision end to end: validate
// the task DAG, schedule it into waves, execute each wave against a model
// adapter, merge the resulting patch intents, and reflect on the outcome.
// Blackboard lifecycle events are printed to stdout as JSON Lines as they
// are published.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wavegraph/orchestrator/runtime/apperr"
	"github.com/wavegraph/orchestrator/runtime/blackboard"
	"github.com/wavegraph/orchestrator/runtime/config"
	"github.com/wavegraph/orchestrator/runtime/executor"
	"github.com/wavegraph/orchestrator/runtime/model"
	"github.com/wavegraph/orchestrator/runtime/model/anthropic"
	"github.com/wavegraph/orchestrator/runtime/model/openai"
	"github.com/wavegraph/orchestrator/runtime/plan"
	"github.com/wavegraph/orchestrator/runtime/reflection"
	"github.com/wavegraph/orchestrator/runtime/scheduler"
)

func main() {
	var (
		planPath   = flag.String("plan", "", "path to a plan JSON document (required)")
		configPath = flag.String("config", "", "path to an orchestrator.yaml configuration override")
		provider   = flag.String("provider", "stub", "model provider: anthropic | openai | bedrock | stub")
		modelID    = flag.String("model", "", "model identifier passed to the provider adapter")
	)
	flag.Parse()

	if err := run(*planPath, *configPath, *provider, *modelID); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator-cli:", err)
		os.Exit(1)
	}
}

func run(planPath, configPath, provider, modelID string) error {
	if planPath == "" {
		return fmt.Errorf("-plan is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	p, err := loadPlan(planPath)
	if err != nil {
		return err
	}

	normalized, err := plan.Validate(p.Tasks)
	if err != nil {
		return fmt.Errorf("plan validation: %w", err)
	}
	p.Tasks = normalized

	sched, err := scheduler.Schedule(p.Tasks)
	if err != nil {
		return fmt.Errorf("scheduling: %w", err)
	}

	adapter, err := buildAdapter(provider, modelID)
	if err != nil {
		return err
	}
	client := model.NewClient(adapter, model.DefaultBackoffPolicy)
	engine := executor.NewModelEngine(client, staticPromptBuilder{}, p)

	bus := blackboard.NewBus()
	enc := json.NewEncoder(os.Stdout)
	sub, err := bus.Register(blackboard.SubscriberFunc(func(ctx context.Context, event blackboard.Event) error {
		return enc.Encode(eventLine{
			Seq:       event.Seq(),
			Type:      string(event.Type()),
			Timestamp: event.Timestamp(),
			AgentID:   event.AgentID(),
			TaskID:    event.TaskID(),
		})
	}))
	if err != nil {
		return fmt.Errorf("registering event subscriber: %w", err)
	}
	defer sub.Close()

	exec := executor.New(engine, bus, cfg.Executor)
	outcome, err := exec.Run(context.Background(), p, sched)
	if err != nil {
		return fmt.Errorf("execution: %w", err)
	}

	artifacts := make(map[string]string)
	var touched []string
	for _, wl := range outcome.WaveLogs {
		for _, m := range wl.Merge.Merged {
			if _, seen := artifacts[m.FilePath]; !seen {
				touched = append(touched, m.FilePath)
			}
			artifacts[m.FilePath] = m.Content
		}
	}

	result := reflection.Evaluate(reflection.Input{
		Plan:               p,
		TaskResults:        toReflectionResults(outcome),
		FilesGenerated:     len(artifacts),
		PassScore:          cfg.PassScore,
		PromptMessage:      p.UserMessage,
		TouchedFilePaths:   touched,
		GeneratedArtifacts: artifacts,
		ReplanDepth:        0,
	})

	return json.NewEncoder(os.Stdout).Encode(summaryLine{
		Aborted:       outcome.Aborted,
		ShouldReplan:  result.ShouldIterate,
		Score:         result.Score,
		MergedFiles:   len(artifacts),
		TaskCompleted: countStatus(outcome, executor.StatusCompleted),
		TaskFailed:    countStatus(outcome, executor.StatusFailed),
	})
}

type eventLine struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agentId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
}

type summaryLine struct {
	Aborted       bool `json:"aborted"`
	ShouldReplan  bool `json:"shouldReplan"`
	Score         int  `json:"score"`
	MergedFiles   int  `json:"mergedFiles"`
	TaskCompleted int  `json:"taskCompleted"`
	TaskFailed    int  `json:"taskFailed"`
}

func loadPlan(path string) (plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("reading plan %s: %w", path, err)
	}
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return plan.Plan{}, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	return p, nil
}

func buildAdapter(provider, modelID string) (model.Adapter, error) {
	switch strings.ToLower(provider) {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		return anthropic.NewFromAPIKey(apiKey, modelID)
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		return openai.NewFromAPIKey(apiKey, modelID)
	case "bedrock":
		return nil, fmt.Errorf("provider bedrock requires a configured AWS bedrockruntime.Client; wire bedrock.New in a host program")
	case "stub", "":
		return stubAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// staticPromptBuilder builds a minimal one-shot request per task, carrying
// the task's phase and the plan's user message as the only context. A
// production deployment replaces this with a PromptBuilder backed by
// runtime/ctxstore and the section/skill catalogue.
type staticPromptBuilder struct{}

func (staticPromptBuilder) BuildRequest(ctx context.Context, p plan.Plan, t plan.Task) (model.Request, error) {
	return model.Request{
		SystemPrompt: fmt.Sprintf("You are the %s agent for task %s (phase %s).", t.AgentID, t.ID, t.Phase),
		Messages: []model.Message{
			{Role: model.RoleUser, Text: p.UserMessage},
		},
	}, nil
}

// stubAdapter is a no-op model.Adapter used when no provider is
// configured: it returns an empty completion with no tool calls, so a
// plan can be validated/scheduled/executed end to end without external
// credentials.
type stubAdapter struct{}

func (stubAdapter) Provider() string { return "stub" }

func (stubAdapter) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return model.Response{FinishReason: model.FinishStop}, nil
}

func (stubAdapter) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, apperr.New(apperr.Internal, "stubAdapter.Stream", fmt.Errorf("streaming not supported by the stub adapter"))
}

func toReflectionResults(outcome executor.Outcome) []reflection.TaskResult {
	out := make([]reflection.TaskResult, 0, len(outcome.Results))
	for id, res := range outcome.Results {
		out = append(out, reflection.TaskResult{TaskID: id, Status: string(res.Status)})
	}
	return out
}

func countStatus(outcome executor.Outcome, status executor.Status) int {
	n := 0
	for _, res := range outcome.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}
