// Package executor drives a scheduled plan wave-by-wave: within a wave,
// tasks dispatch concurrently up to a bounded fan-out; across waves,
// execution is strictly sequential, since wave n+1 must observe wave n's
// merged patch state. Dispatch is a semaphore-bounded worker pool with one
// result per task and context-cancelable sends; the Engine seam isolates
// "how one task's turn actually runs" so a durable execution backend can
// replace the in-process one behind the same interface.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wavegraph/orchestrator/runtime/apperr"
	"github.com/wavegraph/orchestrator/runtime/blackboard"
	"github.com/wavegraph/orchestrator/runtime/model"
	"github.com/wavegraph/orchestrator/runtime/patchmerge"
	"github.com/wavegraph/orchestrator/runtime/plan"
	"github.com/wavegraph/orchestrator/runtime/scheduler"
)

// tracer names every span the executor emits: one per wave and one per
// task.
var tracer = otel.Tracer("github.com/wavegraph/orchestrator/runtime/executor")

// Status is the closed set of terminal states a task result reports.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// TaskResult is one task's outcome once it reaches a terminal status.
type TaskResult struct {
	TaskID  plan.TaskID
	Status  Status
	Intents []patchmerge.Intent
	Error   error
}

// Engine runs a single task to completion: assembling its context,
// invoking the model client, and parsing any tool calls into patch
// intents. A durable-execution backend can satisfy this same interface in
// place of the in-process implementation.
type Engine interface {
	RunTask(ctx context.Context, waveID scheduler.WaveID, task plan.Task) ([]patchmerge.Intent, error)
}

// Config bounds the executor's concurrency and default per-task timeout.
// Zero values are replaced by the defaults at construction.
type Config struct {
	ParallelFanOut   int
	DefaultTimeoutMs int
}

// DefaultConfig matches the documented configuration defaults
// (executor.parallelFanOut 8, executor.defaultTimeoutMs 60000).
var DefaultConfig = Config{ParallelFanOut: 8, DefaultTimeoutMs: 60000}

// Outcome is the full result of running every wave of a schedule: each
// task's terminal result (including its intents), one WaveLog with the
// merge output per executed wave, and whether the run was aborted before
// every wave drained.
type Outcome struct {
	Results  map[plan.TaskID]TaskResult
	Aborted  bool
	WaveLogs []WaveLog
}

// WaveLog records one wave's merge output, so callers can audit
// per-wave conflicts without re-deriving them from Outcome.Results.
type WaveLog struct {
	WaveID scheduler.WaveID
	Merge  patchmerge.Result
}

// Executor drives a scheduled plan, wave by wave, against an Engine.
type Executor struct {
	engine Engine
	bus    blackboard.Bus
	cfg    Config
}

// New constructs an Executor. bus may be nil, in which case no lifecycle
// events are published.
func New(engine Engine, bus blackboard.Bus, cfg Config) *Executor {
	if cfg.ParallelFanOut <= 0 {
		cfg.ParallelFanOut = DefaultConfig.ParallelFanOut
	}
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = DefaultConfig.DefaultTimeoutMs
	}
	return &Executor{engine: engine, bus: bus, cfg: cfg}
}

// Run drives sched's groups in wave order against p's tasks. ctx is the
// plan-wide abortSignal: once cancelled, the executor stops submitting new
// tasks, forwards cancellation to in-flight ones, awaits their
// termination up to the longest configured timeout among pending tasks,
// and marks every remaining task cancelled. Run never itself runs the
// reflection step; callers observe Outcome.Aborted and skip reflection
// themselves.
func (e *Executor) Run(ctx context.Context, p plan.Plan, sched scheduler.Result) (Outcome, error) {
	byID := make(map[plan.TaskID]plan.Task, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}

	out := Outcome{Results: make(map[plan.TaskID]TaskResult, len(p.Tasks))}

	for _, group := range sched.Groups {
		if ctx.Err() != nil {
			out.Aborted = true
			e.blockGroup(ctx, group, byID, out.Results, "plan execution was cancelled")
			continue
		}
		if failedDep, blocked := e.dependencyFailed(p, group, out.Results); blocked {
			e.blockGroup(ctx, group, byID, out.Results, fmt.Sprintf("dependency %s did not complete", failedDep))
			continue
		}

		waveCtx, span := tracer.Start(ctx, "executor.wave",
			trace.WithAttributes(attribute.String("wave.id", string(group.ID)), attribute.Int("wave.task_count", len(group.TaskIDs))))

		e.publish(ctx, blackboard.NewWaveStarted(string(group.ID)))
		merge := e.runGroup(waveCtx, group, byID, out.Results)
		out.WaveLogs = append(out.WaveLogs, WaveLog{WaveID: group.ID, Merge: merge})
		e.publish(ctx, blackboard.NewWaveCompleted(string(group.ID)))

		span.SetAttributes(attribute.Int("wave.conflicts", len(merge.Conflicts)))
		span.End()

		if ctx.Err() != nil {
			out.Aborted = true
		}
	}

	return out, nil
}

// dependencyFailed reports whether any task in group has a dependency
// that is present in results but did not reach StatusCompleted. Tasks
// whose dependency hasn't run yet (e.g. because the dependency itself was
// blocked in an earlier wave) are also caught, since the scheduler never
// emits a task before its dependencies.
func (e *Executor) dependencyFailed(p plan.Plan, group scheduler.Group, results map[plan.TaskID]TaskResult) (plan.TaskID, bool) {
	byID := make(map[plan.TaskID]plan.Task, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}
	for _, id := range group.TaskIDs {
		for _, dep := range byID[id].Dependencies {
			if r, ok := results[dep]; ok && r.Status != StatusCompleted {
				return dep, true
			}
		}
	}
	return "", false
}

// blockGroup marks every task in group as cancelled without running it,
// publishing agent.task.blocked for each.
func (e *Executor) blockGroup(ctx context.Context, group scheduler.Group, byID map[plan.TaskID]plan.Task, results map[plan.TaskID]TaskResult, reason string) {
	for _, id := range group.TaskIDs {
		t := byID[id]
		results[id] = TaskResult{TaskID: id, Status: StatusCancelled, Error: apperr.New(apperr.TaskCancelled, "executor.Run", fmt.Errorf("%s", reason))}
		e.publish(ctx, blackboard.NewTaskBlocked(string(group.ID), string(t.AgentID), string(id), reason))
	}
}

// runGroup dispatches every task in group concurrently, bounded by the
// executor's fan-out limit, and merges the resulting intents once every
// task in the group has reached a terminal status.
func (e *Executor) runGroup(ctx context.Context, group scheduler.Group, byID map[plan.TaskID]plan.Task, results map[plan.TaskID]TaskResult) patchmerge.Result {
	sem := make(chan struct{}, e.cfg.ParallelFanOut)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var intents []patchmerge.Intent

	for _, id := range group.TaskIDs {
		t := byID[id]
		wg.Add(1)
		go func(t plan.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r := e.runTask(ctx, group.ID, t)
			mu.Lock()
			results[t.ID] = r
			intents = append(intents, r.Intents...)
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	return patchmerge.Merge(intents)
}

// runTask runs a single task with retry/back-off for retryable provider
// failures, respecting t's configured timeout (falling back to the
// executor's default) and propagating ctx cancellation as fatal.
func (e *Executor) runTask(ctx context.Context, waveID scheduler.WaveID, t plan.Task) (result TaskResult) {
	ctx, span := tracer.Start(ctx, "executor.task",
		trace.WithAttributes(
			attribute.String("task.id", string(t.ID)),
			attribute.String("task.agent_id", string(t.AgentID)),
			attribute.String("wave.id", string(waveID)),
		))
	defer func() {
		span.SetAttributes(attribute.String("task.status", string(result.Status)))
		if result.Status != StatusCompleted {
			span.SetStatus(codes.Error, string(result.Status))
		}
		span.End()
	}()

	e.publish(ctx, blackboard.NewTaskStarted(string(waveID), string(t.AgentID), string(t.ID)))

	timeoutMs := t.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = e.cfg.DefaultTimeoutMs
	}
	retryLimit := t.RetryLimit
	policy := model.DefaultBackoffPolicy
	policy.MaxRetries = retryLimit

	var lastErr error
	for attempt := 1; attempt <= retryLimit+1; attempt++ {
		taskCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		intents, err := e.engine.RunTask(taskCtx, waveID, t)
		timedOut := errors.Is(taskCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			e.publish(ctx, blackboard.NewTaskCompleted(string(waveID), string(t.AgentID), string(t.ID), true))
			return TaskResult{TaskID: t.ID, Status: StatusCompleted, Intents: intents}
		}
		lastErr = err

		if ctx.Err() != nil {
			e.publish(ctx, blackboard.NewTaskBlocked(string(waveID), string(t.AgentID), string(t.ID), "plan execution was cancelled"))
			return TaskResult{TaskID: t.ID, Status: StatusCancelled, Error: apperr.New(apperr.TaskCancelled, "executor.runTask", err)}
		}
		if timedOut && ctx.Err() == nil {
			e.publish(ctx, blackboard.NewTaskCompleted(string(waveID), string(t.AgentID), string(t.ID), false))
			return TaskResult{TaskID: t.ID, Status: StatusTimedOut, Error: apperr.New(apperr.TaskTimeout, "executor.runTask", err)}
		}

		var perr *model.ProviderError
		retryable := errors.As(err, &perr) && perr.Retryable()
		if !retryable || attempt > retryLimit {
			break
		}
		e.publish(ctx, blackboard.NewTaskProgress(string(waveID), string(t.AgentID), string(t.ID), fmt.Sprintf("retrying after attempt %d: %v", attempt, err)))
		if sleepErr := sleepCtx(ctx, policy.Delay(attempt)); sleepErr != nil {
			break
		}
	}

	e.publish(ctx, blackboard.NewTaskCompleted(string(waveID), string(t.AgentID), string(t.ID), false))
	return TaskResult{TaskID: t.ID, Status: StatusFailed, Error: apperr.New(apperr.ProviderFatal, "executor.runTask", lastErr)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) publish(ctx context.Context, event blackboard.Event) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(ctx, event)
}
