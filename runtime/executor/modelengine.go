package executor

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/wavegraph/orchestrator/runtime/model"
	"github.com/wavegraph/orchestrator/runtime/patchmerge"
	"github.com/wavegraph/orchestrator/runtime/plan"
	"github.com/wavegraph/orchestrator/runtime/scheduler"
)

// WriteFileTool is the name of the tool a ModelEngine recognizes as a
// file-edit intent. An agent emits one tool call per file it wants to
// write; any other tool call is ignored by intent extraction (it is still
// part of the model's response, but intent extraction only cares about
// file edits).
const WriteFileTool = "write_file"

// PromptBuilder supplies the system prompt, conversation messages, and
// tool definitions for one task, given the task itself and the plan it
// belongs to. Concrete implementations own prompt assembly against
// runtime/ctxstore (context store) and the caller-supplied section
// catalogue; ModelEngine only needs the built request.
type PromptBuilder interface {
	BuildRequest(ctx context.Context, p plan.Plan, t plan.Task) (model.Request, error)
}

// ModelEngine is the default Engine implementation: it builds a request
// via PromptBuilder, drives it against a model.Client, and converts any
// write_file tool calls in the response into patch intents.
type ModelEngine struct {
	Client  model.Client
	Prompts PromptBuilder
	Plan    plan.Plan
	Now     func() time.Time
}

// NewModelEngine constructs a ModelEngine bound to one plan (the executor
// runs one plan revision at a time).
func NewModelEngine(client model.Client, prompts PromptBuilder, p plan.Plan) *ModelEngine {
	return &ModelEngine{Client: client, Prompts: prompts, Plan: p, Now: time.Now}
}

// RunTask builds the task's request, completes it against the model
// client, and extracts patch intents from any write_file tool calls in
// the response.
func (m *ModelEngine) RunTask(ctx context.Context, waveID scheduler.WaveID, t plan.Task) ([]patchmerge.Intent, error) {
	req, err := m.Prompts.BuildRequest(ctx, m.Plan, t)
	if err != nil {
		return nil, fmt.Errorf("executor: build request for task %s: %w", t.ID, err)
	}

	resp, err := m.Client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	var intents []patchmerge.Intent
	for _, call := range resp.ToolCalls {
		if call.Name != WriteFileTool {
			continue
		}
		filePath, content, err := decodeWriteFileArgs(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("executor: task %s emitted invalid write_file arguments: %w", t.ID, err)
		}
		intents = append(intents, patchmerge.Intent{
			ID:          patchmerge.IntentID(uuid.NewString()),
			WaveID:      waveID,
			TaskID:      t.ID,
			AgentID:     t.AgentID,
			FilePath:    filePath,
			Content:     content,
			ContentHash: contentHash(content),
			CreatedAt:   now(),
		})
	}
	return intents, nil
}

func decodeWriteFileArgs(args map[string]any) (filePath, content string, err error) {
	rawPath, ok := args["filePath"]
	if !ok {
		return "", "", fmt.Errorf("missing filePath")
	}
	filePath, ok = rawPath.(string)
	if !ok || filePath == "" {
		return "", "", fmt.Errorf("filePath must be a non-empty string")
	}
	rawContent, ok := args["content"]
	if !ok {
		return "", "", fmt.Errorf("missing content")
	}
	content, ok = rawContent.(string)
	if !ok {
		return "", "", fmt.Errorf("content must be a string")
	}
	return filePath, content, nil
}

// contentHash computes a 32-bit FNV-1a hash of content for the patch
// intent's ContentHash field, the same hash/fnv family runtime/ctxstore's
// pruning transform uses for its truncation-verification hash, so every
// content-identity check in this module uses one hash algorithm.
func contentHash(content string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	return fmt.Sprintf("%08x", h.Sum32())
}
