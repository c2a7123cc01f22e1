// Package apperr defines the closed taxonomy of error kinds shared across the
// planning, scheduling, execution, and patching packages. Centralizing the
// kind enum lets callers classify failures with errors.As instead of each
// package inventing its own sentinel set, the same role model.ProviderError
// plays for provider failures alone.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of a small, closed set of categories.
// New values must not be added casually: every caller that switches on Kind
// is expected to handle the full set.
type Kind string

const (
	// Validation indicates a plan or envelope was rejected before execution began.
	Validation Kind = "VALIDATION"

	// DependencyCycle indicates a task dependency graph contains a cycle.
	DependencyCycle Kind = "DEPENDENCY_CYCLE"

	// TaskTimeout indicates a task exceeded its configured timeout.
	TaskTimeout Kind = "TASK_TIMEOUT"

	// TaskCancelled indicates a task was cancelled, either directly or because
	// a dependency failed.
	TaskCancelled Kind = "TASK_CANCELLED"

	// ProviderRetryable indicates a model provider failure that the client may
	// retry according to its back-off policy.
	ProviderRetryable Kind = "PROVIDER_RETRYABLE"

	// ProviderFatal indicates a model provider failure that exhausted retries
	// or was not retryable to begin with.
	ProviderFatal Kind = "PROVIDER_FATAL"

	// PatchConflict indicates two or more intents targeted the same file in a
	// wave. This kind is reported in merge output; it is never returned as an
	// error from merging.
	PatchConflict Kind = "PATCH_CONFLICT"

	// PatchApplyFailed indicates a JSON Patch operation failed in strict mode.
	PatchApplyFailed Kind = "PATCH_APPLY_FAILED"

	// VersionMismatch indicates a patch envelope's graphId or baseVersion did
	// not match the target graph.
	VersionMismatch Kind = "VERSION_MISMATCH"

	// Internal indicates an unexpected failure unrelated to caller input. It is
	// always fatal and aborts the plan.
	Internal Kind = "INTERNAL"
)

// Error wraps an underlying error with a Kind and the operation that failed,
// following the same unexported-fields-plus-accessors shape as
// model.ProviderError so every package in this module classifies failures the
// same way.
type Error struct {
	kind Kind
	op   string
	err  error
}

// New constructs an Error. op should name the failing operation, for example
// "plan.Validate" or "scheduler.Schedule".
func New(kind Kind, op string, err error) *Error {
	return &Error{kind: kind, op: op, err: err}
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Op returns the operation that produced the error.
func (e *Error) Op() string { return e.op }

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.op, e.kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.op, e.kind, e.err)
}

// Unwrap returns the underlying error to preserve the error chain for
// errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether err's chain contains an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind == kind
	}
	return false
}
