// Package ferrors defines the error taxonomy shared by every component of
// the orchestration engine (spec §7). Every externally emitted error is a
// *Error carrying a stable Code plus optional workflow/step/tool/request
// context so callers can branch on failure class without string matching.
package ferrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure from the engine's error taxonomy.
type Code string

const (
	// Configuration errors.
	CodeUnknownRole      Code = "unknown_role"
	CodeUnknownModelKey  Code = "unknown_model_key"
	CodeMissingBackend   Code = "missing_backend"
	CodeInvalidAllowlist Code = "invalid_allowlist"

	// Routing errors.
	CodeUnroutableModel   Code = "unroutable_model"
	CodeBackendUnavailable Code = "backend_unavailable"
	CodeBudgetExceeded    Code = "budget_exceeded"

	// Registry errors.
	CodeToolNotFound           Code = "tool_not_found"
	CodeDuplicateToolID        Code = "duplicate_tool_id"
	CodeExternalServerUnavailable Code = "external_server_unavailable"
	CodeUnknownToolKind        Code = "unknown_tool_kind"

	// Invocation errors.
	CodeInvocationTimeout        Code = "invocation_timeout"
	CodeInvocationFailed         Code = "invocation_failed"
	CodeSubprocessResourceExceeded Code = "subprocess_resource_exceeded"

	// Workflow errors.
	CodeValidationError             Code = "validation_error"
	CodeWorkflowTimeout              Code = "workflow_timeout"
	CodeStepFailure                  Code = "step_failure"
	CodeBehavioralValidationFailure Code = "behavioral_validation_failure"

	// Memory errors.
	CodeStorageUnavailable     Code = "storage_unavailable"
	CodeEmbeddingModelMismatch Code = "embedding_model_mismatch"

	// Scheduler errors.
	CodeQueueFull                     Code = "queue_full"
	CodeInvalidCronExpression         Code = "invalid_cron_expression"
	CodeTaskDisabledByConsecutiveFailures Code = "task_disabled_by_consecutive_failures"
)

// Context carries optional identifiers that let callers correlate an error
// with the workflow run, step, tool, or request that produced it.
type Context struct {
	WorkflowID string
	StepID     string
	ToolID     string
	RequestID  string
}

// Error is the concrete error type returned across component boundaries.
type Error struct {
	Code    Code
	Message string
	Context Context
	cause   error
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error that preserves cause in its chain via Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithContext returns a copy of e with ctx attached.
func (e *Error) WithContext(ctx Context) *Error {
	clone := *e
	clone.Context = ctx
	return &clone
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Code, enabling
// errors.Is(err, ferrors.New(CodeToolNotFound, "")) style checks.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
