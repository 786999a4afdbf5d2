package toolregistry

import (
	"context"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// WorkflowRunner is implemented by internal/executor.Executor, kept as an
// interface here to avoid toolregistry importing executor (which itself
// depends on toolregistry for step dispatch).
type WorkflowRunner interface {
	RunByID(ctx context.Context, workflowID string, inputs map[string]any) (map[string]any, error)
}

// WorkflowInvoker dispatches KindWorkflow tools by delegating to the
// Workflow Executor on the referenced workflow (spec §4.5).
type WorkflowInvoker struct {
	Runner WorkflowRunner
}

// Invoke runs the referenced workflow with input as its inputs map.
func (w *WorkflowInvoker) Invoke(ctx context.Context, tool Tool, input map[string]any) (map[string]any, error) {
	if tool.Workflow == nil {
		return nil, ferrors.New(ferrors.CodeInvocationFailed, "tool has no workflow descriptor")
	}
	outputs, err := w.Runner.RunByID(ctx, tool.Workflow.WorkflowID, input)
	if err != nil {
		return nil, err
	}
	return outputs, nil
}
