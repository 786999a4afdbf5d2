package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// ExecutableInvoker dispatches KindExecutable tools (spec §4.5): runs the
// declared command with a JSON document (built from input) on stdin,
// expects JSON on stdout, and enforces timeout_ms. max_memory_mb is only
// handed to Limiter, when one is set, before the process starts; with a nil
// Limiter the memory limit is not enforced.
type ExecutableInvoker struct {
	Limiter func(cmd *exec.Cmd, maxMemoryMB int)
}

// Invoke runs tool.Executable.Command with tool.Executable.Args, piping the
// JSON-encoded input on stdin and decoding stdout as JSON.
func (e *ExecutableInvoker) Invoke(ctx context.Context, tool Tool, input map[string]any) (map[string]any, error) {
	if tool.Executable == nil {
		return nil, ferrors.New(ferrors.CodeInvocationFailed, "tool has no executable descriptor")
	}

	timeout := time.Duration(tool.Constraints.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: marshal stdin for %q: %w", tool.Name, err)
	}

	cmd := exec.CommandContext(ctx, tool.Executable.Command, tool.Executable.Args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.Limiter != nil {
		e.Limiter(cmd, tool.Constraints.MaxMemoryMB)
	}

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ferrors.New(ferrors.CodeInvocationTimeout, fmt.Sprintf("executable tool %q exceeded timeout_ms=%d", tool.Name, tool.Constraints.TimeoutMS))
	}
	if runErr != nil {
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, ferrors.New(ferrors.CodeInvocationFailed, fmt.Sprintf("executable tool %q exited %d: %s", tool.Name, exitCode, stderr.String()))
	}

	var output map[string]any
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
			return nil, ferrors.Wrap(ferrors.CodeInvocationFailed, fmt.Sprintf("executable tool %q produced non-JSON stdout", tool.Name), err)
		}
	}
	return output, nil
}
