package toolregistry

import (
	"context"
	"fmt"

	"github.com/scottgal/flowforge/internal/ferrors"
)

// CustomFunc is a registered Go implementation for a custom_code tool,
// resolved by module+class reference at registration time rather than at
// call time (spec §4.5: "resolve a module+class+method reference"). The Go
// equivalent of a dynamic module/class lookup is a function registered
// ahead of time under that same reference string.
type CustomFunc func(ctx context.Context, config map[string]any, input map[string]any) (map[string]any, error)

// CustomCodeInvoker dispatches KindCustomCode tools by looking up a
// registered CustomFunc under "<module>.<class>".
type CustomCodeInvoker struct {
	funcs map[string]CustomFunc
}

// NewCustomCodeInvoker constructs an invoker with no functions registered.
func NewCustomCodeInvoker() *CustomCodeInvoker {
	return &CustomCodeInvoker{funcs: map[string]CustomFunc{}}
}

// RegisterFunc associates reference ("<module>.<class>") with fn.
func (c *CustomCodeInvoker) RegisterFunc(reference string, fn CustomFunc) {
	c.funcs[reference] = fn
}

// Invoke resolves tool.CustomCode.Module+Class and calls the registered
// function with the tool's config and the bound input.
func (c *CustomCodeInvoker) Invoke(ctx context.Context, tool Tool, input map[string]any) (map[string]any, error) {
	if tool.CustomCode == nil {
		return nil, ferrors.New(ferrors.CodeInvocationFailed, "tool has no custom_code descriptor")
	}
	reference := tool.CustomCode.Module + "." + tool.CustomCode.Class
	fn, ok := c.funcs[reference]
	if !ok {
		return nil, ferrors.New(ferrors.CodeInvocationFailed, fmt.Sprintf("custom_code tool %q references unregistered %q", tool.Name, reference))
	}
	return fn(ctx, tool.CustomCode.Config, input)
}
