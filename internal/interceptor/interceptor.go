// Package interceptor implements the Interceptor Chain (spec §4.6): every
// tool invocation is wrapped by an ordered chain of before/after/on_exception
// hooks, smaller declared priority running outermost.
package interceptor

import (
	"context"
	"sort"
)

// CallContext carries per-invocation state threaded through the chain.
type CallContext struct {
	ToolName   string
	Args       map[string]any
	WorkflowID string
	StepID     string
	RequestID  string
	Extra      map[string]any
}

// Interceptor wraps a tool invocation. Before may replace the CallContext
// passed down the chain; After may replace the result passed back up;
// OnException reports whether the exception should be suppressed rather
// than re-raised (built-ins never suppress).
type Interceptor interface {
	Name() string
	Priority() int
	Before(ctx context.Context, cc CallContext) (CallContext, error)
	After(ctx context.Context, cc CallContext, result map[string]any) (map[string]any, error)
	OnException(ctx context.Context, cc CallContext, err error) (suppress bool)
}

// Chain holds an ordered set of interceptors, smaller Priority() running
// outermost (spec §4.6: "Chain order is by declared priority, smaller =
// outer").
type Chain struct {
	interceptors []Interceptor
}

// NewChain builds a Chain from interceptors, sorted by ascending priority.
func NewChain(interceptors ...Interceptor) *Chain {
	sorted := append([]Interceptor(nil), interceptors...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Chain{interceptors: sorted}
}

// Invoker is the wrapped tool call: invoke(ctx, args) -> result, error.
type Invoker func(ctx context.Context, args map[string]any) (map[string]any, error)

// Run executes cc through every interceptor's Before (outermost first),
// calls next, then every interceptor's After (innermost first). On error,
// OnException is offered to each interceptor from innermost to outermost;
// the error is re-raised unless some interceptor suppresses it, in which
// case Run returns a nil result and nil error.
func (c *Chain) Run(ctx context.Context, cc CallContext, next Invoker) (map[string]any, error) {
	for _, it := range c.interceptors {
		var err error
		cc, err = it.Before(ctx, cc)
		if err != nil {
			return nil, err
		}
	}

	result, callErr := next(ctx, cc.Args)
	if callErr != nil {
		suppressed := false
		for i := len(c.interceptors) - 1; i >= 0; i-- {
			if c.interceptors[i].OnException(ctx, cc, callErr) {
				suppressed = true
			}
		}
		if suppressed {
			return nil, nil
		}
		return nil, callErr
	}

	for i := len(c.interceptors) - 1; i >= 0; i-- {
		var err error
		result, err = c.interceptors[i].After(ctx, cc, result)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
