package interceptor

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scottgal/flowforge/internal/telemetry"
)

// ExceptionCapture is the priority-0 (outermost) built-in interceptor
// (spec §4.6 (1)): it maintains a bounded LRU of request contexts keyed by
// request_id and, on exception, logs a structured event with the tool,
// workflow/step/request ids, execution time and the error message. It
// never suppresses.
type ExceptionCapture struct {
	mu       sync.Mutex
	lru      *list.List
	index    map[string]*list.Element
	capacity int
	logger   telemetry.Logger
}

type exceptionEntry struct {
	requestID  string
	toolName   string
	argsSummary string
	workflowID string
	stepID     string
	start      time.Time
}

// NewExceptionCapture constructs the capture interceptor with an LRU of
// the given capacity (spec does not mandate a default; callers pick one
// sized to expected in-flight request volume).
func NewExceptionCapture(capacity int, logger telemetry.Logger) *ExceptionCapture {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &ExceptionCapture{
		lru:      list.New(),
		index:    map[string]*list.Element{},
		capacity: capacity,
		logger:   logger,
	}
}

func (e *ExceptionCapture) Name() string { return "exception_capture" }

func (e *ExceptionCapture) Priority() int { return 0 }

// Before pushes a context summary keyed by RequestID (spec §4.6 (1): "args
// summary ≤500 chars").
func (e *ExceptionCapture) Before(_ context.Context, cc CallContext) (CallContext, error) {
	entry := &exceptionEntry{
		requestID:   cc.RequestID,
		toolName:    cc.ToolName,
		argsSummary: summarize(cc.Args, 500),
		workflowID:  cc.WorkflowID,
		stepID:      cc.StepID,
		start:       time.Now(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.index[cc.RequestID]; ok {
		e.lru.Remove(el)
	}
	e.index[cc.RequestID] = e.lru.PushFront(entry)
	for e.lru.Len() > e.capacity {
		oldest := e.lru.Back()
		if oldest == nil {
			break
		}
		delete(e.index, oldest.Value.(*exceptionEntry).requestID)
		e.lru.Remove(oldest)
	}
	return cc, nil
}

func (e *ExceptionCapture) After(_ context.Context, _ CallContext, result map[string]any) (map[string]any, error) {
	return result, nil
}

// OnException logs the captured context plus the exception details and
// never suppresses (spec §4.6 (1): "re-raises (never suppresses by
// default)").
func (e *ExceptionCapture) OnException(ctx context.Context, cc CallContext, err error) bool {
	e.mu.Lock()
	var entry *exceptionEntry
	if el, ok := e.index[cc.RequestID]; ok {
		entry = el.Value.(*exceptionEntry)
	}
	e.mu.Unlock()

	elapsed := time.Duration(0)
	if entry != nil {
		elapsed = time.Since(entry.start)
	}
	e.logger.Error(ctx, "tool invocation failed",
		"tool", cc.ToolName,
		"workflow_id", cc.WorkflowID,
		"step_id", cc.StepID,
		"request_id", cc.RequestID,
		"execution_time_ms", elapsed.Milliseconds(),
		"error", err.Error(),
	)
	return false
}

func summarize(args map[string]any, maxLen int) string {
	s := fmt.Sprintf("%v", args)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
