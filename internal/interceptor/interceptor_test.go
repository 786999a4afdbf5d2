package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/telemetry"
)

func TestChainRunsBeforeAfterInPriorityOrder(t *testing.T) {
	var order []string
	before1 := recordingInterceptor{name: "a", priority: 0, order: &order}
	before2 := recordingInterceptor{name: "b", priority: 10, order: &order}
	chain := NewChain(&before2, &before1)

	result, err := chain.Run(context.Background(), CallContext{ToolName: "t"}, func(context.Context, map[string]any) (map[string]any, error) {
		order = append(order, "call")
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, result)
	require.Equal(t, []string{"before:a", "before:b", "call", "after:b", "after:a"}, order)
}

type recordingInterceptor struct {
	name     string
	priority int
	order    *[]string
}

func (r *recordingInterceptor) Name() string  { return r.name }
func (r *recordingInterceptor) Priority() int { return r.priority }
func (r *recordingInterceptor) Before(_ context.Context, cc CallContext) (CallContext, error) {
	*r.order = append(*r.order, "before:"+r.name)
	return cc, nil
}
func (r *recordingInterceptor) After(_ context.Context, _ CallContext, result map[string]any) (map[string]any, error) {
	*r.order = append(*r.order, "after:"+r.name)
	return result, nil
}
func (r *recordingInterceptor) OnException(context.Context, CallContext, error) bool { return false }

func TestExceptionCaptureNeverSuppresses(t *testing.T) {
	ec := NewExceptionCapture(10, telemetry.NewNoopLogger())
	chain := NewChain(ec)

	_, err := chain.Run(context.Background(), CallContext{ToolName: "fails", RequestID: "r1"}, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
}

func TestPerformanceWindowTriggersOnDeviation(t *testing.T) {
	var triggered []string
	window := NewPerformanceWindow(10, 3, 0.2, telemetry.NewNoopLogger(), func(_ context.Context, tool, severity string) {
		triggered = append(triggered, tool+":"+severity)
	})
	chain := NewChain(window)

	fastCall := func(context.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	}
	for i := 0; i < 5; i++ {
		_, err := chain.Run(context.Background(), CallContext{ToolName: "slow-tool"}, fastCall)
		require.NoError(t, err)
	}

	slowCall := func(context.Context, map[string]any) (map[string]any, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}
	_, err := chain.Run(context.Background(), CallContext{ToolName: "slow-tool"}, slowCall)
	require.NoError(t, err)
	require.NotEmpty(t, triggered)
}

func TestPerformanceBufferDumpRecordsCalls(t *testing.T) {
	buf := NewPerformanceBufferDump(30*time.Second, telemetry.NewNoopLogger())
	chain := NewChain(buf)

	_, err := chain.Run(context.Background(), CallContext{ToolName: "t", Args: map[string]any{"x": 1}}, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	require.NoError(t, err)
	require.Len(t, buf.entries, 1)
	require.Equal(t, "t", buf.entries[0].Tool)
}
