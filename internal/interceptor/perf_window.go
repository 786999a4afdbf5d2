package interceptor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/scottgal/flowforge/internal/telemetry"
)

// PerformanceWindow is the priority-10 built-in interceptor (spec §4.6
// (2)): it keeps a rolling window of the last windowSize execution times
// per tool, and once at least minSamples are available, flags any call
// whose duration deviates from the window mean by more than
// varianceThreshold (relative) as a performance-variance event, which in
// turn triggers the buffer dump.
type PerformanceWindow struct {
	mu          sync.Mutex
	windowSize  int
	minSamples  int
	threshold   float64
	windows     map[string][]time.Duration
	logger      telemetry.Logger
	onVariance  func(ctx context.Context, tool string, severity string)
}

// NewPerformanceWindow constructs the window interceptor. onVariance is
// invoked (typically by the buffer dump interceptor) whenever a call
// deviates beyond threshold.
func NewPerformanceWindow(windowSize, minSamples int, threshold float64, logger telemetry.Logger, onVariance func(ctx context.Context, tool, severity string)) *PerformanceWindow {
	if windowSize <= 0 {
		windowSize = 100
	}
	if minSamples <= 0 {
		minSamples = 10
	}
	if threshold <= 0 {
		threshold = 0.2
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &PerformanceWindow{
		windowSize: windowSize,
		minSamples: minSamples,
		threshold:  threshold,
		windows:    map[string][]time.Duration{},
		logger:     logger,
		onVariance: onVariance,
	}
}

func (p *PerformanceWindow) Name() string { return "performance_window" }

func (p *PerformanceWindow) Priority() int { return 10 }

// Before stamps the call start time into cc.Extra so After can compute
// elapsed duration.
func (p *PerformanceWindow) Before(_ context.Context, cc CallContext) (CallContext, error) {
	if cc.Extra == nil {
		cc.Extra = map[string]any{}
	}
	cc.Extra["perf_window_start"] = time.Now()
	return cc, nil
}

// After records the call's duration and, once enough samples exist,
// compares it against the rolling mean.
func (p *PerformanceWindow) After(ctx context.Context, cc CallContext, result map[string]any) (map[string]any, error) {
	start, ok := cc.Extra["perf_window_start"].(time.Time)
	if !ok {
		return result, nil
	}
	elapsed := time.Since(start)

	p.mu.Lock()
	window := p.windows[cc.ToolName]
	window = append(window, elapsed)
	if len(window) > p.windowSize {
		window = window[len(window)-p.windowSize:]
	}
	p.windows[cc.ToolName] = window
	mean := meanDuration(window)
	sampleCount := len(window)
	p.mu.Unlock()

	if sampleCount >= p.minSamples && mean > 0 {
		deviation := math.Abs(float64(elapsed-mean)) / float64(mean)
		if deviation > p.threshold {
			severity := "medium"
			if deviation > 2*p.threshold {
				severity = "high"
			}
			p.logger.Warn(ctx, "tool execution time variance detected",
				"tool", cc.ToolName,
				"elapsed_ms", elapsed.Milliseconds(),
				"mean_ms", mean.Milliseconds(),
				"deviation", deviation,
				"severity", severity,
			)
			if p.onVariance != nil {
				p.onVariance(ctx, cc.ToolName, severity)
			}
		}
	}
	return result, nil
}

func (p *PerformanceWindow) OnException(_ context.Context, _ CallContext, _ error) bool { return false }

func meanDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}
