package interceptor

import (
	"context"
	"sync"
	"time"

	"github.com/scottgal/flowforge/internal/telemetry"
)

// bufferEntry is one call's {tool, start_ts, end_ts, params_summary}
// (spec §4.6 (3)).
type bufferEntry struct {
	Tool          string
	StartTS       time.Time
	EndTS         time.Time
	ParamsSummary string
}

// PerformanceBufferDump is the priority-10 built-in interceptor (spec §4.6
// (3)): it maintains a global time-bounded ring buffer of every call, and
// dumps the entire buffer as a structured event when PerformanceWindow
// reports a variance, tagged with the triggering tool and severity.
type PerformanceBufferDump struct {
	mu       sync.Mutex
	duration time.Duration
	entries  []bufferEntry
	logger   telemetry.Logger
}

// NewPerformanceBufferDump constructs the buffer with the given retention
// window (spec default 30s).
func NewPerformanceBufferDump(duration time.Duration, logger telemetry.Logger) *PerformanceBufferDump {
	if duration <= 0 {
		duration = 30 * time.Second
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &PerformanceBufferDump{duration: duration, logger: logger}
}

func (b *PerformanceBufferDump) Name() string { return "performance_buffer_dump" }

func (b *PerformanceBufferDump) Priority() int { return 10 }

func (b *PerformanceBufferDump) Before(_ context.Context, cc CallContext) (CallContext, error) {
	if cc.Extra == nil {
		cc.Extra = map[string]any{}
	}
	cc.Extra["perf_buffer_start"] = time.Now()
	return cc, nil
}

func (b *PerformanceBufferDump) After(_ context.Context, cc CallContext, result map[string]any) (map[string]any, error) {
	start, _ := cc.Extra["perf_buffer_start"].(time.Time)
	if start.IsZero() {
		start = time.Now()
	}
	b.record(bufferEntry{
		Tool:          cc.ToolName,
		StartTS:       start,
		EndTS:         time.Now(),
		ParamsSummary: summarize(cc.Args, 500),
	})
	return result, nil
}

func (b *PerformanceBufferDump) OnException(_ context.Context, cc CallContext, _ error) bool {
	b.record(bufferEntry{Tool: cc.ToolName, StartTS: time.Now(), EndTS: time.Now(), ParamsSummary: summarize(cc.Args, 500)})
	return false
}

func (b *PerformanceBufferDump) record(e bufferEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	b.trimLocked()
}

func (b *PerformanceBufferDump) trimLocked() {
	cutoff := time.Now().Add(-b.duration)
	i := 0
	for ; i < len(b.entries); i++ {
		if b.entries[i].EndTS.After(cutoff) {
			break
		}
	}
	b.entries = b.entries[i:]
}

// Dump emits the current buffer as a single structured event, tagged with
// the triggering tool and variance severity (spec §4.6 (3)).
func (b *PerformanceBufferDump) Dump(ctx context.Context, triggeringTool, severity string) {
	b.mu.Lock()
	b.trimLocked()
	snapshot := append([]bufferEntry(nil), b.entries...)
	b.mu.Unlock()

	b.logger.Warn(ctx, "performance buffer dump",
		"triggering_tool", triggeringTool,
		"severity", severity,
		"entry_count", len(snapshot),
	)
}
