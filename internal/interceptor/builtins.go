package interceptor

import (
	"time"

	"github.com/scottgal/flowforge/internal/telemetry"
)

// BuiltinConfig configures the three built-in interceptors (spec §4.6),
// all optional via environment flag at the caller's discretion.
type BuiltinConfig struct {
	ExceptionCaptureEnabled bool
	ExceptionCacheSize      int

	PerfCaptureEnabled bool
	WindowSize         int
	MinSamples         int
	VarianceThreshold  float64
	BufferDuration     time.Duration
}

// NewBuiltinChain wires the exception-capture, performance-window, and
// performance-buffer-dump interceptors per cfg, connecting the window's
// variance signal to the buffer's dump (spec §4.6: "triggers (3)").
func NewBuiltinChain(cfg BuiltinConfig, logger telemetry.Logger) *Chain {
	var interceptors []Interceptor

	if cfg.ExceptionCaptureEnabled {
		interceptors = append(interceptors, NewExceptionCapture(cfg.ExceptionCacheSize, logger))
	}

	if cfg.PerfCaptureEnabled {
		dump := NewPerformanceBufferDump(cfg.BufferDuration, logger)
		window := NewPerformanceWindow(cfg.WindowSize, cfg.MinSamples, cfg.VarianceThreshold, logger, dump.Dump)
		interceptors = append(interceptors, window, dump)
	}

	return NewChain(interceptors...)
}
