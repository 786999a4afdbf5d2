// Package optimizer implements the Cluster Optimizer (spec §4.8): it
// iteratively evolves artifact clusters toward higher fitness and trims
// non-canonical members by a distance-from-fittest policy.
package optimizer

// Metrics is the raw evaluation output a Validator produces for a
// candidate artifact.
type Metrics struct {
	LatencyMS   float64
	MemoryMB    float64
	CPUPercent  float64
	SuccessRate float64
	Coverage    float64
}

// Weights weighs each fitness dimension; configured per artifact kind.
type Weights struct {
	Latency  float64
	Memory   float64
	CPU      float64
	Success  float64
	Coverage float64
}

// DefaultWeights mirror a generic, kind-agnostic baseline; callers override
// per kind via Options.WeightsFor.
var DefaultWeights = Weights{Latency: 0.25, Memory: 0.15, CPU: 0.15, Success: 0.3, Coverage: 0.15}

// Norms carries the reference maxima used to clamp raw metrics into [0,1]
// before weighting (spec §4.8: "normalization clamps metrics to [0,1]").
type Norms struct {
	MaxLatencyMS  float64
	MaxMemoryMB   float64
	MaxCPUPercent float64
}

// DefaultNorms are generous upper bounds for tool-sized workloads.
var DefaultNorms = Norms{MaxLatencyMS: 30000, MaxMemoryMB: 2048, MaxCPUPercent: 100}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normInverse normalizes a "lower is better" metric: 0 raw -> 1.0 fitness
// contribution, max raw (or above) -> 0.0.
func normInverse(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return clamp01(1 - value/max)
}

// Score computes the weighted fitness score for m under w and norms (spec
// §4.8): `w_lat·norm(latency) + w_mem·norm(memory) + w_cpu·norm(cpu) +
// w_succ·success_rate + w_cov·coverage`.
func Score(w Weights, norms Norms, m Metrics) float64 {
	return w.Latency*normInverse(m.LatencyMS, norms.MaxLatencyMS) +
		w.Memory*normInverse(m.MemoryMB, norms.MaxMemoryMB) +
		w.CPU*normInverse(m.CPUPercent, norms.MaxCPUPercent) +
		w.Success*clamp01(m.SuccessRate) +
		w.Coverage*clamp01(m.Coverage)
}
