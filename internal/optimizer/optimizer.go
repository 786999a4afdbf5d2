package optimizer

import (
	"context"
	"sort"

	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/memory"
	"github.com/scottgal/flowforge/internal/telemetry"
)

// Validator evaluates a candidate artifact, running its tests and
// collecting runtime metrics (spec §4.8 step 4).
type Validator interface {
	Validate(ctx context.Context, candidate memory.Artifact) (Metrics, error)
}

// Options configures an Optimizer run.
type Options struct {
	MaxIterations               int
	FitnessImprovementThreshold float64
	WeightsFor                  func(kind memory.Kind) Weights
	Norms                       Norms
}

func (o *Options) setDefaults() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 5
	}
	if o.FitnessImprovementThreshold <= 0 {
		o.FitnessImprovementThreshold = 0.02
	}
	if o.WeightsFor == nil {
		o.WeightsFor = func(memory.Kind) Weights { return DefaultWeights }
	}
	if (o.Norms == Norms{}) {
		o.Norms = DefaultNorms
	}
}

// Optimizer runs the Cluster Optimizer's iteration and trimming operations
// (spec §4.8) over a Cluster backed by Artifact Memory.
type Optimizer struct {
	mem       *memory.Memory
	validator Validator
	gen       Generator
	opts      Options
	logger    telemetry.Logger
}

// Option configures an Optimizer at construction.
type Option func(*Optimizer)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(o *Optimizer) { o.logger = l } }

// New constructs an Optimizer.
func New(mem *memory.Memory, validator Validator, gen Generator, opts Options, options ...Option) *Optimizer {
	opts.setDefaults()
	o := &Optimizer{
		mem:       mem,
		validator: validator,
		gen:       gen,
		opts:      opts,
		logger:    telemetry.NewNoopLogger(),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// IterationResult reports what happened during one call to Iterate.
type IterationResult struct {
	Promoted         bool
	CandidateFitness float64
	CanonicalFitness float64
	NewCanonicalID   string
	ArchivedIDs      []string
}

// Iterate runs up to Options.MaxIterations rounds of candidate generation
// and promotion against cluster, stopping early on the first round with no
// improvement (spec §4.8 step 6).
func (o *Optimizer) Iterate(ctx context.Context, cluster *Cluster, strategy Strategy) ([]IterationResult, error) {
	var results []IterationResult
	for i := 0; i < o.opts.MaxIterations; i++ {
		result, err := o.iterateOnce(ctx, cluster, resolveStrategy(strategy, i))
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if !result.Promoted {
			break
		}
	}
	return results, nil
}

func resolveStrategy(s Strategy, iteration int) Strategy {
	if s == StrategyHybrid {
		return resolveHybrid(iteration)
	}
	return s
}

func (o *Optimizer) iterateOnce(ctx context.Context, cluster *Cluster, strategy Strategy) (IterationResult, error) {
	canonical, err := o.mem.Get(ctx, cluster.CanonicalArtifactID)
	if err != nil {
		return IterationResult{}, err
	}

	alternates, err := o.loadAlternates(ctx, cluster)
	if err != nil {
		return IterationResult{}, err
	}

	deltas := make([]Delta, 0, len(alternates))
	for _, alt := range alternates {
		deltas = append(deltas, ExtractDelta(canonical, alt, cluster.ClusterID))
	}
	if strategy == StrategyBestOfBreed {
		deltas = topFitnessDeltas(alternates, deltas)
	}

	candidate, err := GenerateCandidate(ctx, o.gen, strategy, canonical, deltas)
	if err != nil {
		return IterationResult{}, err
	}

	metrics, err := o.validator.Validate(ctx, candidate)
	if err != nil {
		return IterationResult{}, ferrors.Wrap(ferrors.CodeValidationError, "candidate validation failed", err)
	}

	weights := o.opts.WeightsFor(canonical.Kind)
	candidateFitness := Score(weights, o.opts.Norms, metrics)
	canonicalFitness := fitnessOf(canonical)

	result := IterationResult{CandidateFitness: candidateFitness, CanonicalFitness: canonicalFitness}

	if candidateFitness-canonicalFitness < o.opts.FitnessImprovementThreshold {
		o.logger.Info(ctx, "optimizer: no improvement, stopping", "cluster_id", cluster.ClusterID,
			"candidate_fitness", candidateFitness, "canonical_fitness", canonicalFitness)
		return result, nil
	}

	newID, archived, err := o.promote(ctx, cluster, canonical, candidate, candidateFitness, alternates, deltas)
	if err != nil {
		return result, err
	}
	result.Promoted = true
	result.NewCanonicalID = newID
	result.ArchivedIDs = archived
	return result, nil
}

func (o *Optimizer) loadAlternates(ctx context.Context, cluster *Cluster) ([]memory.Artifact, error) {
	alternates := make([]memory.Artifact, 0, len(cluster.AlternateArtifactIDs))
	for _, id := range cluster.AlternateArtifactIDs {
		a, err := o.mem.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		alternates = append(alternates, a)
	}
	return alternates, nil
}

// promote stores candidate as the new canonical, archives the old canonical
// into lineage, archives any alternate whose fitness trails the new
// canonical by more than 0.1, and records learned_patterns (spec §4.8 step 5).
func (o *Optimizer) promote(ctx context.Context, cluster *Cluster, canonical, candidate memory.Artifact, candidateFitness float64, alternates []memory.Artifact, deltas []Delta) (string, []string, error) {
	candidate.Status = memory.StatusCanonical
	newID, err := o.mem.Store(ctx, candidate)
	if err != nil {
		return "", nil, err
	}
	archived := []string{canonical.ArtifactID}

	for _, alt := range alternates {
		altFitness := fitnessOf(alt)
		if altFitness < candidateFitness-0.1 {
			if err := o.mem.Archive(ctx, alt.ArtifactID); err != nil {
				return newID, archived, err
			}
			archived = append(archived, alt.ArtifactID)
			cluster.removeAlternate(alt.ArtifactID)
		}
	}

	cluster.CanonicalArtifactID = newID
	cluster.AlternateArtifactIDs = append(cluster.AlternateArtifactIDs, canonical.ArtifactID)

	for _, d := range deltas {
		cluster.recordPattern(string(candidate.Kind), LearnedPattern{
			ImprovementDelta: candidateFitness - fitnessOf(canonical),
			Description:      d.Description,
			SourceClusterID:  d.SourceClusterID,
		})
	}

	return newID, archived, nil
}

// fitnessOf reads a previously recorded fitness score off an artifact's
// optimization weights, falling back to its quality score when none exist.
func fitnessOf(a memory.Artifact) float64 {
	best := 0.0
	for _, w := range a.OptimizationWeights {
		if w.Fitness > best {
			best = w.Fitness
		}
	}
	if best == 0 {
		return a.QualityScore
	}
	return best
}

// topFitnessDeltas orders deltas by their source alternate's fitness,
// descending, for the best_of_breed strategy (spec §4.8: "merge features
// from the highest-fitness alternates").
func topFitnessDeltas(alternates []memory.Artifact, deltas []Delta) []Delta {
	type scored struct {
		delta   Delta
		fitness float64
	}
	paired := make([]scored, len(deltas))
	for i, alt := range alternates {
		paired[i] = scored{delta: deltas[i], fitness: fitnessOf(alt)}
	}
	sort.Slice(paired, func(i, j int) bool { return paired[i].fitness > paired[j].fitness })
	out := make([]Delta, len(paired))
	for i, p := range paired {
		out[i] = p.delta
	}
	return out
}
