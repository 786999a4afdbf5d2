// Package modelrouter implements the Backend Router (spec §4.2): it
// dispatches a text-generation request to the model backend declared by the
// request's model_key metadata, walking fallback tiers and enforcing
// per-tier cost budgets.
package modelrouter

import (
	"context"
	"fmt"
	"time"

	"github.com/scottgal/flowforge/internal/config"
	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/telemetry"
)

// Options carries generation parameters threaded through to the backend
// client, including the retry/fallback policy (spec §4.2).
type Options struct {
	Temperature   float64
	MaxTokens     int
	TopP          float64
	TimeoutSecond int
	MaxRetries    int
}

// Client is implemented by every backend-specific adapter (anthropic,
// openai, bedrock, ollama, lm_studio).
type Client interface {
	Generate(ctx context.Context, modelName, prompt string, opts Options) (string, error)
}

// Budget tracks cumulative spend for a model key so the router can switch
// to a cheaper fallback tier once exhausted (spec §4.2).
type Budget struct {
	LimitUSD float64
	spentUSD float64
}

// Spend records cost and reports whether the budget remains available.
func (b *Budget) Spend(costUSD float64) bool {
	b.spentUSD += costUSD
	return b.LimitUSD <= 0 || b.spentUSD <= b.LimitUSD
}

// CostEstimator estimates the USD cost of a generation call, used to decide
// whether a tier's budget would be exhausted before attempting it.
type CostEstimator func(modelKey, prompt string) float64

// Router dispatches generate calls to the backend registered for a model
// key's configured backend name (spec §4.2: "must not infer backend from
// model name").
type Router struct {
	cfg       *config.Config
	backends  map[string]Client
	budgets   map[string]*Budget
	estimator CostEstimator
	logger    telemetry.Logger
	tracer    telemetry.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithLogger attaches a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Router) { r.logger = l } }

// WithTracer attaches a tracer.
func WithTracer(t telemetry.Tracer) Option { return func(r *Router) { r.tracer = t } }

// WithCostEstimator overrides the default zero-cost estimator.
func WithCostEstimator(fn CostEstimator) Option { return func(r *Router) { r.estimator = fn } }

// WithBudget declares a cumulative USD budget for modelKey.
func WithBudget(modelKey string, limitUSD float64) Option {
	return func(r *Router) { r.budgets[modelKey] = &Budget{LimitUSD: limitUSD} }
}

// New constructs a Router over cfg, registering one Client per backend name.
func New(cfg *config.Config, backends map[string]Client, opts ...Option) *Router {
	r := &Router{
		cfg:       cfg,
		backends:  backends,
		budgets:   map[string]*Budget{},
		estimator: func(string, string) float64 { return 0 },
		logger:    telemetry.NewNoopLogger(),
		tracer:    telemetry.NewNoopTracer(),
	}
	for key, mk := range cfg.ModelKeys {
		if mk.BudgetUSD > 0 {
			r.budgets[key] = &Budget{LimitUSD: mk.BudgetUSD}
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate routes a single generation request (spec §4.2). It looks up
// modelKey's backend in configuration, invokes that backend's client, and
// on failure walks the configured fallback tiers in order.
func (r *Router) Generate(ctx context.Context, modelKey, prompt string, opts Options) (string, error) {
	ctx, span := r.tracer.Start(ctx, "modelrouter.Generate")
	defer span.End()

	tiers := append([]string{modelKey}, r.cfg.FallbackTiers(modelKey)...)
	var lastErr error
	for _, tier := range tiers {
		text, err := r.generateTier(ctx, tier, prompt, opts)
		if err == nil {
			return text, nil
		}
		lastErr = err
		r.logger.Warn(ctx, "modelrouter: tier failed, trying fallback", "model_key", tier, "error", err.Error())
	}
	if lastErr == nil {
		lastErr = ferrors.New(ferrors.CodeUnroutableModel, fmt.Sprintf("no model key configured: %q", modelKey))
	}
	return "", lastErr
}

func (r *Router) generateTier(ctx context.Context, modelKey, prompt string, opts Options) (string, error) {
	backendName, err := r.cfg.BackendOf(modelKey)
	if err != nil {
		return "", err
	}
	client, ok := r.backends[backendName]
	if !ok {
		return "", ferrors.New(ferrors.CodeUnroutableModel, fmt.Sprintf("no client registered for backend %q", backendName))
	}

	if budget, ok := r.budgets[modelKey]; ok {
		cost := r.estimator(modelKey, prompt)
		if !budget.Spend(cost) {
			return "", ferrors.New(ferrors.CodeBudgetExceeded, fmt.Sprintf("model key %q exceeded its budget", modelKey))
		}
	}

	mk, ok := r.cfg.ModelKeys[modelKey]
	if !ok {
		// Unreachable in practice: BackendOf already validated modelKey exists.
		return "", ferrors.New(ferrors.CodeUnknownModelKey, modelKey)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutSecond > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSecond)*time.Second)
		defer cancel()
	}

	var text string
	var genErr error
	attempts := opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		text, genErr = client.Generate(callCtx, mk.ModelName, prompt, opts)
		if genErr == nil {
			return text, nil
		}
		if attempt < attempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-callCtx.Done():
				return "", callCtx.Err()
			}
		}
	}
	return "", ferrors.Wrap(ferrors.CodeBackendUnavailable, fmt.Sprintf("backend %q exhausted retries", backendName), genErr)
}
