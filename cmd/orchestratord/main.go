// Command orchestratord is the process entrypoint for the workflow and
// tool orchestration engine: it loads configuration, wires the C1-C12
// components together, and exposes operator commands to run the
// background scheduler or drive a single request through the
// Orchestrator. The interactive chat front-end and CLI command parsing
// that sit in front of this process are out of scope (spec §1); this
// binary only provides the operational surface a production deployment
// needs on top of the library packages under internal/.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scottgal/flowforge/internal/allowlist"
	"github.com/scottgal/flowforge/internal/config"
	"github.com/scottgal/flowforge/internal/embedding"
	"github.com/scottgal/flowforge/internal/executor"
	"github.com/scottgal/flowforge/internal/interceptor"
	"github.com/scottgal/flowforge/internal/memory"
	"github.com/scottgal/flowforge/internal/modelrouter"
	"github.com/scottgal/flowforge/internal/orchestrator"
	"github.com/scottgal/flowforge/internal/reuse"
	"github.com/scottgal/flowforge/internal/scheduler"
	"github.com/scottgal/flowforge/internal/telemetry"
	"github.com/scottgal/flowforge/internal/toolregistry"
	"github.com/scottgal/flowforge/internal/workflow"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Workflow and tool orchestration engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the layered configuration file")

	root.AddCommand(serveCmd(), runCmd(), validateCmd(), listToolsCmd())

	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// components bundles every constructed collaborator so each subcommand can
// wire only what it needs without repeating the construction sequence.
type components struct {
	cfg      *config.Config
	logger   telemetry.Logger
	tracer   telemetry.Tracer
	metrics  telemetry.Metrics
	mem      *memory.Memory
	router   *modelrouter.Router
	registry *toolregistry.Registry
	exec     *executor.Executor
	reuse    *reuse.Layer
	sched    *scheduler.Scheduler
	allow    *allowlist.Allowlist
	orch     *orchestrator.Orchestrator
}

func build(ctx context.Context) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()
	metrics := telemetry.NewClueMetrics()

	var embedder memory.Embedder
	if cfg.Embedding.ModelKey != "" {
		dim := cfg.Embedding.Dimension
		if dim <= 0 {
			dim = 768
		}
		embedder = embedding.NewLocalFallbackEmbedder(dim)
	} else {
		embedder = embedding.NewLocalFallbackEmbedder(768)
	}

	store := memory.NewInMemoryStore()
	vector := memory.NewInMemoryVectorIndex()
	mem := memory.New(store, vector, embedder,
		memory.WithLogger(logger),
		memory.WithRankWeights(memory.RankWeights{
			Usage:      valueOr(cfg.Memory.RankWeights.Usage, 10),
			Similarity: valueOr(cfg.Memory.RankWeights.Similarity, 1),
			Quality:    valueOr(cfg.Memory.RankWeights.Quality, 0.1),
		}),
	)

	backends := buildBackends(cfg)
	router := modelrouter.New(cfg, backends, modelrouter.WithLogger(logger), modelrouter.WithTracer(tracer))

	registry := toolregistry.New(mem, toolregistry.WithLogger(logger))
	registry.RegisterInvoker(toolregistry.KindLanguageModel, &toolregistry.LanguageModelInvoker{Router: router})
	registry.RegisterInvoker(toolregistry.KindExecutable, &toolregistry.ExecutableInvoker{})
	registry.RegisterInvoker(toolregistry.KindCustomCode, toolregistry.NewCustomCodeInvoker())

	chain := interceptor.NewBuiltinChain(interceptor.BuiltinConfig{
		ExceptionCaptureEnabled: cfg.Interceptors.ExceptionCaptureEnabled,
		ExceptionCacheSize:      256,
		PerfCaptureEnabled:      cfg.Interceptors.PerfCaptureEnabled,
		WindowSize:              valueOrInt(cfg.Interceptors.WindowSize, 100),
		MinSamples:              valueOrInt(cfg.Interceptors.MinSamples, 10),
		VarianceThreshold:       valueOr(cfg.Interceptors.VarianceThreshold, 0.2),
		BufferDuration:          time.Duration(valueOrInt(cfg.Interceptors.BufferDurationSec, 30)) * time.Second,
	}, logger)

	var allow *allowlist.Allowlist
	if cfg.TrustedPackagesPath != "" {
		allow, err = allowlist.Load(cfg.TrustedPackagesPath)
		if err != nil {
			return nil, fmt.Errorf("load allowlist: %w", err)
		}
	}

	exec := executor.New(registry, executor.WithChain(chain), executor.WithAllowlist(allow), executor.WithLogger(logger))
	registry.RegisterInvoker(toolregistry.KindWorkflow, &toolregistry.WorkflowInvoker{Runner: exec})

	if err := <-registry.DiscoverFiles(ctx, "tools"); err != nil {
		logger.Warn(ctx, "orchestratord: tool spec discovery failed", "error", err.Error())
	}

	sched := scheduler.New(scheduler.Options{
		Workers:               valueOrInt(cfg.Scheduler.Workers, 2),
		MaxQueueSize:          valueOrInt(cfg.Scheduler.MaxQueueSize, 1000),
		BackgroundSettleDelay: time.Duration(valueOrInt(cfg.Scheduler.SettleDelayMS, 5000)) * time.Millisecond,
		BackgroundThrottle:    time.Duration(valueOrInt(cfg.Scheduler.BackgroundThrottleMS, 250)) * time.Millisecond,
	}, scheduler.WithLogger(logger))

	reuseLayer := reuse.New(mem)

	orch := orchestrator.New(mem, reuseLayer, router, registry, exec, cfg,
		orchestrator.WithLogger(logger),
		orchestrator.WithScheduler(sched),
	)

	return &components{
		cfg: cfg, logger: logger, tracer: tracer, metrics: metrics,
		mem: mem, router: router, registry: registry, exec: exec,
		reuse: reuseLayer, sched: sched, allow: allow, orch: orch,
	}, nil
}

// buildWithSpinner wraps build with a terminal spinner: construction touches
// config files, the trusted-package allowlist, and the tools/ directory on
// disk, which on a cold cache or a slow filesystem is enough to be worth
// operator feedback.
func buildWithSpinner(ctx context.Context, message string) (*components, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	defer s.Stop()
	return build(ctx)
}

func valueOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func valueOrInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// buildBackends constructs one modelrouter.Client per backend family that
// has credentials available in the process environment. A backend whose
// credentials are absent is simply omitted; Generate then fails with
// UnroutableModel for any model_key that resolves to it, per spec §4.2.
func buildBackends(cfg *config.Config) map[string]modelrouter.Client {
	backends := map[string]modelrouter.Client{}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if c, err := modelrouter.NewAnthropicClientFromAPIKey(key); err == nil {
			backends[config.BackendAnthropic] = c
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c, err := modelrouter.NewOpenAIClientFromAPIKey(key, os.Getenv("OPENAI_BASE_URL")); err == nil {
			backends[config.BackendOpenAI] = c
		}
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		backends[config.BackendOllama] = modelrouter.NewHTTPChatClient(url)
	}
	if url := os.Getenv("LM_STUDIO_BASE_URL"); url != "" {
		backends[config.BackendLMStudio] = modelrouter.NewHTTPChatClient(url)
	}
	// azure_openai/bedrock's AWS client needs a credential-resolved
	// aws.Config, which requires the aws-sdk-go-v2/config submodule; that
	// submodule is not part of the pack's attested dependency set, so
	// production Bedrock wiring is left to a deployment-specific
	// constructor calling modelrouter.NewBedrockClient directly.
	return backends
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background task scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c, err := buildWithSpinner(ctx, "wiring components")
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			green.Println("orchestratord: scheduler starting")
			done := make(chan struct{})
			go func() {
				c.sched.Run(ctx)
				close(done)
			}()

			<-ctx.Done()
			color.New(color.FgYellow).Println("orchestratord: draining, waiting for in-flight steps")
			<-done
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var inputsJSON string
	cmd := &cobra.Command{
		Use:   "run [request text]",
		Short: "Orchestrate a single natural-language request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build(cmd.Context())
			if err != nil {
				return err
			}

			inputs := map[string]any{}
			if inputsJSON != "" {
				if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
					return fmt.Errorf("parse --inputs: %w", err)
				}
			}

			resp, err := c.orch.Orchestrate(cmd.Context(), orchestrator.Request{Text: args[0], Inputs: inputs})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&inputsJSON, "inputs", "", "JSON object of workflow inputs")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflow.json]",
		Short: "Validate a workflow spec file against the trusted package allowlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			spec, err := workflow.Parse(raw)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			var allow *allowlist.Allowlist
			if cfg.TrustedPackagesPath != "" {
				allow, err = allowlist.Load(cfg.TrustedPackagesPath)
				if err != nil {
					return err
				}
			}
			var checker workflow.AllowlistChecker
			if allow != nil {
				checker = allow
			}
			if err := workflow.Validate(spec, checker); err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("%s: valid\n", spec.WorkflowID)
			return nil
		},
	}
}

func listToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List every tool currently registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildWithSpinner(cmd.Context(), "discovering tools")
			if err != nil {
				return err
			}
			for _, t := range c.registry.List() {
				fmt.Printf("%-30s %-16s v%s\n", t.Name, t.Kind, t.Version)
			}
			return nil
		},
	}
}
