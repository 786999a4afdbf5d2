// Package config implements the layered configuration resolver (spec §4.1).
// It loads a YAML base file, applies environment-variable overrides and
// ${NAME}/${NAME:-default} substitution, and exposes role-to-backend
// resolution used by the Backend Router (internal/modelrouter).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/scottgal/flowforge/internal/ferrors"
	"gopkg.in/yaml.v3"
)

// Backend names recognized by the router.
const (
	BackendOllama      = "ollama"
	BackendAnthropic   = "anthropic"
	BackendOpenAI      = "openai"
	BackendAzureOpenAI = "azure_openai"
	BackendLMStudio    = "lm_studio"
)

// Role names recognized by the resolver.
const (
	RoleOverseer   = "overseer"
	RoleGenerator  = "generator"
	RoleEvaluator  = "evaluator"
	RoleTriage     = "triage"
	RoleEscalation = "escalation"
)

type (
	// ModelKeyConfig describes a single addressable model.
	ModelKeyConfig struct {
		Backend      string            `yaml:"backend"`
		ModelName    string            `yaml:"model_name"`
		CostTier     string            `yaml:"cost_tier,omitempty"`
		FallbackTiers []string         `yaml:"fallback_tiers,omitempty"`
		BudgetUSD    float64           `yaml:"budget_usd,omitempty"`
		Extra        map[string]string `yaml:"extra,omitempty"`
	}

	// RoleConfig maps a logical role to a default model key and an ordered
	// list of escalation model keys.
	RoleConfig struct {
		Default    string   `yaml:"default"`
		Escalation []string `yaml:"escalation,omitempty"`
	}

	// Config is the root configuration tree loaded from file + environment.
	Config struct {
		Embedding struct {
			ModelKey  string `yaml:"model_key"`
			Dimension int    `yaml:"dimension"`
		} `yaml:"embedding"`

		ModelKeys map[string]ModelKeyConfig `yaml:"model_keys"`
		Roles     map[string]RoleConfig     `yaml:"roles"`

		// LevelDefaults maps a coarse capability level (e.g. "fast", "deep")
		// to a model key, used as a fallback when a role has no explicit
		// mapping for that level.
		LevelDefaults map[string]string `yaml:"level_defaults,omitempty"`

		Memory struct {
			VectorBackendURL string `yaml:"vector_backend_url"`
			MongoURI         string `yaml:"mongo_uri"`
			RankWeights      struct {
				Usage     float64 `yaml:"usage"`
				Similarity float64 `yaml:"similarity"`
				Quality   float64 `yaml:"quality"`
			} `yaml:"rank_weights"`
		} `yaml:"memory"`

		Scheduler struct {
			Workers              int `yaml:"workers"`
			MaxQueueSize         int `yaml:"max_queue_size"`
			BackgroundThrottleMS int `yaml:"background_throttle_ms"`
			SettleDelayMS        int `yaml:"settle_delay_ms"`
			MonitorIntervalSec   int `yaml:"monitor_interval_sec"`
		} `yaml:"scheduler"`

		Interceptors struct {
			ExceptionCaptureEnabled bool    `yaml:"exception_capture_enabled"`
			PerfCaptureEnabled      bool    `yaml:"perf_capture_enabled"`
			WindowSize              int     `yaml:"window_size"`
			MinSamples              int     `yaml:"min_samples"`
			VarianceThreshold       float64 `yaml:"variance_threshold"`
			BufferDurationSec       int     `yaml:"buffer_duration_sec"`
		} `yaml:"interceptors"`

		TrustedPackagesPath string `yaml:"trusted_packages_path"`
	}
)

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// substituteEnv replaces ${NAME} and ${NAME:-default} placeholders in s with
// the corresponding environment variable value, or the default when the
// variable is unset or empty.
func substituteEnv(s string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPlaceholder.FindStringSubmatch(match)
		name, def := groups[1], ""
		if len(groups[2]) > 2 {
			def = groups[2][2:]
		}
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	})
}

func substituteTree(raw []byte) []byte {
	return []byte(substituteEnv(string(raw)))
}

// Load reads a YAML configuration file from path, applies environment
// variable substitution, and overlays BACKEND_FOR_ROLE_* environment
// overrides onto the resulting Roles map.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = substituteTree(raw)

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyRoleEnvOverrides(&cfg)
	return &cfg, nil
}

// applyRoleEnvOverrides scans the process environment for BACKEND_FOR_ROLE_*
// variables and overrides the corresponding role's default model key.
func applyRoleEnvOverrides(cfg *Config) {
	const prefix = "BACKEND_FOR_ROLE_"
	if cfg.Roles == nil {
		cfg.Roles = map[string]RoleConfig{}
	}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		role := strings.ToLower(strings.TrimPrefix(name, prefix))
		rc := cfg.Roles[role]
		rc.Default = value
		cfg.Roles[role] = rc
	}
}

// ResolveModel resolves a (role, level) pair to a model key: the role's
// declared default takes precedence, falling back to the level-default map
// when the role has no explicit mapping.
func (c *Config) ResolveModel(role, level string) (string, error) {
	rc, ok := c.Roles[role]
	if ok && rc.Default != "" {
		return rc.Default, nil
	}
	if key, ok := c.LevelDefaults[level]; ok {
		return key, nil
	}
	return "", ferrors.New(ferrors.CodeUnknownRole, fmt.Sprintf("no model key configured for role %q at level %q", role, level))
}

// BackendOf resolves a model key to its configured backend name.
func (c *Config) BackendOf(modelKey string) (string, error) {
	mk, ok := c.ModelKeys[modelKey]
	if !ok {
		return "", ferrors.New(ferrors.CodeUnknownModelKey, fmt.Sprintf("unknown model key %q", modelKey))
	}
	if mk.Backend == "" {
		return "", ferrors.New(ferrors.CodeMissingBackend, fmt.Sprintf("model key %q has no backend", modelKey))
	}
	return mk.Backend, nil
}

// RoleModel resolves a role to both its model key and underlying model name.
func (c *Config) RoleModel(role string) (modelKey, modelName string, err error) {
	rc, ok := c.Roles[role]
	if !ok || rc.Default == "" {
		return "", "", ferrors.New(ferrors.CodeUnknownRole, fmt.Sprintf("unknown role %q", role))
	}
	mk, ok := c.ModelKeys[rc.Default]
	if !ok {
		return "", "", ferrors.New(ferrors.CodeUnknownModelKey, fmt.Sprintf("role %q references unknown model key %q", role, rc.Default))
	}
	return rc.Default, mk.ModelName, nil
}

// EscalationChain returns the ordered list of model keys to try after role's
// default model key fails, as configured under Roles[role].Escalation.
func (c *Config) EscalationChain(role string) []string {
	rc, ok := c.Roles[role]
	if !ok {
		return nil
	}
	return rc.Escalation
}

// FallbackTiers returns the ordered fallback model keys configured for
// modelKey, used by the Backend Router when a tier fails or its budget is
// exhausted.
func (c *Config) FallbackTiers(modelKey string) []string {
	mk, ok := c.ModelKeys[modelKey]
	if !ok {
		return nil
	}
	return mk.FallbackTiers
}
