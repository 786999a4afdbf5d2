package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
embedding:
  model_key: embed-small
  dimension: 768
model_keys:
  claude-fast:
    backend: anthropic
    model_name: claude-3-5-haiku
    fallback_tiers: ["claude-cheap"]
  claude-cheap:
    backend: anthropic
    model_name: claude-3-haiku
  gpt-deep:
    backend: openai
    model_name: gpt-4.1
roles:
  overseer:
    default: claude-fast
    escalation: ["gpt-deep"]
level_defaults:
  fast: claude-fast
memory:
  vector_backend_url: ${VECTOR_BACKEND_URL:-redis://localhost:6379}
scheduler:
  workers: 2
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadResolvesRolesAndEnv(t *testing.T) {
	path := writeTemp(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "redis://localhost:6379", cfg.Memory.VectorBackendURL)

	modelKey, err := cfg.ResolveModel(RoleOverseer, "fast")
	require.NoError(t, err)
	require.Equal(t, "claude-fast", modelKey)

	backend, err := cfg.BackendOf(modelKey)
	require.NoError(t, err)
	require.Equal(t, BackendAnthropic, backend)

	require.Equal(t, []string{"gpt-deep"}, cfg.EscalationChain(RoleOverseer))
	require.Equal(t, []string{"claude-cheap"}, cfg.FallbackTiers("claude-fast"))
}

func TestResolveModelFallsBackToLevelDefault(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	key, err := cfg.ResolveModel("unknown-role", "fast")
	require.NoError(t, err)
	require.Equal(t, "claude-fast", key)
}

func TestResolveModelUnknownRoleAndLevel(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	_, err = cfg.ResolveModel("unknown-role", "unknown-level")
	require.Error(t, err)
}

func TestBackendOfUnknownModelKey(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	_, err = cfg.BackendOf("does-not-exist")
	require.Error(t, err)
}

func TestEnvOverrideForRole(t *testing.T) {
	t.Setenv("BACKEND_FOR_ROLE_OVERSEER", "gpt-deep")
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	key, err := cfg.ResolveModel(RoleOverseer, "fast")
	require.NoError(t, err)
	require.Equal(t, "gpt-deep", key)
}
