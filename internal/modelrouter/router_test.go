package modelrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scottgal/flowforge/internal/config"
	"github.com/scottgal/flowforge/internal/ferrors"
)

type fakeClient struct {
	calls   int
	fail    error
	reply   string
	gotName string
}

func (f *fakeClient) Generate(_ context.Context, modelName, _ string, _ Options) (string, error) {
	f.calls++
	f.gotName = modelName
	if f.fail != nil {
		return "", f.fail
	}
	return f.reply, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ModelKeys: map[string]config.ModelKeyConfig{
			"primary": {
				Backend:       config.BackendAnthropic,
				ModelName:     "claude-sonnet",
				FallbackTiers: []string{"secondary"},
			},
			"secondary": {
				Backend:   config.BackendOllama,
				ModelName: "llama3",
			},
		},
	}
}

func TestRouterDispatchesToConfiguredBackend(t *testing.T) {
	cfg := testConfig()
	anthropic := &fakeClient{reply: "hello from claude"}
	router := New(cfg, map[string]Client{
		config.BackendAnthropic: anthropic,
		config.BackendOllama:    &fakeClient{},
	})

	out, err := router.Generate(context.Background(), "primary", "hi", Options{})
	require.NoError(t, err)
	require.Equal(t, "hello from claude", out)
	require.Equal(t, "claude-sonnet", anthropic.gotName)
	require.Equal(t, 1, anthropic.calls)
}

func TestRouterFallsBackOnTierFailure(t *testing.T) {
	cfg := testConfig()
	ollama := &fakeClient{reply: "hello from llama"}
	router := New(cfg, map[string]Client{
		config.BackendAnthropic: &fakeClient{fail: ferrors.New(ferrors.CodeBackendUnavailable, "down")},
		config.BackendOllama:    ollama,
	})

	out, err := router.Generate(context.Background(), "primary", "hi", Options{})
	require.NoError(t, err)
	require.Equal(t, "hello from llama", out)
	require.Equal(t, 1, ollama.calls)
}

func TestRouterUnknownModelKey(t *testing.T) {
	cfg := testConfig()
	router := New(cfg, map[string]Client{})

	_, err := router.Generate(context.Background(), "nonexistent", "hi", Options{})
	require.Error(t, err)
	code, ok := ferrors.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, ferrors.CodeUnknownModelKey, code)
}

func TestRouterBudgetExceeded(t *testing.T) {
	cfg := testConfig()
	mk := cfg.ModelKeys["primary"]
	mk.BudgetUSD = 1.0
	cfg.ModelKeys["primary"] = mk

	router := New(cfg, map[string]Client{
		config.BackendAnthropic: &fakeClient{reply: "ok"},
		config.BackendOllama:    &fakeClient{reply: "ok"},
	}, WithCostEstimator(func(string, string) float64 { return 2.0 }))

	_, err := router.Generate(context.Background(), "primary", "hi", Options{})
	require.NoError(t, err) // falls back to secondary, which has no budget configured
}

func TestRouterRetriesBeforeFailing(t *testing.T) {
	cfg := testConfig()
	flaky := &fakeClient{fail: ferrors.New(ferrors.CodeBackendUnavailable, "flaky")}
	router := New(cfg, map[string]Client{
		config.BackendAnthropic: flaky,
		config.BackendOllama:    &fakeClient{fail: ferrors.New(ferrors.CodeBackendUnavailable, "also down")},
	})

	_, err := router.Generate(context.Background(), "primary", "hi", Options{MaxRetries: 2})
	require.Error(t, err)
	require.Equal(t, 3, flaky.calls)
}
