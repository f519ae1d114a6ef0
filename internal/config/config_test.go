package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		configPathEnv, databasePathEnv, telegramTokenEnv, telegramChatIDEnv, runLabelEnv,
		thresholdEnv, maxItemsEnv, logLevelEnv, serverAPIKeyEnv,
		openAIAPIKeyEnv, geminiAPIKeyEnv, googleAPIKeyEnv, anthropicAPIKeyEnv,
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Analysis.MaxItems)
	assert.Equal(t, "local", cfg.Analysis.RunLabel)
	assert.Equal(t, 2, cfg.Fallback.RateLimitRetries)
	assert.Equal(t, []string{"gemini", "openai", "local"}, cfg.Chain)
	assert.Equal(t, "UTC", cfg.Scheduler.Location().String())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.yaml", `
analysis:
  threshold: 2.5
  maxItems: 5
fallback:
  rateLimitRetries: 3
  baseDelay: 2s
  maxDelay: 20s
  workers: 2
engines:
  - id: fast
    kind: openai
    endpoint: https://llm.example.org/v1/chat/completions
    requestsPerMinute: 30
    timeout: 10s
  - id: box
    kind: local
chain: [fast, box]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, cfg.Analysis.Threshold, 1e-9)
	assert.Equal(t, 5, cfg.Analysis.MaxItems)
	assert.Equal(t, 500, cfg.Analysis.SummaryLimit, "unset fields keep defaults")
	assert.Equal(t, 3, cfg.Fallback.RateLimitRetries)
	assert.Equal(t, 2*time.Second, cfg.Fallback.BaseDelay.D())
	assert.Equal(t, 2, cfg.Fallback.Workers)
	require.Len(t, cfg.Engines, 2)
	assert.Equal(t, 10*time.Second, cfg.Engines[0].Timeout.D())
	assert.Equal(t, 2*time.Second, cfg.Engines[0].Interval())
	assert.Equal(t, time.Duration(0), cfg.Engines[1].Interval())
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.toml", `
chain = ["claude"]

[analysis]
threshold = 4.0

[[engines]]
id = "claude"
kind = "claude"
model = "claude-sonnet-4-5"
timeout = "15s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 4.0, cfg.Analysis.Threshold, 1e-9)
	require.Len(t, cfg.Engines, 1)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Engines[0].Model)
	assert.Equal(t, 15*time.Second, cfg.Engines[0].Timeout.D())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(openAIAPIKeyEnv, "sk-openai")
	t.Setenv(googleAPIKeyEnv, "g-key")
	t.Setenv(telegramTokenEnv, "bot-token")
	t.Setenv(telegramChatIDEnv, "42")
	t.Setenv(runLabelEnv, "118")
	t.Setenv(thresholdEnv, "3.5")
	t.Setenv(maxItemsEnv, "7")

	cfg, err := Load("")
	require.NoError(t, err)

	byID := map[string]EngineConfig{}
	for _, eng := range cfg.Engines {
		byID[eng.ID] = eng
	}
	assert.Equal(t, "sk-openai", byID["openai"].APIKey)
	assert.Equal(t, "g-key", byID["gemini"].APIKey, "GOOGLE_API_KEY is the gemini fallback")
	assert.Empty(t, byID["local"].APIKey)
	assert.True(t, cfg.Notifications.Telegram.Enabled())
	assert.Equal(t, "118", cfg.Analysis.RunLabel)
	assert.InDelta(t, 3.5, cfg.Analysis.Threshold, 1e-9)
	assert.Equal(t, 7, cfg.Analysis.MaxItems)
}

func TestLoadRejectsBadThresholdEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(thresholdEnv, "high")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateChain(t *testing.T) {
	clearEnv(t)

	t.Run("no engines", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "engines: []\n")
		_, err := Load(path)
		require.ErrorIs(t, err, ErrNoEngines)
	})

	t.Run("unknown chain id", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "chain: [gemini, mystery]\n")
		_, err := Load(path)
		require.ErrorIs(t, err, ErrUnknownEngine)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "analysis:\n  threshold: 11\n")
		_, err := Load(path)
		require.Error(t, err)
	})
}

func TestChainEnginesKeepsChainOrder(t *testing.T) {
	cfg := defaultConfig()
	cfg.Chain = []string{"local", "gemini", "openai"}
	cfg.Fallback.MaxDepth = 1

	// depth is applied after unconfigured engines are skipped
	chain := cfg.ChainEngines()
	require.Len(t, chain, 3)
	assert.Equal(t, "local", chain[0].ID)
	assert.Equal(t, "gemini", chain[1].ID)
	assert.Equal(t, "openai", chain[2].ID)

	cfg.Chain = nil
	assert.Len(t, cfg.ChainEngines(), len(cfg.Engines))
}

func TestValidateRequiresPositiveMaxDelay(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "c.yaml", "fallback:\n  baseDelay: 0s\n  maxDelay: 0s\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxDelay")
}
