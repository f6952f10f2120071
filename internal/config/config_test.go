package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-trader/internal/models"
)

func TestLoadWritesTemplatesOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, "paper", cfg.Trading.Mode)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 2, cfg.Execution.Retries)
	assert.Equal(t, "best_effort", cfg.Registry.FallbackStrategy)
	assert.InDelta(t, 0.6, cfg.Classifier.ComplexThreshold, 1e-9)
	assert.Len(t, cfg.Models.Tiers, 3)
	assert.InDelta(t, 190.0, cfg.Trading.Quotes["aapl"], 1e-9)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[trading]
mode = "paper"
max_position_size = 2500.0

[timeouts]
trade_execution = "2s"

[execution]
retries = 4

[[models.tiers]]
name = "local-small"
cost_in = 0.0
cost_out = 0.0
latency_ms = 100
complexity = "simple"
recommended = true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.InDelta(t, 2500.0, cfg.Trading.MaxPositionSize, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.TradeExecution)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.IntentParsing, "unset values keep defaults")
	assert.Equal(t, 4, cfg.Execution.Retries)
	require.Len(t, cfg.Models.Tiers, 1)
	assert.Equal(t, "local-small", cfg.Models.Tiers[0].Name)
	assert.Equal(t, models.ComplexitySimple, cfg.Models.Tiers[0].Complexity)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TRADER_MODE", "live")
	t.Setenv("RESOLVER_ENDPOINT", "http://localhost:9000")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Credentials.OpenAI.APIKey)
	assert.Equal(t, "live", cfg.Trading.Mode)
	assert.Equal(t, "http://localhost:9000", cfg.Resolver.Endpoint)
	assert.False(t, cfg.IsPaperMode())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Trading.Mode = "demo" }},
		{"negative retries", func(c *Config) { c.Execution.Retries = -1 }},
		{"zero timeout", func(c *Config) { c.Timeouts.TradeValidation = 0 }},
		{"bad fallback", func(c *Config) { c.Registry.FallbackStrategy = "guess" }},
		{"default without plugin", func(c *Config) {
			c.Registry.FallbackStrategy = "default"
			c.Registry.DefaultPlugin = ""
		}},
		{"similarity out of range", func(c *Config) { c.Cache.SimilarityThreshold = 1.5 }},
		{"http without endpoint", func(c *Config) { c.Resolver.Provider = "http" }},
		{"no tiers", func(c *Config) { c.Models.Tiers = nil }},
		{"duplicate tiers", func(c *Config) { c.Models.Tiers = append(c.Models.Tiers, c.Models.Tiers[0]) }},
		{"threshold out of range", func(c *Config) { c.Classifier.SimpleThreshold = 2 }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
