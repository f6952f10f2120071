package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Intent Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Largest single order value
max_position_size = 10000.0
# Total order value allowed per day
max_daily_spending = 50000.0
# Starting cash for the paper account
initial_cash = 100000.0
# Kite exchange and product used in live mode
exchange = "NSE"
product = "CNC"

# Paper mode price table
[trading.quotes]
AAPL = 190.0
MSFT = 420.0
TSLA = 250.0
NVDA = 120.0
LULU = 300.0

[timeouts]
intent_parsing = "10s"
trade_validation = "5s"
trade_execution = "15s"
health_check = "3s"

[execution]
# Execution is attempted retries + 1 times
retries = 2
# Delay before attempt n is retry_backoff * n
retry_backoff = "500ms"
validation_required = true
# Intents below this confidence are never executed
min_execution_confidence = 0.5
batch_concurrency = 5

[cache]
enabled = true
ttl = "30s"
# Seeded entries; "0s" never expires
warm_ttl = "0s"
sweep_interval = "1m"
similarity_threshold = 0.92
# Only model results at or above this confidence are cached
min_confidence = 0.8
# Embedder: "hash" (local) or "openai"
embedder = "hash"
embedding_model = "text-embedding-3-small"
# Optional YAML file of {text, intent} seed pairs
seed_file = ""

[classifier]
complex_threshold = 0.6
simple_threshold = 0.8
cache_simple_threshold = 0.4
cache_complex_ceiling = 0.4
long_input_words = 10
short_input_words = 6
long_input_bonus = 0.2
multi_verb_bonus = 0.3
conditional_bonus = 0.4
ambiguous_confidence = 0.3

[registry]
# Fallback when no plugin matches: "best_effort" or "default"
fallback_strategy = "best_effort"
default_plugin = "trade"
batch_size = 5

[resolver]
# Provider: "openai", "http" or "none"
provider = "openai"
endpoint = ""
requests_per_second = 2.0
burst = 2
breaker_failures = 5
breaker_cooldown = "30s"
max_tokens = 512

[[models.tiers]]
name = "gpt-4o-mini"
cost_in = 0.00015
cost_out = 0.0006
latency_ms = 800
complexity = "simple"
recommended = false

[[models.tiers]]
name = "gpt-4.1-mini"
cost_in = 0.0004
cost_out = 0.0016
latency_ms = 1500
complexity = "medium"
recommended = true

[[models.tiers]]
name = "gpt-4o"
cost_in = 0.0025
cost_out = 0.01
latency_ms = 3000
complexity = "complex"
recommended = false

[server]
addr = ":8080"

[logging]
level = "info"
console = true
file = true

[audit]
enabled = true

[store]
enabled = true
`

const credentialsTemplate = `# Intent Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kite]
api_key = ""
api_secret = ""
access_token = ""

[openai]
api_key = ""
base_url = ""

[resolver]
token = ""
`

func createTemplate(configDir, name, template string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(template), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}

	return nil
}

// WriteTemplates writes config.toml and credentials.toml into configDir
// unless they already exist.
func WriteTemplates(configDir string) error {
	for _, f := range []struct {
		name     string
		template string
		perm     os.FileMode
	}{
		{"config", configTemplate, 0644},
		{"credentials", credentialsTemplate, 0600},
	} {
		if _, err := os.Stat(filepath.Join(configDir, f.name+".toml")); err == nil {
			continue
		}
		if err := createTemplate(configDir, f.name, f.template, f.perm); err != nil {
			return err
		}
	}
	return nil
}
