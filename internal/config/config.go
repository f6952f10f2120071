// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"intent-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig    `mapstructure:"trading"`
	Timeouts    TimeoutConfig    `mapstructure:"timeouts"`
	Execution   ExecutionConfig  `mapstructure:"execution"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Classifier  ClassifierConfig `mapstructure:"classifier"`
	Registry    RegistryConfig   `mapstructure:"registry"`
	Resolver    ResolverConfig   `mapstructure:"resolver"`
	Models      ModelsConfig     `mapstructure:"models"`
	Server      ServerConfig     `mapstructure:"server"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Audit       AuditConfig      `mapstructure:"audit"`
	Store       StoreConfig      `mapstructure:"store"`
	Credentials Credentials      `mapstructure:"-" json:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode             string             `mapstructure:"mode"` // "live", "paper"
	MaxPositionSize  float64            `mapstructure:"max_position_size"`
	MaxDailySpending float64            `mapstructure:"max_daily_spending"`
	InitialCash      float64            `mapstructure:"initial_cash"`
	FeePerOrder      float64            `mapstructure:"fee_per_order"`
	Exchange         string             `mapstructure:"exchange"`
	Product          string             `mapstructure:"product"`
	Quotes           map[string]float64 `mapstructure:"quotes"` // paper mode price table
	InstrumentTokens map[string]uint32  `mapstructure:"instrument_tokens"`
	StreamQuotes     bool               `mapstructure:"stream_quotes"`
}

// TimeoutConfig holds per-step timeouts.
type TimeoutConfig struct {
	IntentParsing   time.Duration `mapstructure:"intent_parsing"`
	TradeValidation time.Duration `mapstructure:"trade_validation"`
	TradeExecution  time.Duration `mapstructure:"trade_execution"`
	HealthCheck     time.Duration `mapstructure:"health_check"`
}

// ExecutionConfig holds orchestrator execution settings.
type ExecutionConfig struct {
	Retries                int           `mapstructure:"retries"`
	RetryBackoff           time.Duration `mapstructure:"retry_backoff"`
	ValidationRequired     bool          `mapstructure:"validation_required"`
	MinExecutionConfidence float64       `mapstructure:"min_execution_confidence"`
	BatchConcurrency       int           `mapstructure:"batch_concurrency"`
}

// CacheConfig holds resolution cache settings.
type CacheConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	TTL                 time.Duration `mapstructure:"ttl"`
	WarmTTL             time.Duration `mapstructure:"warm_ttl"` // 0 = never expires
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
	Embedder            string        `mapstructure:"embedder"` // hash, openai
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	SeedFile            string        `mapstructure:"seed_file"`
}

// ClassifierConfig holds the classifier's thresholds.
type ClassifierConfig struct {
	ComplexThreshold     float64 `mapstructure:"complex_threshold"`
	SimpleThreshold      float64 `mapstructure:"simple_threshold"`
	CacheSimpleThreshold float64 `mapstructure:"cache_simple_threshold"`
	CacheComplexCeiling  float64 `mapstructure:"cache_complex_ceiling"`
	LongInputWords       int     `mapstructure:"long_input_words"`
	ShortInputWords      int     `mapstructure:"short_input_words"`
	LongInputBonus       float64 `mapstructure:"long_input_bonus"`
	MultiVerbBonus       float64 `mapstructure:"multi_verb_bonus"`
	ConditionalBonus     float64 `mapstructure:"conditional_bonus"`
	AmbiguousConfidence  float64 `mapstructure:"ambiguous_confidence"`
}

// RegistryConfig holds plugin registry settings.
type RegistryConfig struct {
	FallbackStrategy string `mapstructure:"fallback_strategy"` // best_effort, default
	DefaultPlugin    string `mapstructure:"default_plugin"`
	BatchSize        int    `mapstructure:"batch_size"`
}

// ResolverConfig holds language-model resolver settings.
type ResolverConfig struct {
	Provider          string        `mapstructure:"provider"` // openai, http, none
	Endpoint          string        `mapstructure:"endpoint"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BreakerFailures   int           `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
	MaxTokens         int           `mapstructure:"max_tokens"`
}

// ModelsConfig holds the model tier catalog.
type ModelsConfig struct {
	Tiers []models.ModelTier `mapstructure:"tiers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// StoreConfig holds result history settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite     KiteCredentials     `mapstructure:"kite"`
	OpenAI   OpenAICredentials   `mapstructure:"openai"`
	Resolver ResolverCredentials `mapstructure:"resolver"`
}

// KiteCredentials holds Kite Connect credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// ResolverCredentials holds the bearer token for an HTTP resolver.
type ResolverCredentials struct {
	Token string `mapstructure:"token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/intent-trader"
	}
	return filepath.Join(home, ".config", "intent-trader")
}

// DefaultTiers returns the built-in model tier catalog.
func DefaultTiers() []models.ModelTier {
	return []models.ModelTier{
		{Name: "gpt-4o-mini", CostPerKTokenIn: 0.00015, CostPerKTokenOut: 0.0006, LatencyMs: 800, Complexity: models.ComplexitySimple},
		{Name: "gpt-4.1-mini", CostPerKTokenIn: 0.0004, CostPerKTokenOut: 0.0016, LatencyMs: 1500, Complexity: models.ComplexityMedium, Recommended: true},
		{Name: "gpt-4o", CostPerKTokenIn: 0.0025, CostPerKTokenOut: 0.01, LatencyMs: 3000, Complexity: models.ComplexityComplex},
	}
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Trading: TradingConfig{
			Mode:             "paper",
			MaxPositionSize:  10000,
			MaxDailySpending: 50000,
			InitialCash:      100000,
			Exchange:         "NSE",
			Product:          "CNC",
		},
		Timeouts: TimeoutConfig{
			IntentParsing:   10 * time.Second,
			TradeValidation: 5 * time.Second,
			TradeExecution:  15 * time.Second,
			HealthCheck:     3 * time.Second,
		},
		Execution: ExecutionConfig{
			Retries:                2,
			RetryBackoff:           500 * time.Millisecond,
			ValidationRequired:     true,
			MinExecutionConfidence: 0.5,
			BatchConcurrency:       5,
		},
		Cache: CacheConfig{
			Enabled:             true,
			TTL:                 30 * time.Second,
			SweepInterval:       time.Minute,
			SimilarityThreshold: 0.92,
			MinConfidence:       0.8,
			Embedder:            "hash",
			EmbeddingModel:      "text-embedding-3-small",
		},
		Classifier: ClassifierConfig{
			ComplexThreshold:     0.6,
			SimpleThreshold:      0.8,
			CacheSimpleThreshold: 0.4,
			CacheComplexCeiling:  0.4,
			LongInputWords:       10,
			ShortInputWords:      6,
			LongInputBonus:       0.2,
			MultiVerbBonus:       0.3,
			ConditionalBonus:     0.4,
			AmbiguousConfidence:  0.3,
		},
		Registry: RegistryConfig{
			FallbackStrategy: "best_effort",
			DefaultPlugin:    "trade",
			BatchSize:        5,
		},
		Resolver: ResolverConfig{
			Provider:          "openai",
			RequestsPerSecond: 2,
			Burst:             2,
			BreakerFailures:   5,
			BreakerCooldown:   30 * time.Second,
			MaxTokens:         512,
		},
		Models: ModelsConfig{Tiers: DefaultTiers()},
		Server: ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			File:     true,
			FilePath: filepath.Join(dir, "logs", "trader.log"),
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "audit", "audit.log"),
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "history.db"),
		},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
// Missing files are written from templates and then loaded.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()
	cfg.Models.Tiers = nil

	if err := loadConfigFile(configDir, "config", configTemplate, 0644, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if len(cfg.Models.Tiers) == 0 {
		cfg.Models.Tiers = DefaultTiers()
	}

	if err := loadConfigFile(configDir, "credentials", credentialsTemplate, 0600, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name, template string, perm os.FileMode, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, name, template, perm); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("TRADER_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("RESOLVER_ENDPOINT"); v != "" {
		cfg.Resolver.Endpoint = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.MaxPositionSize < 0 || c.Trading.MaxDailySpending < 0 {
		return fmt.Errorf("max_position_size and max_daily_spending must be non-negative")
	}

	if c.Timeouts.IntentParsing <= 0 || c.Timeouts.TradeValidation <= 0 || c.Timeouts.TradeExecution <= 0 {
		return fmt.Errorf("step timeouts must be positive")
	}

	if c.Execution.Retries < 0 {
		return fmt.Errorf("execution retries must be non-negative")
	}
	if c.Execution.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be non-negative")
	}
	if c.Execution.MinExecutionConfidence < 0 || c.Execution.MinExecutionConfidence > 1 {
		return fmt.Errorf("min_execution_confidence must be between 0 and 1")
	}
	if c.Execution.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be at least 1")
	}

	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache similarity_threshold must be in (0, 1]")
	}
	if c.Cache.MinConfidence < 0 || c.Cache.MinConfidence > 1 {
		return fmt.Errorf("cache min_confidence must be between 0 and 1")
	}
	if c.Cache.TTL < 0 || c.Cache.WarmTTL < 0 {
		return fmt.Errorf("cache ttl values must be non-negative")
	}
	if c.Cache.Embedder != "hash" && c.Cache.Embedder != "openai" {
		return fmt.Errorf("invalid cache embedder: %s (must be 'hash' or 'openai')", c.Cache.Embedder)
	}

	for name, v := range map[string]float64{
		"complex_threshold":      c.Classifier.ComplexThreshold,
		"simple_threshold":       c.Classifier.SimpleThreshold,
		"cache_simple_threshold": c.Classifier.CacheSimpleThreshold,
		"cache_complex_ceiling":  c.Classifier.CacheComplexCeiling,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("classifier %s must be between 0 and 1", name)
		}
	}

	switch c.Registry.FallbackStrategy {
	case "best_effort":
	case "default":
		if c.Registry.DefaultPlugin == "" {
			return fmt.Errorf("registry default_plugin is required with the default fallback strategy")
		}
	default:
		return fmt.Errorf("invalid fallback strategy: %s (must be 'best_effort' or 'default')", c.Registry.FallbackStrategy)
	}
	if c.Registry.BatchSize < 1 {
		return fmt.Errorf("registry batch_size must be at least 1")
	}

	switch c.Resolver.Provider {
	case "openai", "none":
	case "http":
		if c.Resolver.Endpoint == "" {
			return fmt.Errorf("resolver endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("invalid resolver provider: %s (must be 'openai', 'http' or 'none')", c.Resolver.Provider)
	}

	if len(c.Models.Tiers) == 0 {
		return fmt.Errorf("at least one model tier is required")
	}
	seen := make(map[string]bool)
	for _, t := range c.Models.Tiers {
		if t.Name == "" {
			return fmt.Errorf("model tier name is required")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate model tier: %s", t.Name)
		}
		seen[t.Name] = true
		switch t.Complexity {
		case models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex:
		default:
			return fmt.Errorf("model tier %s has invalid complexity %q", t.Name, t.Complexity)
		}
		if t.CostPerKTokenIn < 0 || t.CostPerKTokenOut < 0 || t.LatencyMs < 0 {
			return fmt.Errorf("model tier %s has negative cost or latency", t.Name)
		}
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}
