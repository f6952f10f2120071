package models

import "time"

// Strategy is a resolution path.
type Strategy string

const (
	StrategyDeterministic Strategy = "deterministic"
	StrategyCache         Strategy = "cache"
	StrategyModel         Strategy = "model"
)

// StrategyOrder is the cascade preference order, cheapest first.
var StrategyOrder = []Strategy{StrategyDeterministic, StrategyCache, StrategyModel}

// ClassificationResult is produced once per request and never mutated.
type ClassificationResult struct {
	Strategy   Strategy `json:"strategy"`
	Confidence float64  `json:"confidence"`

	// Diagnostics.
	ComplexScore float64 `json:"complex_score"`
	SimpleScore  float64 `json:"simple_score"`
	WordCount    int     `json:"word_count"`
}

// ComplexityClass is the difficulty band a model tier is built for.
type ComplexityClass string

const (
	ComplexitySimple  ComplexityClass = "simple"
	ComplexityMedium  ComplexityClass = "medium"
	ComplexityComplex ComplexityClass = "complex"
)

// ModelTier is one entry of the static model catalog.
type ModelTier struct {
	Name             string          `mapstructure:"name" json:"name"`
	CostPerKTokenIn  float64         `mapstructure:"cost_in" json:"cost_per_k_token_in"`
	CostPerKTokenOut float64         `mapstructure:"cost_out" json:"cost_per_k_token_out"`
	LatencyMs        int             `mapstructure:"latency_ms" json:"latency_ms"`
	Complexity       ComplexityClass `mapstructure:"complexity" json:"complexity"`
	Recommended      bool            `mapstructure:"recommended" json:"recommended"`
}

// CacheEntry is a stored resolution. Entries are replaced whole, never edited.
type CacheEntry struct {
	Key       string       `json:"key"`
	Text      string       `json:"text"`
	Intent    *TradeIntent `json:"intent"`
	Vector    []float32    `json:"-"`
	Signature string       `json:"signature"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// ProcessedIntent is what the resolution pipeline hands to the orchestrator.
type ProcessedIntent struct {
	Intent         *TradeIntent  `json:"intent"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
	PluginType     string        `json:"plugin_type"`
	Model          string        `json:"model,omitempty"`
	Strategy       Strategy      `json:"strategy"`
	TokensUsed     int           `json:"tokens_used"`
	Cost           float64       `json:"cost"`
}
