package models

import "time"

// Pipeline step names, recorded in TradingResult metadata.
const (
	StepParsingIntent   = "parsing_intent"
	StepValidatingTrade = "validating_trade"
	StepExecutingTrade  = "executing_trade"
)

// RequestOptions tune a single trading request.
type RequestOptions struct {
	DryRun         bool          `json:"dry_run" yaml:"dry_run"`
	SkipValidation bool          `json:"skip_validation" yaml:"skip_validation"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
}

// TradingRequest is one free-text command submitted to the orchestrator.
type TradingRequest struct {
	ID      string         `json:"id" yaml:"id"`
	Input   string         `json:"input" yaml:"input"`
	Context map[string]any `json:"context,omitempty" yaml:"context"`
	Options RequestOptions `json:"options" yaml:"options"`
}

// Costs splits request cost by collaborator.
type Costs struct {
	Resolver float64 `json:"resolver"`
	Broker   float64 `json:"broker"`
}

// ResultMetadata is the accounting attached to a TradingResult.
type ResultMetadata struct {
	ProcessingTime    time.Duration `json:"processing_time"`
	Costs             Costs         `json:"costs"`
	Steps             []string      `json:"steps"`
	TimedOutStep      string        `json:"timed_out_step,omitempty"`
	ExecutionAttempts int           `json:"execution_attempts,omitempty"`
	Strategy          Strategy      `json:"strategy,omitempty"`
	Model             string        `json:"model,omitempty"`
	PluginType        string        `json:"plugin_type,omitempty"`
}

// TradingResult is appended to during one run and immutable once returned.
type TradingResult struct {
	RequestID  string            `json:"request_id"`
	Success    bool              `json:"success"`
	Intent     *TradeIntent      `json:"intent,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Execution  *ExecutionResult  `json:"execution,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   ResultMetadata    `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ValidationResult is a broker pre-trade check.
type ValidationResult struct {
	IsValid       bool     `json:"is_valid"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	EstimatedCost float64  `json:"estimated_cost"`
	CurrentPrice  float64  `json:"current_price"`
}

// ExecutionResult is the broker's answer to an execution attempt.
type ExecutionResult struct {
	Success        bool    `json:"success"`
	OrderID        string  `json:"order_id,omitempty"`
	ExecutedPrice  float64 `json:"executed_price,omitempty"`
	ExecutedShares float64 `json:"executed_shares,omitempty"`
	Fees           float64 `json:"fees,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Position is a holding reported by the broker.
type Position struct {
	Symbol       string  `json:"symbol"`
	Shares       float64 `json:"shares"`
	AveragePrice float64 `json:"average_price"`
	MarketPrice  float64 `json:"market_price"`
}

// AccountInfo summarizes a brokerage account.
type AccountInfo struct {
	AccountID   string     `json:"account_id"`
	Cash        float64    `json:"cash"`
	BuyingPower float64    `json:"buying_power"`
	Equity      float64    `json:"equity"`
	DailySpent  float64    `json:"daily_spent"`
	Positions   []Position `json:"positions"`
}

// ServiceHealth is the per-collaborator part of a HealthReport.
type ServiceHealth struct {
	Resolver bool `json:"resolver"`
	Broker   bool `json:"broker"`
}

// HealthReport is the orchestrator health summary.
type HealthReport struct {
	Healthy   bool          `json:"healthy"`
	Services  ServiceHealth `json:"services"`
	CheckedAt time.Time     `json:"checked_at"`
}
