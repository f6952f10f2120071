// Package orchestrator drives a trading request through parsing, broker
// validation and execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"intent-trader/internal/broker"
	"intent-trader/internal/config"
	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/logging"
	"intent-trader/internal/models"
	"intent-trader/pkg/utils"
)

// IntentProcessor turns free text into a validated intent.
type IntentProcessor interface {
	Process(ctx context.Context, text string, reqCtx map[string]any) (*models.ProcessedIntent, error)
}

// HealthChecker is anything with a liveness check.
type HealthChecker interface {
	Health(ctx context.Context) (bool, error)
}

// ResultSink receives every finished result.
type ResultSink interface {
	RecordResult(ctx context.Context, result *models.TradingResult) error
}

// Config holds orchestrator settings.
type Config struct {
	IntentTimeout          time.Duration
	ValidationTimeout      time.Duration
	ExecutionTimeout       time.Duration
	HealthTimeout          time.Duration
	Retries                int
	RetryBackoff           time.Duration
	ValidationRequired     bool
	MinExecutionConfidence float64
	BatchConcurrency       int
}

// DefaultConfig returns the standard orchestrator settings.
func DefaultConfig() Config {
	return Config{
		IntentTimeout:          10 * time.Second,
		ValidationTimeout:      5 * time.Second,
		ExecutionTimeout:       15 * time.Second,
		HealthTimeout:          3 * time.Second,
		Retries:                2,
		RetryBackoff:           500 * time.Millisecond,
		ValidationRequired:     true,
		MinExecutionConfidence: 0.5,
		BatchConcurrency:       4,
	}
}

// ConfigFrom maps application configuration onto orchestrator settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		IntentTimeout:          cfg.Timeouts.IntentParsing,
		ValidationTimeout:      cfg.Timeouts.TradeValidation,
		ExecutionTimeout:       cfg.Timeouts.TradeExecution,
		HealthTimeout:          cfg.Timeouts.HealthCheck,
		Retries:                cfg.Execution.Retries,
		RetryBackoff:           cfg.Execution.RetryBackoff,
		ValidationRequired:     cfg.Execution.ValidationRequired,
		MinExecutionConfidence: cfg.Execution.MinExecutionConfidence,
		BatchConcurrency:       cfg.Execution.BatchConcurrency,
	}
}

// Orchestrator runs trading requests. It is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	intents  IntentProcessor
	resolver HealthChecker
	broker   broker.Gateway
	sinks    []ResultSink
	logger   zerolog.Logger
}

// New creates an orchestrator. resolver may be nil when no model resolver
// is configured.
func New(cfg Config, intents IntentProcessor, resolver HealthChecker, gw broker.Gateway, logger zerolog.Logger, sinks ...ResultSink) *Orchestrator {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	return &Orchestrator{
		cfg:      cfg,
		intents:  intents,
		resolver: resolver,
		broker:   gw,
		sinks:    sinks,
		logger:   logging.WithComponent(logger, "orchestrator"),
	}
}

// Process runs one request to a terminal state. Pipeline failures are
// reported in the result; the returned error is reserved for contract
// errors.
func (o *Orchestrator) Process(ctx context.Context, req models.TradingRequest) (*models.TradingResult, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	result := &models.TradingResult{
		RequestID: req.ID,
		CreatedAt: start,
		Metadata:  models.ResultMetadata{Steps: []string{}},
	}

	log := logging.WithRequestID(o.logger, req.ID)
	ctx = logging.ContextWithRequestID(ctx, req.ID)
	if req.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Options.Timeout)
		defer cancel()
	}

	err := o.run(ctx, req, result, log)
	result.Metadata.ProcessingTime = time.Since(start)
	if err != nil {
		if apperrors.IsContractError(err) {
			return nil, err
		}
		var timeout *apperrors.StepTimeoutError
		if errors.As(err, &timeout) {
			result.Metadata.TimedOutStep = timeout.Step
		}
		result.Error = err.Error()
		log.Warn().Err(err).Strs("steps", result.Metadata.Steps).Msg("Request failed")
	} else {
		result.Success = true
		log.Info().
			Strs("steps", result.Metadata.Steps).
			Dur("duration", result.Metadata.ProcessingTime).
			Msg("Request succeeded")
	}

	o.record(context.WithoutCancel(ctx), result, log)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, req models.TradingRequest, result *models.TradingResult, log zerolog.Logger) error {
	result.Metadata.Steps = append(result.Metadata.Steps, models.StepParsingIntent)
	processed, err := runStep(ctx, logging.WithStep(log, models.StepParsingIntent), models.StepParsingIntent, o.cfg.IntentTimeout,
		func(ctx context.Context) (*models.ProcessedIntent, error) {
			return o.intents.Process(ctx, req.Input, requestContext(req))
		})
	if err != nil {
		return err
	}

	intent := processed.Intent
	result.Intent = intent
	result.Metadata.Strategy = processed.Strategy
	result.Metadata.Model = processed.Model
	result.Metadata.PluginType = processed.PluginType
	result.Metadata.Costs.Resolver = processed.Cost

	if intent == nil {
		return apperrors.NewValidationFailure("no intent resolved", nil, nil)
	}
	if err := intent.Validate(); err != nil {
		return apperrors.NewValidationFailure("resolved intent failed boundary checks", []string{err.Error()}, nil)
	}
	if processed.Confidence < o.cfg.MinExecutionConfidence {
		return fmt.Errorf("%w: %.2f < %.2f", apperrors.ErrLowConfidence, processed.Confidence, o.cfg.MinExecutionConfidence)
	}

	if o.cfg.ValidationRequired && !req.Options.SkipValidation {
		result.Metadata.Steps = append(result.Metadata.Steps, models.StepValidatingTrade)
		v, err := runStep(ctx, logging.WithStep(log, models.StepValidatingTrade), models.StepValidatingTrade, o.cfg.ValidationTimeout,
			func(ctx context.Context) (*models.ValidationResult, error) {
				return o.broker.ValidateTrade(ctx, intent)
			})
		if err != nil {
			return err
		}
		result.Validation = v
		if v == nil || !v.IsValid {
			var reasons, warnings []string
			if v != nil {
				reasons, warnings = v.Errors, v.Warnings
			}
			return apperrors.NewValidationFailure("trade rejected by broker validation", reasons, warnings)
		}
	}

	if req.Options.DryRun {
		log.Info().Str("symbol", intent.Symbol).Msg("Dry run, execution skipped")
		return nil
	}

	result.Metadata.Steps = append(result.Metadata.Steps, models.StepExecutingTrade)
	return o.execute(ctx, intent, result, log)
}

// execute makes Retries+1 attempts with linear backoff.
func (o *Orchestrator) execute(ctx context.Context, intent *models.TradeIntent, result *models.TradingResult, log zerolog.Logger) error {
	stepLog := logging.WithSymbol(logging.WithStep(log, models.StepExecutingTrade), intent.Symbol)
	var last *models.ExecutionResult

	exec, attempts, err := utils.RetryLinear(ctx, o.cfg.Retries+1, o.cfg.RetryBackoff,
		func(attempt int) (*models.ExecutionResult, error) {
			res, err := runStep(ctx, stepLog, models.StepExecutingTrade, o.cfg.ExecutionTimeout,
				func(ctx context.Context) (*models.ExecutionResult, error) {
					return o.broker.ExecuteTrade(ctx, intent)
				})
			if res != nil {
				last = res
			}
			if err == nil && (res == nil || !res.Success) {
				reason := "broker reported failure"
				if res != nil && res.Error != "" {
					reason = res.Error
				}
				err = fmt.Errorf("%w: %s", apperrors.ErrExecutionFailed, reason)
			}
			var orderID string
			var price float64
			if res != nil {
				orderID, price = res.OrderID, res.ExecutedPrice
			}
			logging.LogExecution(stepLog, intent.Symbol, string(intent.Kind), orderID, attempt, price, err)
			return res, err
		})

	result.Metadata.ExecutionAttempts = attempts
	if err != nil {
		result.Execution = last
		return apperrors.NewExecutionError(intent.Symbol, attempts, err)
	}
	result.Execution = exec
	result.Metadata.Costs.Broker = exec.Fees
	return nil
}

func (o *Orchestrator) record(ctx context.Context, result *models.TradingResult, log zerolog.Logger) {
	for _, sink := range o.sinks {
		if err := sink.RecordResult(ctx, result); err != nil {
			log.Warn().Err(err).Msg("Failed to record result")
		}
	}
}

// requestContext passes the request id and caller context to the registry.
func requestContext(req models.TradingRequest) map[string]any {
	out := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		out[k] = v
	}
	out["request_id"] = req.ID
	return out
}
