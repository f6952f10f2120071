// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard sentinel errors
var (
	ErrNoRuleMatched       = errors.New("no deterministic rule matched")
	ErrCacheMiss           = errors.New("cache miss")
	ErrNoResolver          = errors.New("no intent resolver configured")
	ErrResolutionFailed    = errors.New("intent resolution failed")
	ErrUnsupportedKind     = errors.New("intent kind not accepted by plugin")
	ErrLowConfidence       = errors.New("confidence below threshold")
	ErrStepTimeout         = errors.New("step timed out")
	ErrPluginNotRegistered = errors.New("plugin not registered")
	ErrBatchAborted        = errors.New("batch aborted")
	ErrNoPluginMatched     = errors.New("no plugin can handle input")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrValidationFailed    = errors.New("validation failed")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrPositionNotFound    = errors.New("position not found")
	ErrSymbolNotFound      = errors.New("symbol not found")
	ErrRiskLimit           = errors.New("risk limit exceeded")
	ErrRateLimited         = errors.New("rate limited")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDatabaseError       = errors.New("database error")
	ErrEmptyInput          = errors.New("empty input")
)

// StrategyAttempt records why one resolution strategy did not produce a result.
type StrategyAttempt struct {
	Strategy string
	Reason   string
}

// ResolutionError is the final failure of the resolution cascade.
type ResolutionError struct {
	Input    string
	Attempts []StrategyAttempt
	Err      error
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Reason))
	}
	msg := fmt.Sprintf("resolution error for %q", e.Input)
	if len(parts) > 0 {
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrResolutionFailed
}

// Is makes every ResolutionError match ErrResolutionFailed.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolutionFailed
}

// NewResolutionError creates a new ResolutionError.
func NewResolutionError(input string, attempts []StrategyAttempt, err error) *ResolutionError {
	return &ResolutionError{
		Input:    input,
		Attempts: attempts,
		Err:      err,
	}
}

// ValidationError represents a validation error with its reasons.
type ValidationError struct {
	Field    string
	Value    interface{}
	Message  string
	Reasons  []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error: %s", e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
	}
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewValidationFailure creates a ValidationError carrying a list of reasons.
func NewValidationFailure(message string, reasons, warnings []string) *ValidationError {
	return &ValidationError{
		Message:  message,
		Reasons:  reasons,
		Warnings: warnings,
	}
}

// ExecutionError is surfaced after execution retries are exhausted.
type ExecutionError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error [%s] after %d attempt(s): %v", e.Symbol, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is makes every ExecutionError match ErrExecutionFailed.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(symbol string, attempts int, err error) *ExecutionError {
	return &ExecutionError{
		Symbol:   symbol,
		Attempts: attempts,
		Err:      err,
	}
}

// StepTimeoutError reports that a pipeline step lost the race against its deadline.
type StepTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out after %s", e.Step, e.Timeout)
}

func (e *StepTimeoutError) Unwrap() error {
	return ErrStepTimeout
}

// NewStepTimeoutError creates a new StepTimeoutError.
func NewStepTimeoutError(step string, timeout time.Duration) *StepTimeoutError {
	return &StepTimeoutError{Step: step, Timeout: timeout}
}

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ResolverError represents an error from a language-model resolver.
type ResolverError struct {
	Resolver  string
	Operation string
	Err       error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver error [%s] %s: %v", e.Resolver, e.Operation, e.Err)
}

func (e *ResolverError) Unwrap() error {
	return e.Err
}

// NewResolverError creates a new ResolverError.
func NewResolverError(resolver, operation string, err error) *ResolverError {
	return &ResolverError{
		Resolver:  resolver,
		Operation: operation,
		Err:       err,
	}
}

// RiskError represents a risk management error.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

func (e *RiskError) Unwrap() error {
	return ErrRiskLimit
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// IsContractError reports whether err is a programming error that must
// propagate instead of being folded into a result.
func IsContractError(err error) bool {
	return errors.Is(err, ErrPluginNotRegistered)
}

// IsTimeout reports whether err is a step timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrStepTimeout)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
