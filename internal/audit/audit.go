// Package audit writes an append-only JSON-lines trail of trading results.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"intent-trader/internal/logging"
	"intent-trader/internal/models"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventOrderExecuted  EventType = "ORDER_EXECUTED"
	EventOrderRejected  EventType = "ORDER_REJECTED"
	EventOrderFailed    EventType = "ORDER_FAILED"
	EventDryRun         EventType = "DRY_RUN"
	EventIntentResolved EventType = "INTENT_RESOLVED"
	EventRequestFailed  EventType = "REQUEST_FAILED"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	SessionID string         `json:"session_id"`
	RequestID string         `json:"request_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Action    string         `json:"action,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	Steps     []string       `json:"steps,omitempty"`
	Success   bool           `json:"success"`
	ErrorMsg  string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	Path       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// Logger records trading results as audit events. It is safe for
// concurrent use.
type Logger struct {
	writer    *lumberjack.Logger
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// NewLogger creates the audit directory and opens the rotating log.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return &Logger{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		},
		sessionID: uuid.NewString(),
		now:       time.Now,
	}, nil
}

// SessionID identifies this process's events.
func (l *Logger) SessionID() string { return l.sessionID }

// Log writes one event.
func (l *Logger) Log(ctx context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = l.now().UTC()
	event.SessionID = l.sessionID
	if event.RequestID == "" {
		event.RequestID = logging.RequestIDFromContext(ctx)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// RecordResult audits a finished trading result.
func (l *Logger) RecordResult(ctx context.Context, result *models.TradingResult) error {
	return l.Log(ctx, EventFromResult(result))
}

// EventFromResult classifies a result into an audit event.
func EventFromResult(r *models.TradingResult) Event {
	event := Event{
		RequestID: r.RequestID,
		Steps:     r.Metadata.Steps,
		Success:   r.Success,
		ErrorMsg:  r.Error,
		Details: map[string]any{
			"strategy":        r.Metadata.Strategy,
			"plugin_type":     r.Metadata.PluginType,
			"processing_ms":   r.Metadata.ProcessingTime.Milliseconds(),
			"resolver_cost":   r.Metadata.Costs.Resolver,
			"broker_cost":     r.Metadata.Costs.Broker,
			"execution_tries": r.Metadata.ExecutionAttempts,
		},
	}
	if r.Metadata.Model != "" {
		event.Details["model"] = r.Metadata.Model
	}
	if r.Metadata.TimedOutStep != "" {
		event.Details["timed_out_step"] = r.Metadata.TimedOutStep
	}

	if r.Intent != nil {
		event.Symbol = r.Intent.Symbol
		event.Action = string(r.Intent.Kind)
		if o := r.Intent.Order; o != nil {
			event.Details["amount_type"] = o.AmountType
			event.Details["amount"] = o.Amount
			event.Details["order_type"] = o.OrderType
		}
	}
	if r.Execution != nil {
		event.OrderID = r.Execution.OrderID
		event.Details["executed_price"] = r.Execution.ExecutedPrice
		event.Details["executed_shares"] = r.Execution.ExecutedShares
	}

	executed := slices.Contains(r.Metadata.Steps, models.StepExecutingTrade)
	switch {
	case r.Intent == nil:
		event.EventType = EventRequestFailed
	case executed && r.Success && r.Intent.Kind.IsOrder():
		event.EventType = EventOrderExecuted
	case executed && !r.Success:
		event.EventType = EventOrderFailed
	case r.Validation != nil && !r.Validation.IsValid:
		event.EventType = EventOrderRejected
	case !r.Success:
		event.EventType = EventRequestFailed
	case r.Intent.Kind.IsOrder():
		event.EventType = EventDryRun
	default:
		event.EventType = EventIntentResolved
	}
	return event
}

// Close closes the audit log.
func (l *Logger) Close() error {
	return l.writer.Close()
}
