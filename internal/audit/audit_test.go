package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-trader/internal/logging"
	"intent-trader/internal/models"
)

func buyResult() *models.TradingResult {
	return &models.TradingResult{
		RequestID: "req-1",
		Success:   true,
		Intent: &models.TradeIntent{
			Kind:   models.IntentBuy,
			Symbol: "AAPL",
			Order:  &models.OrderSpec{AmountType: models.AmountDollars, Amount: 100, OrderType: models.OrderMarket},
		},
		Validation: &models.ValidationResult{IsValid: true},
		Execution:  &models.ExecutionResult{Success: true, OrderID: "PAPER_1_1", ExecutedPrice: 200, ExecutedShares: 0.5},
		Metadata: models.ResultMetadata{
			Steps:    []string{models.StepParsingIntent, models.StepValidatingTrade, models.StepExecutingTrade},
			Strategy: models.StrategyDeterministic,
		},
	}
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestRecordResultAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	l, err := NewLogger(DefaultConfig(path))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.RecordResult(ctx, buyResult()))

	failed := &models.TradingResult{RequestID: "req-2", Error: "no resolver configured", Metadata: models.ResultMetadata{Steps: []string{models.StepParsingIntent}}}
	require.NoError(t, l.RecordResult(ctx, failed))
	require.NoError(t, l.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)

	assert.Equal(t, EventOrderExecuted, events[0].EventType)
	assert.Equal(t, "AAPL", events[0].Symbol)
	assert.Equal(t, "PAPER_1_1", events[0].OrderID)
	assert.Equal(t, "buy", events[0].Action)
	assert.Equal(t, l.SessionID(), events[0].SessionID)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Equal(t, EventRequestFailed, events[1].EventType)
	assert.Equal(t, "no resolver configured", events[1].ErrorMsg)
	assert.False(t, events[1].Success)
}

func TestLogTakesRequestIDFromContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(DefaultConfig(path))
	require.NoError(t, err)

	ctx := logging.ContextWithRequestID(context.Background(), "ctx-req")
	require.NoError(t, l.Log(ctx, Event{EventType: EventIntentResolved, Success: true}))
	require.NoError(t, l.Close())

	events := readEvents(t, path)
	require.Len(t, events, 1)
	assert.Equal(t, "ctx-req", events[0].RequestID)
}

func TestEventFromResult(t *testing.T) {
	dryRun := buyResult()
	dryRun.Execution = nil
	dryRun.Metadata.Steps = dryRun.Metadata.Steps[:2]

	rejected := buyResult()
	rejected.Success = false
	rejected.Validation = &models.ValidationResult{IsValid: false, Errors: []string{"insufficient funds"}}
	rejected.Execution = nil
	rejected.Metadata.Steps = rejected.Metadata.Steps[:2]

	exhausted := buyResult()
	exhausted.Success = false
	exhausted.Metadata.ExecutionAttempts = 3

	analysis := &models.TradingResult{
		Success: true,
		Intent:  &models.TradeIntent{Kind: models.IntentAnalysis, Symbol: "TSLA", Analysis: &models.AnalysisSpec{AnalysisType: "technical"}},
		Metadata: models.ResultMetadata{
			Steps: []string{models.StepParsingIntent, models.StepValidatingTrade, models.StepExecutingTrade},
		},
	}

	timedOut := &models.TradingResult{Metadata: models.ResultMetadata{TimedOutStep: models.StepParsingIntent}}

	tests := []struct {
		name   string
		result *models.TradingResult
		want   EventType
	}{
		{"executed", buyResult(), EventOrderExecuted},
		{"dry run", dryRun, EventDryRun},
		{"rejected", rejected, EventOrderRejected},
		{"execution failed", exhausted, EventOrderFailed},
		{"informational", analysis, EventIntentResolved},
		{"timed out", timedOut, EventRequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventFromResult(tt.result).EventType)
		})
	}

	assert.Equal(t, models.StepParsingIntent, EventFromResult(timedOut).Details["timed_out_step"])
}

func TestNewLoggerNeedsPath(t *testing.T) {
	_, err := NewLogger(Config{})
	assert.Error(t, err)
}
