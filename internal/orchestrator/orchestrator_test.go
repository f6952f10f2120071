package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type intentsFunc func(ctx context.Context, text string, reqCtx map[string]any) (*models.ProcessedIntent, error)

func (f intentsFunc) Process(ctx context.Context, text string, reqCtx map[string]any) (*models.ProcessedIntent, error) {
	return f(ctx, text, reqCtx)
}

func buyIntent(symbol string, confidence float64) *models.ProcessedIntent {
	return &models.ProcessedIntent{
		Intent: &models.TradeIntent{
			ID:         "i-" + symbol,
			Kind:       models.IntentBuy,
			Symbol:     symbol,
			Confidence: confidence,
			Order: &models.OrderSpec{
				AmountType: models.AmountDollars,
				Amount:     100,
				OrderType:  models.OrderMarket,
			},
		},
		Confidence: confidence,
		PluginType: "trade",
		Strategy:   models.StrategyDeterministic,
	}
}

func resolvesTo(p *models.ProcessedIntent) intentsFunc {
	return func(context.Context, string, map[string]any) (*models.ProcessedIntent, error) {
		return p, nil
	}
}

type fakeBroker struct {
	validate func(ctx context.Context, intent *models.TradeIntent) (*models.ValidationResult, error)
	execute  func(ctx context.Context, call int) (*models.ExecutionResult, error)
	health   func(ctx context.Context) (bool, error)

	validateCalls atomic.Int32
	executeCalls  atomic.Int32
}

func (b *fakeBroker) ValidateTrade(ctx context.Context, intent *models.TradeIntent) (*models.ValidationResult, error) {
	b.validateCalls.Add(1)
	if b.validate != nil {
		return b.validate(ctx, intent)
	}
	return &models.ValidationResult{IsValid: true, EstimatedCost: 100, CurrentPrice: 200}, nil
}

func (b *fakeBroker) ExecuteTrade(ctx context.Context, intent *models.TradeIntent) (*models.ExecutionResult, error) {
	call := int(b.executeCalls.Add(1))
	if b.execute != nil {
		return b.execute(ctx, call)
	}
	return &models.ExecutionResult{Success: true, OrderID: "ORD-1", ExecutedPrice: 200, ExecutedShares: 0.5, Fees: 0.25}, nil
}

func (b *fakeBroker) GetAccount(context.Context) (*models.AccountInfo, error) {
	return &models.AccountInfo{AccountID: "fake"}, nil
}

func (b *fakeBroker) Health(ctx context.Context) (bool, error) {
	if b.health != nil {
		return b.health(ctx)
	}
	return true, nil
}

type healthFunc func(ctx context.Context) (bool, error)

func (f healthFunc) Health(ctx context.Context) (bool, error) { return f(ctx) }

type recordingSink struct {
	mu      sync.Mutex
	results []*models.TradingResult
}

func (s *recordingSink) RecordResult(_ context.Context, r *models.TradingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IntentTimeout = 200 * time.Millisecond
	cfg.ValidationTimeout = 200 * time.Millisecond
	cfg.ExecutionTimeout = 200 * time.Millisecond
	cfg.HealthTimeout = 100 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	cfg.Retries = 2
	return cfg
}

func blockUntilDone[T any](ctx context.Context) (T, error) {
	var zero T
	<-ctx.Done()
	return zero, ctx.Err()
}

func TestProcessExecutesTrade(t *testing.T) {
	b := &fakeBroker{}
	sink := &recordingSink{}
	processed := buyIntent("AAPL", 0.95)
	processed.Cost = 0.0004
	o := New(testConfig(), resolvesTo(processed), nil, b, zerolog.Nop(), sink)

	res, err := o.Process(context.Background(), models.TradingRequest{ID: "req-1", Input: "buy $100 of AAPL"})
	require.NoError(t, err)

	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, []string{models.StepParsingIntent, models.StepValidatingTrade, models.StepExecutingTrade}, res.Metadata.Steps)
	assert.Equal(t, 1, res.Metadata.ExecutionAttempts)
	assert.Equal(t, "ORD-1", res.Execution.OrderID)
	assert.True(t, res.Validation.IsValid)
	assert.Equal(t, 0.0004, res.Metadata.Costs.Resolver)
	assert.Equal(t, 0.25, res.Metadata.Costs.Broker)
	assert.Equal(t, "trade", res.Metadata.PluginType)
	assert.Empty(t, res.Metadata.TimedOutStep)

	require.Len(t, sink.results, 1)
	assert.Same(t, res, sink.results[0])
}

func TestRequestIDReachesRegistry(t *testing.T) {
	var seen string
	intents := intentsFunc(func(_ context.Context, _ string, reqCtx map[string]any) (*models.ProcessedIntent, error) {
		seen = models.StringField(reqCtx, "request_id")
		return buyIntent("AAPL", 0.9), nil
	})
	o := New(testConfig(), intents, nil, &fakeBroker{}, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL", Context: map[string]any{"preference": "speed"}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, res.RequestID, seen)
}

func TestDryRunNeverExecutes(t *testing.T) {
	for _, skip := range []bool{false, true} {
		b := &fakeBroker{}
		o := New(testConfig(), resolvesTo(buyIntent("MSFT", 0.9)), nil, b, zerolog.Nop())

		for i := 0; i < 5; i++ {
			res, err := o.Process(context.Background(), models.TradingRequest{
				Input:   fmt.Sprintf("buy $%d of MSFT", 100+i),
				Options: models.RequestOptions{DryRun: true, SkipValidation: skip},
			})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.NotContains(t, res.Metadata.Steps, models.StepExecutingTrade)
			assert.Nil(t, res.Execution)
		}
		assert.Zero(t, b.executeCalls.Load())
	}
}

func TestRetryBound(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			b := &fakeBroker{execute: func(context.Context, int) (*models.ExecutionResult, error) {
				return &models.ExecutionResult{Success: false, Error: "order rejected"}, nil
			}}
			cfg := testConfig()
			cfg.Retries = retries
			o := New(cfg, resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())

			res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, int32(retries+1), b.executeCalls.Load())
			assert.Equal(t, retries+1, res.Metadata.ExecutionAttempts)
			assert.Contains(t, res.Error, "order rejected")
			require.NotNil(t, res.Execution)
			assert.False(t, res.Execution.Success)
		})
	}
}

func TestRetrySurfacesLastError(t *testing.T) {
	b := &fakeBroker{execute: func(_ context.Context, call int) (*models.ExecutionResult, error) {
		return nil, fmt.Errorf("gateway error %d", call)
	}}
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "gateway error 3")
	assert.NotContains(t, res.Error, "gateway error 2")
}

func TestRetryRecovers(t *testing.T) {
	b := &fakeBroker{execute: func(_ context.Context, call int) (*models.ExecutionResult, error) {
		if call < 3 {
			return nil, errors.New("connection reset")
		}
		return &models.ExecutionResult{Success: true, OrderID: "ORD-3"}, nil
	}}
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Metadata.ExecutionAttempts)
	assert.Equal(t, "ORD-3", res.Execution.OrderID)
}

func TestValidationRejectionStopsExecution(t *testing.T) {
	b := &fakeBroker{validate: func(context.Context, *models.TradeIntent) (*models.ValidationResult, error) {
		return &models.ValidationResult{
			IsValid:  false,
			Errors:   []string{"insufficient funds: need 100.00, have 5.00"},
			Warnings: []string{"market closed"},
		}, nil
	}}
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "insufficient funds")
	assert.Equal(t, []string{models.StepParsingIntent, models.StepValidatingTrade}, res.Metadata.Steps)
	assert.Zero(t, b.executeCalls.Load())
	require.NotNil(t, res.Validation)
	assert.Equal(t, []string{"market closed"}, res.Validation.Warnings)
}

func TestValidationCanBeSkipped(t *testing.T) {
	b := &fakeBroker{}
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())
	res, err := o.Process(context.Background(), models.TradingRequest{
		Input:   "buy $100 of AAPL",
		Options: models.RequestOptions{SkipValidation: true},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{models.StepParsingIntent, models.StepExecutingTrade}, res.Metadata.Steps)

	cfg := testConfig()
	cfg.ValidationRequired = false
	o = New(cfg, resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())
	_, err = o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
	require.NoError(t, err)

	assert.Zero(t, b.validateCalls.Load())
	assert.Equal(t, int32(2), b.executeCalls.Load())
}

func TestParsingTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.IntentTimeout = 20 * time.Millisecond
	b := &fakeBroker{}
	intents := intentsFunc(func(ctx context.Context, _ string, _ map[string]any) (*models.ProcessedIntent, error) {
		return blockUntilDone[*models.ProcessedIntent](ctx)
	})
	o := New(cfg, intents, nil, b, zerolog.Nop())

	start := time.Now()
	res, err := o.Process(context.Background(), models.TradingRequest{Input: "hedge my LULU position"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, res.Success)
	assert.Equal(t, models.StepParsingIntent, res.Metadata.TimedOutStep)
	assert.Equal(t, []string{models.StepParsingIntent}, res.Metadata.Steps)
	assert.Contains(t, res.Error, "timed out")
	assert.Zero(t, b.validateCalls.Load())
}

func TestExecutionTimeoutIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.ExecutionTimeout = 20 * time.Millisecond
	b := &fakeBroker{execute: func(ctx context.Context, call int) (*models.ExecutionResult, error) {
		if call == 1 {
			return blockUntilDone[*models.ExecutionResult](ctx)
		}
		return &models.ExecutionResult{Success: true, OrderID: "ORD-2"}, nil
	}}
	o := New(cfg, resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Metadata.ExecutionAttempts)
	assert.Empty(t, res.Metadata.TimedOutStep)
}

func TestExecutionTimeoutExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.ExecutionTimeout = 10 * time.Millisecond
	cfg.Retries = 1
	b := &fakeBroker{execute: func(ctx context.Context, _ int) (*models.ExecutionResult, error) {
		return blockUntilDone[*models.ExecutionResult](ctx)
	}}
	o := New(cfg, resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.StepExecutingTrade, res.Metadata.TimedOutStep)
	assert.Equal(t, int32(2), b.executeCalls.Load())
}

func TestRequestTimeout(t *testing.T) {
	intents := intentsFunc(func(ctx context.Context, _ string, _ map[string]any) (*models.ProcessedIntent, error) {
		return blockUntilDone[*models.ProcessedIntent](ctx)
	})
	o := New(testConfig(), intents, nil, &fakeBroker{}, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{
		Input:   "hedge my LULU position",
		Options: models.RequestOptions{Timeout: 15 * time.Millisecond},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
	assert.Empty(t, res.Metadata.TimedOutStep)
}

func TestLowConfidenceFailsAtParsing(t *testing.T) {
	b := &fakeBroker{}
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.3)), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "maybe buy some AAPL"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{models.StepParsingIntent}, res.Metadata.Steps)
	assert.Contains(t, res.Error, apperrors.ErrLowConfidence.Error())
	assert.Zero(t, b.validateCalls.Load())
}

func TestBestEffortStubNeverExecutes(t *testing.T) {
	stub := &models.ProcessedIntent{
		Intent: &models.TradeIntent{
			Kind:       models.IntentCustom,
			Symbol:     models.UnknownSymbol,
			Confidence: 0.1,
			Custom:     &models.CustomSpec{Action: "unresolved"},
		},
		Confidence: 0.1,
		PluginType: "best_effort",
	}
	b := &fakeBroker{}
	cfg := testConfig()
	cfg.MinExecutionConfidence = 0
	o := New(cfg, resolvesTo(stub), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "do the thing"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "best_effort", res.Metadata.PluginType)
	assert.Zero(t, b.validateCalls.Load())
	assert.Zero(t, b.executeCalls.Load())
}

func TestParsingErrorIsCaptured(t *testing.T) {
	intents := intentsFunc(func(context.Context, string, map[string]any) (*models.ProcessedIntent, error) {
		return nil, apperrors.NewResolutionError("gibberish", nil, apperrors.ErrNoResolver)
	})
	o := New(testConfig(), intents, nil, &fakeBroker{}, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "gibberish"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, apperrors.ErrNoResolver.Error())
}

func TestContractErrorPropagates(t *testing.T) {
	intents := intentsFunc(func(context.Context, string, map[string]any) (*models.ProcessedIntent, error) {
		return nil, apperrors.Wrapf(apperrors.ErrPluginNotRegistered, "%s", "options")
	})
	sink := &recordingSink{}
	o := New(testConfig(), intents, nil, &fakeBroker{}, zerolog.Nop(), sink)

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy a call"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrPluginNotRegistered)
	assert.Empty(t, sink.results)
}

func TestStepPanicIsCaptured(t *testing.T) {
	b := &fakeBroker{validate: func(context.Context, *models.TradeIntent) (*models.ValidationResult, error) {
		panic("nil quote table")
	}}
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), nil, b, zerolog.Nop())

	res, err := o.Process(context.Background(), models.TradingRequest{Input: "buy $100 of AAPL"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked")
}

func TestBatchIsolation(t *testing.T) {
	intents := intentsFunc(func(_ context.Context, text string, _ map[string]any) (*models.ProcessedIntent, error) {
		if strings.Contains(text, "#3") {
			panic("resolver exploded")
		}
		return buyIntent("AAPL", 0.9), nil
	})
	cfg := testConfig()
	cfg.BatchConcurrency = 2
	o := New(cfg, intents, nil, &fakeBroker{}, zerolog.Nop())

	reqs := make([]models.TradingRequest, 5)
	for i := range reqs {
		reqs[i] = models.TradingRequest{ID: fmt.Sprintf("r%d", i+1), Input: fmt.Sprintf("buy $100 of AAPL #%d", i+1)}
	}

	results, err := o.BatchProcess(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, reqs[i].ID, res.RequestID)
		if i == 2 {
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "resolver exploded")
			continue
		}
		assert.True(t, res.Success, "request %d: %s", i+1, res.Error)
	}
}

func TestBatchContractErrorLeavesSiblingsRunning(t *testing.T) {
	intents := intentsFunc(func(_ context.Context, text string, _ map[string]any) (*models.ProcessedIntent, error) {
		if text == "bad" {
			time.Sleep(20 * time.Millisecond)
			return nil, apperrors.ErrPluginNotRegistered
		}
		return buyIntent("AAPL", 0.9), nil
	})
	b := &fakeBroker{
		execute: func(ctx context.Context, _ int) (*models.ExecutionResult, error) {
			select {
			case <-time.After(100 * time.Millisecond):
				return &models.ExecutionResult{Success: true, OrderID: "ORD-1", ExecutedPrice: 200, ExecutedShares: 0.5}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	cfg := testConfig()
	cfg.BatchConcurrency = 5
	o := New(cfg, intents, nil, b, zerolog.Nop())

	reqs := []models.TradingRequest{
		{Input: "buy $100 of AAPL"},
		{Input: "buy $100 of AAPL"},
		{Input: "bad"},
		{Input: "buy $100 of AAPL"},
		{Input: "buy $100 of AAPL"},
	}
	results, err := o.BatchProcess(context.Background(), reqs)
	assert.ErrorIs(t, err, apperrors.ErrPluginNotRegistered)
	require.Len(t, results, len(reqs))

	for i, res := range results {
		require.NotNil(t, res, "result %d", i)
		if i == 2 {
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, apperrors.ErrPluginNotRegistered.Error())
			continue
		}
		assert.True(t, res.Success, "result %d: %s", i, res.Error)
		require.NotNil(t, res.Execution)
		assert.Equal(t, "ORD-1", res.Execution.OrderID)
	}
	assert.Equal(t, int32(4), b.executeCalls.Load())
}

func TestHealthBrokerPanics(t *testing.T) {
	b := &fakeBroker{health: func(context.Context) (bool, error) { panic("socket closed") }}
	resolver := healthFunc(func(context.Context) (bool, error) { return true, nil })
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), resolver, b, zerolog.Nop())

	report := o.HealthCheck(context.Background())
	assert.False(t, report.Healthy)
	assert.False(t, report.Services.Broker)
	assert.True(t, report.Services.Resolver)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestHealthResolverHangs(t *testing.T) {
	resolver := healthFunc(func(ctx context.Context) (bool, error) {
		return blockUntilDone[bool](ctx)
	})
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), resolver, &fakeBroker{}, zerolog.Nop())

	report, components := o.HealthDetails(context.Background())
	assert.False(t, report.Healthy)
	assert.False(t, report.Services.Resolver)
	assert.True(t, report.Services.Broker)
	assert.Contains(t, components["resolver"].Message, "timed out")
}

func TestHealthWithoutResolver(t *testing.T) {
	o := New(testConfig(), resolvesTo(buyIntent("AAPL", 0.9)), nil, &fakeBroker{}, zerolog.Nop())
	report := o.HealthCheck(context.Background())
	assert.True(t, report.Healthy)
	assert.True(t, report.Services.Resolver)
}
