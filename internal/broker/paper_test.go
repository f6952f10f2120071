package broker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
)

func orderIntent(kind models.IntentKind, symbol string, amountType models.AmountType, amount float64) *models.TradeIntent {
	return &models.TradeIntent{
		ID:         "t-1",
		Kind:       kind,
		Symbol:     symbol,
		Confidence: 0.95,
		Order: &models.OrderSpec{
			AmountType: amountType,
			Amount:     amount,
			OrderType:  models.OrderMarket,
		},
	}
}

func limitIntent(kind models.IntentKind, symbol string, shares, limit float64) *models.TradeIntent {
	intent := orderIntent(kind, symbol, models.AmountShares, shares)
	intent.Order.OrderType = models.OrderLimit
	intent.Order.LimitPrice = limit
	return intent
}

func newPaper(cash float64) *PaperGateway {
	return NewPaperGateway(PaperConfig{
		InitialCash: cash,
		Quotes:      map[string]float64{"aapl": 200, "TSLA": 250, "LULU": 320.5},
	}, zerolog.Nop())
}

func TestPaperDollarBuy(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()
	intent := orderIntent(models.IntentBuy, "AAPL", models.AmountDollars, 1000)

	v, err := p.ValidateTrade(ctx, intent)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.Equal(t, 200.0, v.CurrentPrice)
	assert.Equal(t, 1000.0, v.EstimatedCost)

	res, err := p.ExecuteTrade(ctx, intent)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 5.0, res.ExecutedShares)
	assert.Equal(t, 200.0, res.ExecutedPrice)

	acct, err := p.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9000.0, acct.Cash)
	assert.Equal(t, 10000.0, acct.Equity)
	assert.Equal(t, 1000.0, acct.DailySpent)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, "AAPL", acct.Positions[0].Symbol)
	assert.Equal(t, 5.0, acct.Positions[0].Shares)
}

func TestPaperFractionalShares(t *testing.T) {
	p := newPaper(10000)
	res, err := p.ExecuteTrade(context.Background(), orderIntent(models.IntentBuy, "LULU", models.AmountDollars, 100))
	require.NoError(t, err)
	assert.InDelta(t, 100/320.5, res.ExecutedShares, 1e-6)
}

func TestPaperAveragesIn(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()

	_, err := p.ExecuteTrade(ctx, orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 10))
	require.NoError(t, err)
	p.UpdatePrice("AAPL", 220)
	_, err = p.ExecuteTrade(ctx, orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 10))
	require.NoError(t, err)

	acct, err := p.GetAccount(ctx)
	require.NoError(t, err)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, 20.0, acct.Positions[0].Shares)
	assert.Equal(t, 210.0, acct.Positions[0].AveragePrice)
	assert.Equal(t, 220.0, acct.Positions[0].MarketPrice)
}

func TestPaperInsufficientFunds(t *testing.T) {
	p := newPaper(500)
	ctx := context.Background()
	intent := orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 3)

	v, err := p.ValidateTrade(ctx, intent)
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "insufficient funds")

	res, err := p.ExecuteTrade(ctx, intent)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	require.NotNil(t, res)
	assert.False(t, res.Success)

	acct, _ := p.GetAccount(ctx)
	assert.Equal(t, 500.0, acct.Cash)
}

func TestPaperSellAll(t *testing.T) {
	p := newPaper(1000)
	p.SetPosition("aapl", 10, 150)
	ctx := context.Background()
	intent := orderIntent(models.IntentSell, "AAPL", models.AmountShares, models.AllHoldings)

	v, err := p.ValidateTrade(ctx, intent)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.Equal(t, 2000.0, v.EstimatedCost)

	res, err := p.ExecuteTrade(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.ExecutedShares)

	acct, _ := p.GetAccount(ctx)
	assert.Equal(t, 3000.0, acct.Cash)
	assert.Empty(t, acct.Positions)
}

func TestPaperSellWithoutPosition(t *testing.T) {
	p := newPaper(1000)
	ctx := context.Background()

	v, err := p.ValidateTrade(ctx, orderIntent(models.IntentSell, "TSLA", models.AmountShares, models.AllHoldings))
	require.NoError(t, err)
	assert.False(t, v.IsValid)

	_, err = p.ExecuteTrade(ctx, orderIntent(models.IntentSell, "TSLA", models.AmountShares, 2))
	assert.ErrorIs(t, err, apperrors.ErrPositionNotFound)

	var brokerErr *apperrors.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "INSUFFICIENT_SHARES", brokerErr.Code)
}

func TestPaperLimitOrders(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()

	away := limitIntent(models.IntentBuy, "AAPL", 5, 180)
	v, err := p.ValidateTrade(ctx, away)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.Equal(t, 900.0, v.EstimatedCost)
	require.Len(t, v.Warnings, 1)

	_, err = p.ExecuteTrade(ctx, away)
	assert.ErrorIs(t, err, apperrors.ErrExecutionFailed)

	p.UpdatePrice("AAPL", 175)
	res, err := p.ExecuteTrade(ctx, away)
	require.NoError(t, err)
	assert.Equal(t, 180.0, res.ExecutedPrice)
}

func TestPaperUnknownSymbol(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()
	intent := orderIntent(models.IntentBuy, "ZZZZ", models.AmountDollars, 100)

	v, err := p.ValidateTrade(ctx, intent)
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.Contains(t, v.Errors[0], "no quote")

	_, err = p.ExecuteTrade(ctx, intent)
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
}

func TestPaperInformationalIntents(t *testing.T) {
	p := newPaper(10000)
	ctx := context.Background()
	intent := &models.TradeIntent{
		Kind:       models.IntentAnalysis,
		Symbol:     "AAPL",
		Confidence: 0.9,
		Analysis:   &models.AnalysisSpec{AnalysisType: "technical"},
	}

	v, err := p.ValidateTrade(ctx, intent)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.NotEmpty(t, v.Warnings)

	res, err := p.ExecuteTrade(ctx, intent)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.OrderID)

	acct, _ := p.GetAccount(ctx)
	assert.Equal(t, 10000.0, acct.Cash)
}

func TestPaperFees(t *testing.T) {
	p := NewPaperGateway(PaperConfig{
		InitialCash: 1000,
		FeePerOrder: 1.5,
		Quotes:      map[string]float64{"AAPL": 100},
	}, zerolog.Nop())
	ctx := context.Background()

	res, err := p.ExecuteTrade(ctx, orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 2))
	require.NoError(t, err)
	assert.Equal(t, 1.5, res.Fees)
	_, err = p.ExecuteTrade(ctx, orderIntent(models.IntentSell, "AAPL", models.AmountShares, 2))
	require.NoError(t, err)

	acct, _ := p.GetAccount(ctx)
	assert.Equal(t, 997.0, acct.Cash)
}

func TestPaperReset(t *testing.T) {
	p := newPaper(1000)
	ctx := context.Background()
	_, err := p.ExecuteTrade(ctx, orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 1))
	require.NoError(t, err)
	p.UpdatePrice("AAPL", 999)

	p.Reset()
	acct, _ := p.GetAccount(ctx)
	assert.Equal(t, 1000.0, acct.Cash)
	assert.Empty(t, acct.Positions)
	px, ok := p.Price("aapl")
	assert.True(t, ok)
	assert.Equal(t, 200.0, px)
}

func TestPaperCancelledContext(t *testing.T) {
	p := newPaper(1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ExecuteTrade(ctx, orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 1))
	assert.ErrorIs(t, err, context.Canceled)
	ok, err := p.Health(ctx)
	assert.False(t, ok)
	assert.Error(t, err)
}
