package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
	"intent-trader/internal/resilience"
)

func TestLimitsRejectOversizedOrder(t *testing.T) {
	gw := WithLimits(newPaper(100000), Limits{MaxPositionSize: 10000})
	ctx := context.Background()
	intent := orderIntent(models.IntentBuy, "AAPL", models.AmountDollars, 15000)

	v, err := gw.ValidateTrade(ctx, intent)
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.Contains(t, v.Errors[0], "maximum position size")

	res, err := gw.ExecuteTrade(ctx, intent)
	assert.ErrorIs(t, err, apperrors.ErrRiskLimit)
	require.NotNil(t, res)
	assert.False(t, res.Success)

	var riskErr *apperrors.RiskError
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "max_position_size", riskErr.Rule)
}

func TestLimitsTrackDailySpend(t *testing.T) {
	gw := WithLimits(newPaper(100000), Limits{MaxDailySpending: 2500})
	ctx := context.Background()
	buy := orderIntent(models.IntentBuy, "TSLA", models.AmountDollars, 1000)

	for i := 0; i < 2; i++ {
		res, err := gw.ExecuteTrade(ctx, buy)
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	assert.Equal(t, 2000.0, gw.Spent())

	_, err := gw.ExecuteTrade(ctx, buy)
	var riskErr *apperrors.RiskError
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, "max_daily_spending", riskErr.Rule)
	assert.Equal(t, 3000.0, riskErr.Current)

	acct, err := gw.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, acct.DailySpent)

	gw.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	assert.Zero(t, gw.Spent())
}

func TestLimitsSellsAreUnrestricted(t *testing.T) {
	paper := newPaper(100)
	paper.SetPosition("AAPL", 100, 150)
	gw := WithLimits(paper, Limits{MaxPositionSize: 1000, MaxDailySpending: 1000})

	res, err := gw.ExecuteTrade(context.Background(), orderIntent(models.IntentSell, "AAPL", models.AmountShares, models.AllHoldings))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.ExecutedShares)
	assert.Zero(t, gw.Spent())
}

func TestLimitsReleaseReservationOnFailure(t *testing.T) {
	gw := WithLimits(newPaper(500), Limits{MaxDailySpending: 10000})

	_, err := gw.ExecuteTrade(context.Background(), orderIntent(models.IntentBuy, "AAPL", models.AmountDollars, 1000))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	assert.Zero(t, gw.Spent())
}

type flakyGateway struct {
	*PaperGateway
	executeErr error
	calls      atomic.Int32
}

func (f *flakyGateway) ExecuteTrade(ctx context.Context, intent *models.TradeIntent) (*models.ExecutionResult, error) {
	f.calls.Add(1)
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return f.PaperGateway.ExecuteTrade(ctx, intent)
}

func TestBreakerIgnoresRejections(t *testing.T) {
	cb := resilience.NewCircuitBreaker("broker", resilience.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	gw := WithBreaker(&flakyGateway{PaperGateway: newPaper(100)}, cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := gw.ExecuteTrade(ctx, orderIntent(models.IntentSell, "AAPL", models.AmountShares, 1))
		assert.ErrorIs(t, err, apperrors.ErrPositionNotFound)
	}
	assert.Equal(t, resilience.CircuitClosed, cb.State())
}

func TestBreakerOpensOnOutage(t *testing.T) {
	outage := errors.New("connection reset")
	inner := &flakyGateway{PaperGateway: newPaper(10000), executeErr: outage}
	cb := resilience.NewCircuitBreaker("broker", resilience.CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	gw := WithBreaker(inner, cb)
	ctx := context.Background()
	buy := orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 1)

	for i := 0; i < 2; i++ {
		_, err := gw.ExecuteTrade(ctx, buy)
		assert.ErrorIs(t, err, outage)
	}
	_, err := gw.ExecuteTrade(ctx, buy)
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load())

	ok, err := gw.Health(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
}

func TestDecoratorsCompose(t *testing.T) {
	cb := resilience.NewCircuitBreaker("broker", resilience.DefaultCircuitBreakerConfig())
	var gw Gateway = WithLimits(WithBreaker(NewPaperGateway(PaperConfig{
		InitialCash: 1000,
		Quotes:      map[string]float64{"AAPL": 100},
	}, zerolog.Nop()), cb), Limits{MaxPositionSize: 500})

	res, err := gw.ExecuteTrade(context.Background(), orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 3))
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = gw.ExecuteTrade(context.Background(), orderIntent(models.IntentBuy, "AAPL", models.AmountShares, 6))
	assert.ErrorIs(t, err, apperrors.ErrRiskLimit)
}
