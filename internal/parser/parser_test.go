package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-trader/internal/models"
	"intent-trader/internal/normalize"
)

func TestParseDollarBuy(t *testing.T) {
	r := New().Parse("buy $100 of AAPL")

	require.True(t, r.Matched())
	assert.GreaterOrEqual(t, r.Confidence, 0.9)
	assert.Equal(t, "dollar_amount", r.Rule)
	assert.Equal(t, models.IntentBuy, r.Intent.Kind)
	assert.Equal(t, "AAPL", r.Intent.Symbol)
	require.NotNil(t, r.Intent.Order)
	assert.Equal(t, models.AmountDollars, r.Intent.Order.AmountType)
	assert.Equal(t, 100.0, r.Intent.Order.Amount)
	assert.Equal(t, models.OrderMarket, r.Intent.Order.OrderType)
}

func TestParseScaledAmounts(t *testing.T) {
	n := normalize.New()
	p := New()

	tests := []struct {
		input      string
		rule       string
		amountType models.AmountType
		amount     float64
	}{
		{"buy 2k of nvda", "dollar_amount", models.AmountDollars, 2000},
		{"buy 5 k of amd", "dollar_amount", models.AmountDollars, 5000},
		{"buy 2k shares of nvda", "share_count", models.AmountShares, 2000},
	}
	for _, tt := range tests {
		r := p.Parse(n.Normalize(tt.input))
		require.True(t, r.Matched(), tt.input)
		assert.Equal(t, tt.rule, r.Rule, tt.input)
		assert.Equal(t, tt.amountType, r.Intent.Order.AmountType, tt.input)
		assert.Equal(t, tt.amount, r.Intent.Order.Amount, tt.input)
	}
}

func TestParseSellAll(t *testing.T) {
	for _, input := range []string{"sell all TSLA", "sell all my TSLA shares", "sell all of my TSLA", "sell everything TSLA"} {
		r := New().Parse(input)
		require.True(t, r.Matched(), input)
		assert.Equal(t, "sell_all", r.Rule, input)
		assert.Equal(t, models.AllHoldings, r.Intent.Order.Amount, input)
		assert.Equal(t, models.AmountShares, r.Intent.Order.AmountType, input)
		assert.True(t, r.Intent.Order.IsAllHoldings())
	}
}

func TestParseRules(t *testing.T) {
	tests := []struct {
		input      string
		rule       string
		kind       models.IntentKind
		symbol     string
		amountType models.AmountType
		amount     float64
		orderType  models.OrderType
		limitPrice float64
	}{
		{"buy 10 shares of MSFT", "share_count", models.IntentBuy, "MSFT", models.AmountShares, 10, models.OrderMarket, 0},
		{"sell 5 NVDA", "share_count", models.IntentSell, "NVDA", models.AmountShares, 5, models.OrderMarket, 0},
		{"buy 10 shares of AAPL at $150", "limit_shares", models.IntentBuy, "AAPL", models.AmountShares, 10, models.OrderLimit, 150},
		{"sell $2000 of TSLA limit 260.5", "limit_dollar", models.IntentSell, "TSLA", models.AmountDollars, 2000, models.OrderLimit, 260.5},
		{"AAPL buy $250", "symbol_first", models.IntentBuy, "AAPL", models.AmountDollars, 250, models.OrderMarket, 0},
		{"MSFT sell 3 shares", "symbol_first", models.IntentSell, "MSFT", models.AmountShares, 3, models.OrderMarket, 0},
		{"buy AAPL $500", "symbol_before_amount", models.IntentBuy, "AAPL", models.AmountDollars, 500, models.OrderMarket, 0},
		{"buy 0.5 share of AMZN", "fractional_shares", models.IntentBuy, "AMZN", models.AmountShares, 0.5, models.OrderMarket, 0},
		{"buy two hundred shares of AAPL", "spelled_out", models.IntentBuy, "AAPL", models.AmountShares, 200, models.OrderMarket, 0},
		{"buy five thousand dollars of MSFT", "spelled_out", models.IntentBuy, "MSFT", models.AmountDollars, 5000, models.OrderMarket, 0},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r := p.Parse(tt.input)
			require.True(t, r.Matched())
			assert.Equal(t, tt.rule, r.Rule)
			assert.Equal(t, tt.kind, r.Intent.Kind)
			assert.Equal(t, tt.symbol, r.Intent.Symbol)
			assert.Equal(t, tt.amountType, r.Intent.Order.AmountType)
			assert.InDelta(t, tt.amount, r.Intent.Order.Amount, 1e-9)
			assert.Equal(t, tt.orderType, r.Intent.Order.OrderType)
			assert.InDelta(t, tt.limitPrice, r.Intent.Order.LimitPrice, 1e-9)
			assert.NoError(t, r.Intent.Validate())
		})
	}
}

func TestParseNoMatch(t *testing.T) {
	p := New()
	for _, input := range []string{
		"hedge my LULU position",
		"buy $100 of ALL",      // stop word, not a ticker
		"buy 0 shares of AAPL", // non-positive amount
		"buy $100 of TOOLONG",
		"what is my balance",
		"",
	} {
		r := p.Parse(input)
		assert.False(t, r.Matched(), input)
		assert.Zero(t, r.Confidence, input)
		assert.Nil(t, r.Intent, input)
	}
}

func TestRulesSortedByConfidence(t *testing.T) {
	rules := New().Rules()
	require.NotEmpty(t, rules)
	for i := 1; i < len(rules); i++ {
		assert.GreaterOrEqual(t, rules[i-1].Confidence, rules[i].Confidence)
	}
	assert.Equal(t, "limit_dollar", rules[0].Name, "ties keep declaration order")
}
