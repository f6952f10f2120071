// Package broker provides the gateways trade intents are validated and
// executed against.
package broker

import (
	"context"
	"fmt"
	"math"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
)

// Gateway is the brokerage surface the orchestrator talks to.
type Gateway interface {
	// ValidateTrade runs pre-trade checks. Rejections are reported in the
	// result; the error is reserved for gateway failures.
	ValidateTrade(ctx context.Context, intent *models.TradeIntent) (*models.ValidationResult, error)
	// ExecuteTrade places the order described by intent. Intents that do not
	// move money succeed without an order.
	ExecuteTrade(ctx context.Context, intent *models.TradeIntent) (*models.ExecutionResult, error)
	GetAccount(ctx context.Context) (*models.AccountInfo, error)
	Health(ctx context.Context) (bool, error)
}

// PriceSink receives streamed last traded prices.
type PriceSink interface {
	UpdatePrice(symbol string, price float64)
}

// informational is the validation verdict for intents that place no order.
func informational(intent *models.TradeIntent) *models.ValidationResult {
	return &models.ValidationResult{
		IsValid:  true,
		Warnings: []string{fmt.Sprintf("%s intent places no order", intent.Kind)},
	}
}

// orderPrice is the price an order is costed at: the limit for limit
// orders, the market otherwise.
func orderPrice(o *models.OrderSpec, market float64) float64 {
	if o.OrderType == models.OrderLimit && o.LimitPrice > 0 {
		return o.LimitPrice
	}
	return market
}

// marketable reports whether a limit order would fill at the market price.
func marketable(kind models.IntentKind, o *models.OrderSpec, market float64) bool {
	if o.OrderType != models.OrderLimit {
		return true
	}
	if kind == models.IntentBuy {
		return market <= o.LimitPrice
	}
	return market >= o.LimitPrice
}

// wholeShares converts an order amount to an integral share count.
func wholeShares(o *models.OrderSpec, price, held float64) (int, error) {
	switch {
	case o.IsAllHoldings():
		if held <= 0 {
			return 0, apperrors.ErrPositionNotFound
		}
		return int(math.Floor(held)), nil
	case o.AmountType == models.AmountDollars:
		if price <= 0 {
			return 0, fmt.Errorf("no price to size a dollar order")
		}
		return int(math.Floor(o.Amount / price)), nil
	default:
		return int(math.Floor(o.Amount)), nil
	}
}
