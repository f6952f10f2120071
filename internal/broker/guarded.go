package broker

import (
	"context"
	"errors"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
	"intent-trader/internal/resilience"
)

// GuardedGateway routes gateway calls through a circuit breaker. Order
// rejections pass through without counting as failures.
type GuardedGateway struct {
	Gateway
	breaker *resilience.CircuitBreaker
}

// WithBreaker wraps gw with cb.
func WithBreaker(gw Gateway, cb *resilience.CircuitBreaker) *GuardedGateway {
	return &GuardedGateway{Gateway: gw, breaker: cb}
}

func (g *GuardedGateway) ValidateTrade(ctx context.Context, intent *models.TradeIntent) (*models.ValidationResult, error) {
	return resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) (*models.ValidationResult, error) {
		return g.Gateway.ValidateTrade(ctx, intent)
	})
}

func (g *GuardedGateway) ExecuteTrade(ctx context.Context, intent *models.TradeIntent) (*models.ExecutionResult, error) {
	var rejection error
	res, err := resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) (*models.ExecutionResult, error) {
		r, err := g.Gateway.ExecuteTrade(ctx, intent)
		if isRejection(err) {
			rejection = err
			return r, nil
		}
		return r, err
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return res, rejection
	}
	return res, nil
}

func (g *GuardedGateway) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	return resilience.ExecuteWithResult(g.breaker, ctx, g.Gateway.GetAccount)
}

// Health fails fast while the circuit is open.
func (g *GuardedGateway) Health(ctx context.Context) (bool, error) {
	if g.breaker.State() == resilience.CircuitOpen {
		return false, apperrors.ErrCircuitOpen
	}
	return g.Gateway.Health(ctx)
}

// isRejection reports whether err is the broker refusing an order rather
// than the broker being unavailable.
func isRejection(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		apperrors.ErrInsufficientFunds,
		apperrors.ErrPositionNotFound,
		apperrors.ErrSymbolNotFound,
		apperrors.ErrRiskLimit,
		apperrors.ErrExecutionFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
