package broker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
)

// Limits caps buy orders. Zero disables a limit.
type Limits struct {
	MaxPositionSize  float64
	MaxDailySpending float64
}

// LimitedGateway enforces Limits in front of another gateway. Spend is
// reserved before execution and settled to the filled value afterwards.
type LimitedGateway struct {
	Gateway
	limits Limits
	now    func() time.Time

	mu    sync.Mutex
	spent decimal.Decimal
	day   string
}

// WithLimits wraps gw with position and daily spending limits.
func WithLimits(gw Gateway, limits Limits) *LimitedGateway {
	return &LimitedGateway{Gateway: gw, limits: limits, now: time.Now}
}

// Spent returns today's settled and reserved buy spend.
func (l *LimitedGateway) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.spent.InexactFloat64()
}

func (l *LimitedGateway) ValidateTrade(ctx context.Context, intent *models.TradeIntent) (*models.ValidationResult, error) {
	v, err := l.Gateway.ValidateTrade(ctx, intent)
	if err != nil || v == nil || intent.Kind != models.IntentBuy {
		return v, err
	}
	l.mu.Lock()
	rerr := l.checkLocked(decimal.NewFromFloat(v.EstimatedCost))
	l.mu.Unlock()
	if rerr != nil {
		v.IsValid = false
		v.Errors = append(v.Errors, rerr.Error())
	}
	return v, nil
}

func (l *LimitedGateway) ExecuteTrade(ctx context.Context, intent *models.TradeIntent) (*models.ExecutionResult, error) {
	if intent.Kind != models.IntentBuy || intent.Order == nil {
		return l.Gateway.ExecuteTrade(ctx, intent)
	}

	estimate, err := l.estimate(ctx, intent)
	if err != nil {
		return nil, err
	}
	reserved := decimal.NewFromFloat(estimate)
	l.mu.Lock()
	if rerr := l.checkLocked(reserved); rerr != nil {
		l.mu.Unlock()
		return &models.ExecutionResult{Success: false, Error: rerr.Error()}, rerr
	}
	l.spent = l.spent.Add(reserved)
	l.mu.Unlock()

	res, err := l.Gateway.ExecuteTrade(ctx, intent)

	l.mu.Lock()
	l.spent = l.spent.Sub(reserved)
	if err == nil && res != nil && res.Success {
		filled := decimal.NewFromFloat(res.ExecutedPrice).Mul(decimal.NewFromFloat(res.ExecutedShares))
		l.spent = l.spent.Add(filled)
	}
	if l.spent.IsNegative() {
		l.spent = decimal.Zero
	}
	l.mu.Unlock()
	return res, err
}

// GetAccount reports the larger of the broker's and the tracked daily spend.
func (l *LimitedGateway) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	info, err := l.Gateway.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	if spent := l.Spent(); spent > info.DailySpent {
		info.DailySpent = spent
	}
	return info, nil
}

func (l *LimitedGateway) estimate(ctx context.Context, intent *models.TradeIntent) (float64, error) {
	if intent.Order.AmountType == models.AmountDollars {
		return intent.Order.Amount, nil
	}
	v, err := l.Gateway.ValidateTrade(ctx, intent)
	if err != nil {
		return 0, err
	}
	return v.EstimatedCost, nil
}

func (l *LimitedGateway) checkLocked(cost decimal.Decimal) error {
	l.rolloverLocked()
	c := cost.InexactFloat64()
	if l.limits.MaxPositionSize > 0 && c > l.limits.MaxPositionSize {
		return apperrors.NewRiskError("max_position_size", c, l.limits.MaxPositionSize,
			"order exceeds the maximum position size")
	}
	if l.limits.MaxDailySpending > 0 {
		total := l.spent.Add(cost).InexactFloat64()
		if total > l.limits.MaxDailySpending {
			return apperrors.NewRiskError("max_daily_spending", total, l.limits.MaxDailySpending,
				"order exceeds the daily spending limit")
		}
	}
	return nil
}

func (l *LimitedGateway) rolloverLocked() {
	today := l.now().Format("2006-01-02")
	if l.day != today {
		l.day = today
		l.spent = decimal.Zero
	}
}
