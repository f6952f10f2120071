package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/logging"
	"intent-trader/internal/models"
)

const shareScale = 6

// PaperConfig holds configuration for the paper gateway.
type PaperConfig struct {
	AccountID   string
	InitialCash float64
	FeePerOrder float64
	Quotes      map[string]float64
}

type paperPosition struct {
	shares   decimal.Decimal
	avgPrice decimal.Decimal
}

// PaperGateway simulates fills against a quote table. Cash and positions are
// kept in decimal; dollar orders may produce fractional shares.
type PaperGateway struct {
	cfg    PaperConfig
	logger zerolog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	cash         decimal.Decimal
	positions    map[string]*paperPosition
	prices       map[string]float64
	dailySpent   decimal.Decimal
	day          string
	orderCounter int
}

// NewPaperGateway creates a paper gateway.
func NewPaperGateway(cfg PaperConfig, logger zerolog.Logger) *PaperGateway {
	if cfg.InitialCash == 0 {
		cfg.InitialCash = 100000
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "PAPER"
	}
	p := &PaperGateway{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "paper_broker"),
		now:    time.Now,
	}
	p.Reset()
	return p
}

// Reset restores the initial cash and quote table and drops all positions.
func (p *PaperGateway) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = decimal.NewFromFloat(p.cfg.InitialCash)
	p.positions = make(map[string]*paperPosition)
	p.prices = make(map[string]float64, len(p.cfg.Quotes))
	for sym, px := range p.cfg.Quotes {
		if px > 0 {
			p.prices[strings.ToUpper(sym)] = px
		}
	}
	p.dailySpent = decimal.Zero
	p.day = ""
	p.orderCounter = 0
}

// UpdatePrice sets the simulated market price for a symbol.
func (p *PaperGateway) UpdatePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	p.prices[strings.ToUpper(symbol)] = price
	p.mu.Unlock()
}

// Price returns the simulated market price for a symbol.
func (p *PaperGateway) Price(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	px, ok := p.prices[strings.ToUpper(symbol)]
	return px, ok
}

// SetPosition seeds a holding.
func (p *PaperGateway) SetPosition(symbol string, shares, avgPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := strings.ToUpper(symbol)
	if shares <= 0 {
		delete(p.positions, sym)
		return
	}
	p.positions[sym] = &paperPosition{
		shares:   decimal.NewFromFloat(shares),
		avgPrice: decimal.NewFromFloat(avgPrice),
	}
}

// ValidateTrade checks quote availability, cash and holdings.
func (p *PaperGateway) ValidateTrade(ctx context.Context, intent *models.TradeIntent) (*models.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !intent.Kind.IsOrder() || intent.Order == nil {
		return informational(intent), nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	v := &models.ValidationResult{IsValid: true}
	reject := func(format string, args ...any) (*models.ValidationResult, error) {
		v.IsValid = false
		v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
		return v, nil
	}

	sym := strings.ToUpper(intent.Symbol)
	market, ok := p.prices[sym]
	if !ok {
		return reject("no quote for %s", sym)
	}
	v.CurrentPrice = market

	o := intent.Order
	px := decimal.NewFromFloat(orderPrice(o, market))
	shares, err := p.sharesFor(sym, o, px)
	if err != nil {
		return reject("%s: %v", sym, err)
	}
	cost := shares.Mul(px)
	v.EstimatedCost = cost.Round(2).InexactFloat64()

	switch intent.Kind {
	case models.IntentBuy:
		need := cost.Add(decimal.NewFromFloat(p.cfg.FeePerOrder))
		if need.GreaterThan(p.cash) {
			return reject("insufficient funds: need %s, have %s", need.StringFixed(2), p.cash.StringFixed(2))
		}
	case models.IntentSell:
		if held := p.heldLocked(sym); shares.GreaterThan(held) {
			return reject("insufficient shares: selling %s, holding %s", shares.String(), held.String())
		}
	}

	if !marketable(intent.Kind, o, market) {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("limit %.2f is away from the market at %.2f and will not fill yet", o.LimitPrice, market))
	}
	return v, nil
}

// ExecuteTrade fills the order immediately at the market, or at the limit
// when the limit is marketable.
func (p *PaperGateway) ExecuteTrade(ctx context.Context, intent *models.TradeIntent) (*models.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !intent.Kind.IsOrder() || intent.Order == nil {
		return &models.ExecutionResult{Success: true}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sym := strings.ToUpper(intent.Symbol)
	o := intent.Order
	market, ok := p.prices[sym]
	if !ok {
		return rejected("NO_QUOTE", fmt.Sprintf("no quote for %s", sym), apperrors.ErrSymbolNotFound)
	}
	if !marketable(intent.Kind, o, market) {
		return rejected("LIMIT_NOT_REACHED",
			fmt.Sprintf("limit %.2f not reached, market at %.2f", o.LimitPrice, market), apperrors.ErrExecutionFailed)
	}

	px := decimal.NewFromFloat(orderPrice(o, market))
	shares, err := p.sharesFor(sym, o, px)
	if err != nil {
		return rejected("NO_POSITION", fmt.Sprintf("no %s position to sell", sym), err)
	}
	if !shares.IsPositive() {
		return rejected("ZERO_QUANTITY", "order rounds to zero shares", apperrors.ErrExecutionFailed)
	}

	fee := decimal.NewFromFloat(p.cfg.FeePerOrder)
	value := shares.Mul(px)

	switch intent.Kind {
	case models.IntentBuy:
		total := value.Add(fee)
		if total.GreaterThan(p.cash) {
			return rejected("INSUFFICIENT_FUNDS",
				fmt.Sprintf("need %s, have %s", total.StringFixed(2), p.cash.StringFixed(2)), apperrors.ErrInsufficientFunds)
		}
		p.cash = p.cash.Sub(total)
		p.rolloverLocked()
		p.dailySpent = p.dailySpent.Add(total)
	case models.IntentSell:
		if held := p.heldLocked(sym); shares.GreaterThan(held) {
			return rejected("INSUFFICIENT_SHARES",
				fmt.Sprintf("selling %s %s, holding %s", shares.String(), sym, held.String()), apperrors.ErrPositionNotFound)
		}
		p.cash = p.cash.Add(value).Sub(fee)
	}
	p.updatePosition(sym, intent.Kind, shares, px)

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", p.now().Unix(), p.orderCounter)
	logging.LogExecution(p.logger, sym, string(intent.Kind), orderID, 1, px.InexactFloat64(), nil)

	return &models.ExecutionResult{
		Success:        true,
		OrderID:        orderID,
		ExecutedPrice:  px.InexactFloat64(),
		ExecutedShares: shares.InexactFloat64(),
		Fees:           fee.InexactFloat64(),
	}, nil
}

// GetAccount returns simulated cash, equity and positions.
func (p *PaperGateway) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked()

	equity := p.cash
	positions := make([]models.Position, 0, len(p.positions))
	for sym, pos := range p.positions {
		mark := pos.avgPrice
		if px, ok := p.prices[sym]; ok {
			mark = decimal.NewFromFloat(px)
		}
		equity = equity.Add(pos.shares.Mul(mark))
		positions = append(positions, models.Position{
			Symbol:       sym,
			Shares:       pos.shares.InexactFloat64(),
			AveragePrice: pos.avgPrice.Round(4).InexactFloat64(),
			MarketPrice:  mark.InexactFloat64(),
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	return &models.AccountInfo{
		AccountID:   p.cfg.AccountID,
		Cash:        p.cash.Round(2).InexactFloat64(),
		BuyingPower: p.cash.Round(2).InexactFloat64(),
		Equity:      equity.Round(2).InexactFloat64(),
		DailySpent:  p.dailySpent.Round(2).InexactFloat64(),
		Positions:   positions,
	}, nil
}

// Health always reports healthy for paper trading.
func (p *PaperGateway) Health(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PaperGateway) sharesFor(sym string, o *models.OrderSpec, px decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case o.IsAllHoldings():
		held := p.heldLocked(sym)
		if !held.IsPositive() {
			return decimal.Zero, apperrors.ErrPositionNotFound
		}
		return held, nil
	case o.AmountType == models.AmountDollars:
		if !px.IsPositive() {
			return decimal.Zero, fmt.Errorf("no price to size a dollar order")
		}
		return decimal.NewFromFloat(o.Amount).DivRound(px, shareScale), nil
	default:
		return decimal.NewFromFloat(o.Amount), nil
	}
}

func (p *PaperGateway) heldLocked(sym string) decimal.Decimal {
	if pos, ok := p.positions[sym]; ok {
		return pos.shares
	}
	return decimal.Zero
}

// updatePosition applies a fill. Buys average in; sells keep the average
// and drop the position when flat.
func (p *PaperGateway) updatePosition(sym string, kind models.IntentKind, shares, px decimal.Decimal) {
	pos, ok := p.positions[sym]
	if kind == models.IntentBuy {
		if !ok {
			p.positions[sym] = &paperPosition{shares: shares, avgPrice: px}
			return
		}
		total := pos.shares.Add(shares)
		pos.avgPrice = pos.shares.Mul(pos.avgPrice).Add(shares.Mul(px)).Div(total)
		pos.shares = total
		return
	}
	if !ok {
		return
	}
	pos.shares = pos.shares.Sub(shares)
	if !pos.shares.IsPositive() {
		delete(p.positions, sym)
	}
}

func (p *PaperGateway) rolloverLocked() {
	today := p.now().Format("2006-01-02")
	if p.day != today {
		p.day = today
		p.dailySpent = decimal.Zero
	}
}

func rejected(code, message string, cause error) (*models.ExecutionResult, error) {
	err := apperrors.NewBrokerError(code, message, cause)
	return &models.ExecutionResult{Success: false, Error: err.Error()}, err
}
