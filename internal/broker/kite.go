package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/logging"
	"intent-trader/internal/models"
	"intent-trader/pkg/utils"
)

// KiteConfig holds configuration for the Zerodha Kite Connect gateway.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Product     string
	BaseURI     string
}

// KiteGateway executes intents through Zerodha Kite Connect. Quantities
// are whole shares.
type KiteGateway struct {
	client   *kiteconnect.Client
	exchange string
	product  string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewKiteGateway creates a Kite gateway. The access token must come from a
// completed Kite login.
func NewKiteGateway(cfg KiteConfig, logger zerolog.Logger) *KiteGateway {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}
	if cfg.BaseURI != "" {
		client.SetBaseURI(cfg.BaseURI)
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	if cfg.Product == "" {
		cfg.Product = "CNC"
	}
	return &KiteGateway{
		client:   client,
		exchange: strings.ToUpper(cfg.Exchange),
		product:  strings.ToUpper(cfg.Product),
		logger:   logging.WithComponent(logger, "kite_broker"),
		now:      time.Now,
	}
}

func (k *KiteGateway) instrument(symbol string) string {
	return k.exchange + ":" + strings.ToUpper(symbol)
}

func (k *KiteGateway) lastPrice(symbol string) (float64, error) {
	key := k.instrument(symbol)
	start := time.Now()
	quotes, err := k.client.GetQuote(key)
	logging.LogAPICall(k.logger, "GET", "/quote", time.Since(start), err)
	if err != nil {
		return 0, apperrors.NewBrokerError("QUOTE", "failed to get quote", err)
	}
	q, ok := quotes[key]
	if !ok || q.LastPrice <= 0 {
		return 0, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "%s", key)
	}
	return q.LastPrice, nil
}

// holding returns the delivery quantity held for symbol.
func (k *KiteGateway) holding(symbol string) (float64, error) {
	holdings, err := k.client.GetHoldings()
	if err != nil {
		return 0, apperrors.NewBrokerError("HOLDINGS", "failed to get holdings", err)
	}
	for _, h := range holdings {
		if strings.EqualFold(h.Tradingsymbol, symbol) {
			return float64(h.Quantity), nil
		}
	}
	return 0, nil
}

func (k *KiteGateway) availableCash() (float64, error) {
	margins, err := k.client.GetUserMargins()
	if err != nil {
		return 0, apperrors.NewBrokerError("MARGINS", "failed to get margins", err)
	}
	return margins.Equity.Available.Cash, nil
}

// ValidateTrade prices the order from the last traded price and checks
// cash or holdings.
func (k *KiteGateway) ValidateTrade(ctx context.Context, intent *models.TradeIntent) (*models.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !intent.Kind.IsOrder() || intent.Order == nil {
		return informational(intent), nil
	}

	v := &models.ValidationResult{IsValid: true}
	reject := func(format string, args ...any) (*models.ValidationResult, error) {
		v.IsValid = false
		v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
		return v, nil
	}

	market, err := k.lastPrice(intent.Symbol)
	if apperrors.Is(err, apperrors.ErrSymbolNotFound) {
		return reject("no quote for %s on %s", intent.Symbol, k.exchange)
	}
	if err != nil {
		return nil, err
	}
	v.CurrentPrice = market

	o := intent.Order
	px := orderPrice(o, market)
	var held float64
	if intent.Kind == models.IntentSell {
		if held, err = k.holding(intent.Symbol); err != nil {
			return nil, err
		}
	}
	qty, err := wholeShares(o, px, held)
	if err != nil {
		return reject("%s: %v", intent.Symbol, err)
	}
	if qty < 1 {
		return reject("order is smaller than one share at %.2f", px)
	}
	v.EstimatedCost = float64(qty) * px

	switch intent.Kind {
	case models.IntentBuy:
		cash, err := k.availableCash()
		if err != nil {
			return nil, err
		}
		if v.EstimatedCost > cash {
			return reject("insufficient funds: need %.2f, have %.2f", v.EstimatedCost, cash)
		}
	case models.IntentSell:
		if float64(qty) > held {
			return reject("insufficient shares: selling %d, holding %.0f", qty, held)
		}
	}

	if !marketable(intent.Kind, o, market) {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("limit %.2f is away from the market at %.2f and will rest on the book", o.LimitPrice, market))
	}
	if !utils.IsMarketOpen(k.now()) {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s is closed, regular orders are rejected until the session opens", k.exchange))
	}
	return v, nil
}

// ExecuteTrade places a regular order. Kite fills asynchronously, so the
// reported price is the reference price the order was sized at.
func (k *KiteGateway) ExecuteTrade(ctx context.Context, intent *models.TradeIntent) (*models.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !intent.Kind.IsOrder() || intent.Order == nil {
		return &models.ExecutionResult{Success: true}, nil
	}

	market, err := k.lastPrice(intent.Symbol)
	if err != nil {
		return &models.ExecutionResult{Success: false, Error: err.Error()}, err
	}
	o := intent.Order
	px := orderPrice(o, market)

	var held float64
	if o.IsAllHoldings() {
		if held, err = k.holding(intent.Symbol); err != nil {
			return &models.ExecutionResult{Success: false, Error: err.Error()}, err
		}
	}
	qty, err := wholeShares(o, px, held)
	if err != nil {
		return rejected("QUANTITY", err.Error(), err)
	}
	if qty < 1 {
		return rejected("ZERO_QUANTITY", "order rounds to zero shares", apperrors.ErrExecutionFailed)
	}

	params := kiteconnect.OrderParams{
		Exchange:        k.exchange,
		Tradingsymbol:   strings.ToUpper(intent.Symbol),
		TransactionType: strings.ToUpper(string(intent.Kind)),
		OrderType:       "MARKET",
		Product:         k.product,
		Quantity:        qty,
		Validity:        "DAY",
		Tag:             "intent",
	}
	if o.OrderType == models.OrderLimit {
		params.OrderType = "LIMIT"
		params.Price = o.LimitPrice
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		logging.LogExecution(k.logger, params.Tradingsymbol, params.TransactionType, "", 1, px, err)
		return rejected("PLACE_ORDER", "failed to place order", err)
	}
	logging.LogExecution(k.logger, params.Tradingsymbol, params.TransactionType, resp.OrderID, 1, px, nil)

	return &models.ExecutionResult{
		Success:        true,
		OrderID:        resp.OrderID,
		ExecutedPrice:  px,
		ExecutedShares: float64(qty),
	}, nil
}

// GetAccount combines equity margins with delivery holdings.
func (k *KiteGateway) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	margins, err := k.client.GetUserMargins()
	if err != nil {
		return nil, apperrors.NewBrokerError("MARGINS", "failed to get margins", err)
	}
	holdings, err := k.client.GetHoldings()
	if err != nil {
		return nil, apperrors.NewBrokerError("HOLDINGS", "failed to get holdings", err)
	}

	info := &models.AccountInfo{
		AccountID:   k.exchange,
		Cash:        margins.Equity.Available.Cash,
		BuyingPower: margins.Equity.Net,
		Equity:      margins.Equity.Net,
		Positions:   make([]models.Position, 0, len(holdings)),
	}
	for _, h := range holdings {
		info.Positions = append(info.Positions, models.Position{
			Symbol:       h.Tradingsymbol,
			Shares:       float64(h.Quantity),
			AveragePrice: h.AveragePrice,
			MarketPrice:  h.LastPrice,
		})
		info.Equity += h.LastPrice * float64(h.Quantity)
	}
	if profile, err := k.client.GetUserProfile(); err == nil && profile.UserID != "" {
		info.AccountID = profile.UserID
	}
	return info, nil
}

// Health verifies the session by fetching the user profile.
func (k *KiteGateway) Health(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := k.client.GetUserProfile(); err != nil {
		return false, apperrors.NewBrokerError("SESSION", "kite session check failed", err)
	}
	return true, nil
}
