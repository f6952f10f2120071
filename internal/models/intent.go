// Package models defines the domain types shared across the resolution and trading pipeline.
package models

import (
	"fmt"
	"strings"

	"intent-trader/internal/symbols"
)

// IntentKind tags the variant carried by a TradeIntent.
type IntentKind string

const (
	IntentBuy            IntentKind = "buy"
	IntentSell           IntentKind = "sell"
	IntentAnalysis       IntentKind = "analysis"
	IntentHedge          IntentKind = "hedge"
	IntentRecommendation IntentKind = "recommendation"
	IntentCustom         IntentKind = "custom"
)

// IsOrder reports whether the kind moves money through an order.
func (k IntentKind) IsOrder() bool {
	return k == IntentBuy || k == IntentSell
}

// Valid reports whether k is one of the known kinds.
func (k IntentKind) Valid() bool {
	switch k {
	case IntentBuy, IntentSell, IntentAnalysis, IntentHedge, IntentRecommendation, IntentCustom:
		return true
	}
	return false
}

// AmountType says how an order amount is denominated.
type AmountType string

const (
	AmountDollars AmountType = "dollars"
	AmountShares  AmountType = "shares"
)

// OrderType is the order type of a buy/sell intent.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// AllHoldings is the amount sentinel meaning "everything held".
const AllHoldings = -1.0

// UnknownSymbol is placed on best-effort stub intents. It fails the
// symbol format check on purpose.
const UnknownSymbol = "UNKNOWN"

// TradeIntent is the canonical structured form of a user command.
// Exactly one payload pointer is set and it must match Kind.
type TradeIntent struct {
	ID         string         `json:"id"`
	Kind       IntentKind     `json:"kind"`
	Symbol     string         `json:"symbol"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	Order          *OrderSpec          `json:"order,omitempty"`
	Analysis       *AnalysisSpec       `json:"analysis,omitempty"`
	Hedge          *HedgeSpec          `json:"hedge,omitempty"`
	Recommendation *RecommendationSpec `json:"recommendation,omitempty"`
	Custom         *CustomSpec         `json:"custom,omitempty"`
}

// OrderSpec is the payload of buy and sell intents.
type OrderSpec struct {
	AmountType AmountType `json:"amount_type"`
	Amount     float64    `json:"amount"`
	OrderType  OrderType  `json:"order_type"`
	LimitPrice float64    `json:"limit_price,omitempty"`
}

// IsAllHoldings reports whether the order uses the sentinel amount.
func (o *OrderSpec) IsAllHoldings() bool {
	return o.Amount == AllHoldings
}

// AnalysisSpec is the payload of analysis intents.
type AnalysisSpec struct {
	AnalysisType string `json:"analysis_type"` // technical, fundamental, sentiment, comprehensive
	Timeframe    string `json:"timeframe,omitempty"`
}

// HedgeSpec is the payload of hedge intents.
type HedgeSpec struct {
	Strategy    string   `json:"strategy"` // protective_put, collar, inverse_etf, pairs
	HedgeRatio  float64  `json:"hedge_ratio"`
	Instruments []string `json:"instruments,omitempty"`
}

// RecommendationSpec is the payload of recommendation intents.
type RecommendationSpec struct {
	Criteria      string `json:"criteria"`
	RiskTolerance string `json:"risk_tolerance,omitempty"` // low, medium, high
	Count         int    `json:"count,omitempty"`
}

// CustomSpec is the payload of custom intents.
type CustomSpec struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Validate checks the structural invariants of the intent.
func (t *TradeIntent) Validate() error {
	if t == nil {
		return fmt.Errorf("intent is nil")
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown intent kind %q", t.Kind)
	}
	if err := symbols.Validate(t.Symbol); err != nil {
		return err
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %f", t.Confidence)
	}

	set := 0
	for _, present := range []bool{t.Order != nil, t.Analysis != nil, t.Hedge != nil, t.Recommendation != nil, t.Custom != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("intent must carry exactly one payload, got %d", set)
	}

	switch t.Kind {
	case IntentBuy, IntentSell:
		if t.Order == nil {
			return fmt.Errorf("%s intent requires an order payload", t.Kind)
		}
		return t.Order.validate(t.Kind)
	case IntentAnalysis:
		if t.Analysis == nil {
			return fmt.Errorf("analysis intent requires an analysis payload")
		}
	case IntentHedge:
		if t.Hedge == nil {
			return fmt.Errorf("hedge intent requires a hedge payload")
		}
		if t.Hedge.HedgeRatio < 0 || t.Hedge.HedgeRatio > 1 {
			return fmt.Errorf("hedge ratio must be between 0 and 1, got %f", t.Hedge.HedgeRatio)
		}
	case IntentRecommendation:
		if t.Recommendation == nil {
			return fmt.Errorf("recommendation intent requires a recommendation payload")
		}
	case IntentCustom:
		if t.Custom == nil || strings.TrimSpace(t.Custom.Action) == "" {
			return fmt.Errorf("custom intent requires an action")
		}
	}
	return nil
}

func (o *OrderSpec) validate(kind IntentKind) error {
	switch o.AmountType {
	case AmountDollars, AmountShares:
	default:
		return fmt.Errorf("invalid amount type %q", o.AmountType)
	}
	if o.Amount == AllHoldings {
		if kind != IntentSell || o.AmountType != AmountShares {
			return fmt.Errorf("all-holdings amount is only valid for share-denominated sells")
		}
	} else if o.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %f", o.Amount)
	}
	switch o.OrderType {
	case OrderMarket:
		if o.LimitPrice != 0 {
			return fmt.Errorf("market orders must not carry a limit price")
		}
	case OrderLimit:
		if o.LimitPrice <= 0 {
			return fmt.Errorf("limit orders require a positive limit price")
		}
	default:
		return fmt.Errorf("invalid order type %q", o.OrderType)
	}
	return nil
}

// ClampConfidence keeps a confidence inside [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Clone returns a copy of the intent that shares no payload pointers with t.
// Map values are copied shallowly.
func (t *TradeIntent) Clone() *TradeIntent {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = cloneMap(t.Metadata)
	if t.Order != nil {
		o := *t.Order
		c.Order = &o
	}
	if t.Analysis != nil {
		a := *t.Analysis
		c.Analysis = &a
	}
	if t.Hedge != nil {
		h := *t.Hedge
		h.Instruments = append([]string(nil), t.Hedge.Instruments...)
		c.Hedge = &h
	}
	if t.Recommendation != nil {
		r := *t.Recommendation
		c.Recommendation = &r
	}
	if t.Custom != nil {
		cs := *t.Custom
		cs.Params = cloneMap(t.Custom.Params)
		c.Custom = &cs
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
