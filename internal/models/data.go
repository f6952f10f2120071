package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Structured data keys shared by resolvers, plugins and the cache.
const (
	KeyAction        = "action"
	KeySymbol        = "symbol"
	KeyConfidence    = "confidence"
	KeyAmountType    = "amount_type"
	KeyAmount        = "amount"
	KeyOrderType     = "order_type"
	KeyLimitPrice    = "limit_price"
	KeyAnalysisType  = "analysis_type"
	KeyTimeframe     = "timeframe"
	KeyHedgeStrategy = "hedge_strategy"
	KeyHedgeRatio    = "hedge_ratio"
	KeyInstruments   = "instruments"
	KeyCriteria      = "criteria"
	KeyRiskTolerance = "risk_tolerance"
	KeyCount         = "count"
	KeyCustomAction  = "custom_action"
	KeyParams        = "params"
	KeyMetadata      = "metadata"
)

// ToData flattens the intent into the structured-data map that plugins validate.
func (t *TradeIntent) ToData() map[string]any {
	data := map[string]any{
		KeyAction:     string(t.Kind),
		KeySymbol:     t.Symbol,
		KeyConfidence: t.Confidence,
	}
	if len(t.Metadata) > 0 {
		data[KeyMetadata] = t.Metadata
	}
	switch {
	case t.Order != nil:
		data[KeyAmountType] = string(t.Order.AmountType)
		data[KeyAmount] = t.Order.Amount
		data[KeyOrderType] = string(t.Order.OrderType)
		if t.Order.OrderType == OrderLimit {
			data[KeyLimitPrice] = t.Order.LimitPrice
		}
	case t.Analysis != nil:
		data[KeyAnalysisType] = t.Analysis.AnalysisType
		if t.Analysis.Timeframe != "" {
			data[KeyTimeframe] = t.Analysis.Timeframe
		}
	case t.Hedge != nil:
		data[KeyHedgeStrategy] = t.Hedge.Strategy
		data[KeyHedgeRatio] = t.Hedge.HedgeRatio
		if len(t.Hedge.Instruments) > 0 {
			instruments := make([]any, len(t.Hedge.Instruments))
			for i, s := range t.Hedge.Instruments {
				instruments[i] = s
			}
			data[KeyInstruments] = instruments
		}
	case t.Recommendation != nil:
		data[KeyCriteria] = t.Recommendation.Criteria
		if t.Recommendation.RiskTolerance != "" {
			data[KeyRiskTolerance] = t.Recommendation.RiskTolerance
		}
		if t.Recommendation.Count > 0 {
			data[KeyCount] = float64(t.Recommendation.Count)
		}
	case t.Custom != nil:
		data[KeyCustomAction] = t.Custom.Action
		if len(t.Custom.Params) > 0 {
			data[KeyParams] = t.Custom.Params
		}
	}
	return data
}

// IntentFromData builds an intent from structured data. The result is not
// validated; callers run Validate at their boundary.
func IntentFromData(data map[string]any) (*TradeIntent, error) {
	kind := IntentKind(strings.ToLower(StringField(data, KeyAction)))
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown action %q", StringField(data, KeyAction))
	}
	conf, _ := NumberField(data, KeyConfidence)
	intent := &TradeIntent{
		Kind:       kind,
		Symbol:     strings.ToUpper(strings.TrimSpace(StringField(data, KeySymbol))),
		Confidence: ClampConfidence(conf),
	}
	if meta, ok := data[KeyMetadata].(map[string]any); ok {
		intent.Metadata = meta
	}

	switch kind {
	case IntentBuy, IntentSell:
		amount, ok := NumberField(data, KeyAmount)
		if !ok {
			return nil, fmt.Errorf("%s intent is missing %s", kind, KeyAmount)
		}
		order := &OrderSpec{
			AmountType: AmountType(strings.ToLower(StringField(data, KeyAmountType))),
			Amount:     amount,
			OrderType:  OrderType(strings.ToLower(StringField(data, KeyOrderType))),
		}
		if order.OrderType == "" {
			order.OrderType = OrderMarket
		}
		if price, ok := NumberField(data, KeyLimitPrice); ok {
			order.LimitPrice = price
		}
		intent.Order = order
	case IntentAnalysis:
		intent.Analysis = &AnalysisSpec{
			AnalysisType: StringField(data, KeyAnalysisType),
			Timeframe:    StringField(data, KeyTimeframe),
		}
	case IntentHedge:
		ratio, _ := NumberField(data, KeyHedgeRatio)
		intent.Hedge = &HedgeSpec{
			Strategy:    StringField(data, KeyHedgeStrategy),
			HedgeRatio:  ratio,
			Instruments: StringSliceField(data, KeyInstruments),
		}
	case IntentRecommendation:
		count, _ := NumberField(data, KeyCount)
		intent.Recommendation = &RecommendationSpec{
			Criteria:      StringField(data, KeyCriteria),
			RiskTolerance: StringField(data, KeyRiskTolerance),
			Count:         int(count),
		}
	case IntentCustom:
		params, _ := data[KeyParams].(map[string]any)
		intent.Custom = &CustomSpec{
			Action: StringField(data, KeyCustomAction),
			Params: params,
		}
	}
	return intent, nil
}

// StringField reads a string value, tolerating non-string scalars.
func StringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// NumberField reads a numeric value. Model output sometimes quotes
// numbers ("500"), so numeric strings are accepted.
func NumberField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(v), ",", ""), "$")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// StringSliceField reads a list of strings.
func StringSliceField(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.ToUpper(strings.TrimSpace(s)))
			}
		}
		return out
	}
	return nil
}
