package registry

import (
	"regexp"

	"intent-trader/internal/models"
)

const tradeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "trade",
  "type": "object",
  "required": ["action", "symbol", "amount_type", "amount"],
  "properties": {
    "action": {"enum": ["buy", "sell"]},
    "symbol": {"type": "string", "pattern": "^[A-Z]{1,5}$"},
    "amount_type": {"enum": ["dollars", "shares"]},
    "amount": {"type": "number"},
    "order_type": {"enum": ["market", "limit"]},
    "limit_price": {"type": "number", "exclusiveMinimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const hedgeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "hedge",
  "type": "object",
  "required": ["action", "symbol"],
  "properties": {
    "action": {"const": "hedge"},
    "symbol": {"type": "string", "pattern": "^[A-Z]{1,5}$"},
    "hedge_strategy": {"enum": ["protective_put", "collar", "inverse_etf", "pairs"]},
    "hedge_ratio": {"type": "number", "minimum": 0, "maximum": 1},
    "instruments": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const analysisSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "analysis",
  "type": "object",
  "required": ["action", "symbol"],
  "properties": {
    "action": {"const": "analysis"},
    "symbol": {"type": "string", "pattern": "^[A-Z]{1,5}$"},
    "analysis_type": {"enum": ["technical", "fundamental", "sentiment", "comprehensive"]},
    "timeframe": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const recommendationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "recommendation",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"const": "recommendation"},
    "symbol": {"type": "string", "pattern": "^[A-Z]{1,5}$"},
    "criteria": {"type": "string"},
    "risk_tolerance": {"enum": ["low", "medium", "high"]},
    "count": {"type": "integer", "minimum": 1, "maximum": 20},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

const customSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "custom",
  "type": "object",
  "required": ["action", "symbol", "custom_action"],
  "properties": {
    "action": {"const": "custom"},
    "symbol": {"type": "string", "pattern": "^[A-Z]{1,5}$"},
    "custom_action": {"type": "string", "minLength": 1},
    "params": {"type": "object"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

// Built-in plugin types.
const (
	TypeTrade          = "trade"
	TypeHedge          = "hedge"
	TypeAnalysis       = "analysis"
	TypeRecommendation = "recommendation"
	TypeCustom         = "custom"
)

const (
	largeOrderDollars = 25000
	lowConfidence     = 0.7
	defaultHedgeRatio = 0.5
	defaultPickCount  = 5
	benchmarkSymbol   = "SPY"
)

func builtinSpecs() []spec {
	return []spec{
		{
			typ:      TypeTrade,
			priority: 100,
			kinds:    []models.IntentKind{models.IntentBuy, models.IntentSell},
			handles:  regexp.MustCompile(`(?i)\b(?:buy|sell)\b`),
			rejects:  regexp.MustCompile(`(?i)\b(?:hedge|hedging|protect\w*|collar|analy[sz]e|analysis|recommend\w*|suggest\w*|ideas?|what should i)\b`),
			baseCost: 0.1,
			schema:   tradeSchema,
			check: func(intent *models.TradeIntent, v *ValidationResult) {
				o := intent.Order
				if o.IsAllHoldings() {
					v.warn("sells the entire %s position", intent.Symbol)
				}
				if o.AmountType == models.AmountDollars && o.Amount > largeOrderDollars {
					v.warn("large order: $%.2f", o.Amount)
				}
				if intent.Confidence < lowConfidence {
					v.warn("low resolution confidence %.2f", intent.Confidence)
				}
			},
		},
		{
			typ:      TypeHedge,
			priority: 90,
			kinds:    []models.IntentKind{models.IntentHedge},
			handles:  regexp.MustCompile(`(?i)\b(?:hedge|hedging|protect\w*|collar|insure|downside)\b`),
			baseCost: 0.7,
			schema:   hedgeSchema,
			defaults: func(intent *models.TradeIntent) {
				if intent.Hedge.Strategy == "" {
					intent.Hedge.Strategy = "protective_put"
				}
				if intent.Hedge.HedgeRatio == 0 {
					intent.Hedge.HedgeRatio = defaultHedgeRatio
				}
			},
			check: func(intent *models.TradeIntent, v *ValidationResult) {
				if intent.Hedge.HedgeRatio == 1 {
					v.warn("position is fully hedged")
				}
			},
		},
		{
			typ:      TypeAnalysis,
			priority: 80,
			kinds:    []models.IntentKind{models.IntentAnalysis},
			handles:  regexp.MustCompile(`(?i)\b(?:analy[sz]e|analysis|technicals?|fundamentals?|sentiment|outlook|forecast|chart|how is|what do you think)\b`),
			baseCost: 0.5,
			schema:   analysisSchema,
			defaults: func(intent *models.TradeIntent) {
				if intent.Analysis.AnalysisType == "" {
					intent.Analysis.AnalysisType = "comprehensive"
				}
			},
		},
		{
			typ:      TypeRecommendation,
			priority: 70,
			kinds:    []models.IntentKind{models.IntentRecommendation},
			handles:  regexp.MustCompile(`(?i)\b(?:recommend\w*|suggest\w*|ideas?|picks?|what should i|best stocks?)\b`),
			baseCost: 0.6,
			schema:   recommendationSchema,
			defaults: func(intent *models.TradeIntent) {
				if intent.Symbol == "" {
					intent.Symbol = benchmarkSymbol
					if intent.Metadata == nil {
						intent.Metadata = make(map[string]any)
					}
					intent.Metadata["symbol_defaulted"] = true
				}
				if intent.Recommendation.Criteria == "" {
					intent.Recommendation.Criteria = "general"
				}
				if intent.Recommendation.Count == 0 {
					intent.Recommendation.Count = defaultPickCount
				}
			},
		},
		{
			typ:      TypeCustom,
			priority: 10,
			kinds:    []models.IntentKind{models.IntentCustom},
			handles:  regexp.MustCompile(`(?i)\b(?:short|cover|rebalance|alert|watch|cancel|close|trim|rotate)\b`),
			baseCost: 0.4,
			schema:   customSchema,
		},
	}
}

// Builtins returns the built-in plugins.
func Builtins() ([]Plugin, error) {
	specs := builtinSpecs()
	out := make([]Plugin, 0, len(specs))
	for _, s := range specs {
		p, err := newSchemaPlugin(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
