// Package parser resolves simple trade commands with an ordered regex
// rule table. It makes no external calls.
package parser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"intent-trader/internal/models"
	"intent-trader/internal/normalize"
	"intent-trader/internal/symbols"
)

// Result is the outcome of a parse. Confidence is 0 and Intent is nil
// when no rule produced a valid intent.
type Result struct {
	Intent     *models.TradeIntent
	Confidence float64
	Rule       string
}

// Matched reports whether a rule produced an intent.
func (r Result) Matched() bool {
	return r.Intent != nil && r.Confidence > 0
}

type extractor func(m []string) (*models.TradeIntent, bool)

// Rule is one entry of the parse table.
type Rule struct {
	Name       string
	Confidence float64
	re         *regexp.Regexp
	extract    extractor
}

// Parser evaluates rules in descending confidence order.
type Parser struct {
	rules []Rule
}

const (
	sym    = `\$?([A-Z]{1,5})`
	amount = `(\d+(?:\.\d+)?)`
	limit  = `(?: at| @| limit| limit price| with a limit of| with limit)(?: price)? \$?(\d+(?:\.\d+)?)(?: limit)?`
)

// New creates a parser with the built-in rule table.
func New() *Parser {
	p := &Parser{}
	p.add("limit_dollar", 0.95, `^(buy|sell) \$`+amount+`(?: of| in)? `+sym+limit+`$`,
		func(m []string) (*models.TradeIntent, bool) {
			return order(m[1], m[3], models.AmountDollars, m[2], m[4])
		})
	p.add("limit_shares", 0.95, `^(buy|sell) `+amount+` shares?(?: of)? `+sym+limit+`$`,
		func(m []string) (*models.TradeIntent, bool) {
			return order(m[1], m[3], models.AmountShares, m[2], m[4])
		})
	p.add("sell_all", 0.95, `^sell (?:all|everything)(?: of)?(?: my)?(?: shares of)? `+sym+`(?: shares| stock| position| holdings)?$`,
		func(m []string) (*models.TradeIntent, bool) {
			return sellAll(m[1])
		})
	p.add("dollar_amount", 0.95, `^(buy|sell) \$`+amount+`(?: worth)?(?: of| in)? `+sym+`(?: shares| stock)?$`,
		func(m []string) (*models.TradeIntent, bool) {
			return order(m[1], m[3], models.AmountDollars, m[2], "")
		})
	p.add("share_count", 0.95, `^(buy|sell) (\d+)(?: shares?)?(?: of)? `+sym+`$`,
		func(m []string) (*models.TradeIntent, bool) {
			return order(m[1], m[3], models.AmountShares, m[2], "")
		})
	p.add("symbol_first", 0.85, `^`+sym+` (buy|sell) (\$)?`+amount+`(?: shares?)?$`,
		func(m []string) (*models.TradeIntent, bool) {
			return order(m[2], m[1], amountType(m[3]), m[4], "")
		})
	p.add("symbol_before_amount", 0.85, `^(buy|sell) `+sym+` (\$)?`+amount+`(?: shares?)?$`,
		func(m []string) (*models.TradeIntent, bool) {
			return order(m[1], m[2], amountType(m[3]), m[4], "")
		})
	p.add("fractional_shares", 0.85, `^(buy|sell) (\d*\.\d+) shares?(?: of)? `+sym+`$`,
		func(m []string) (*models.TradeIntent, bool) {
			return order(m[1], m[3], models.AmountShares, m[2], "")
		})
	p.add("spelled_out", 0.8, `^(buy|sell) ([a-z][a-z -]*?) (shares?|dollars?)(?: worth)?(?: of)? `+sym+`$`,
		func(m []string) (*models.TradeIntent, bool) {
			n, ok := normalize.WordsToNumber(m[2])
			if !ok {
				return nil, false
			}
			at := models.AmountShares
			if strings.HasPrefix(m[3], "dollar") {
				at = models.AmountDollars
			}
			return order(m[1], m[4], at, strconv.FormatFloat(n, 'f', -1, 64), "")
		})

	sort.SliceStable(p.rules, func(i, j int) bool {
		return p.rules[i].Confidence > p.rules[j].Confidence
	})
	return p
}

func (p *Parser) add(name string, confidence float64, expr string, fn extractor) {
	p.rules = append(p.rules, Rule{
		Name:       name,
		Confidence: confidence,
		re:         regexp.MustCompile(expr),
		extract:    fn,
	})
}

// Rules returns the rule table in evaluation order.
func (p *Parser) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Parse returns the first rule whose match yields a structurally valid intent.
func (p *Parser) Parse(text string) Result {
	text = strings.TrimSpace(text)
	for _, r := range p.rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		intent, ok := r.extract(m)
		if !ok {
			continue
		}
		intent.Confidence = r.Confidence
		if err := intent.Validate(); err != nil {
			continue
		}
		return Result{Intent: intent, Confidence: r.Confidence, Rule: r.Name}
	}
	return Result{}
}

func amountType(dollar string) models.AmountType {
	if dollar == "$" {
		return models.AmountDollars
	}
	return models.AmountShares
}

func order(side, symbol string, at models.AmountType, amountStr, limitStr string) (*models.TradeIntent, bool) {
	if !symbols.IsTicker(symbol) {
		return nil, false
	}
	amt, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return nil, false
	}
	spec := &models.OrderSpec{
		AmountType: at,
		Amount:     amt,
		OrderType:  models.OrderMarket,
	}
	if limitStr != "" {
		price, err := strconv.ParseFloat(limitStr, 64)
		if err != nil {
			return nil, false
		}
		spec.OrderType = models.OrderLimit
		spec.LimitPrice = price
	}
	return &models.TradeIntent{
		Kind:   models.IntentKind(side),
		Symbol: symbol,
		Order:  spec,
	}, true
}

func sellAll(symbol string) (*models.TradeIntent, bool) {
	if !symbols.IsTicker(symbol) {
		return nil, false
	}
	return &models.TradeIntent{
		Kind:   models.IntentSell,
		Symbol: symbol,
		Order: &models.OrderSpec{
			AmountType: models.AmountShares,
			Amount:     models.AllHoldings,
			OrderType:  models.OrderMarket,
		},
	}, true
}
