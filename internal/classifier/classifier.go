// Package classifier scores normalized input and recommends the cheapest
// resolution strategy that can be trusted with it.
package classifier

import (
	"regexp"
	"strings"

	"intent-trader/internal/models"
	"intent-trader/internal/symbols"
)

// Config holds the classifier thresholds. The defaults are empirical.
type Config struct {
	ComplexThreshold     float64 // complex score above this routes to the model
	SimpleThreshold      float64 // simple score above this routes to the parser
	CacheSimpleThreshold float64 // cache needs simple score above this...
	CacheComplexCeiling  float64 // ...and complex score below this
	LongInputWords       int
	ShortInputWords      int
	LongInputBonus       float64
	MultiVerbBonus       float64
	ConditionalBonus     float64
	AmbiguousConfidence  float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ComplexThreshold:     0.6,
		SimpleThreshold:      0.8,
		CacheSimpleThreshold: 0.4,
		CacheComplexCeiling:  0.4,
		LongInputWords:       10,
		ShortInputWords:      6,
		LongInputBonus:       0.2,
		MultiVerbBonus:       0.3,
		ConditionalBonus:     0.4,
		AmbiguousConfidence:  0.3,
	}
}

type pattern struct {
	name  string
	match func(text string) bool
}

func regexPattern(name, expr string) pattern {
	re := regexp.MustCompile(expr)
	return pattern{name: name, match: re.MatchString}
}

var (
	conditionalRe = regexp.MustCompile(`(?i)\b(?:if|when|unless)\b`)
	actionVerbRe  = regexp.MustCompile(`(?i)\b(buy|sell|hedge|short|cover|analyze|recommend|rebalance|trade)\b`)
	tradeVerbRe   = regexp.MustCompile(`(?i)\b(?:buy|sell)\b`)
	amountRe      = regexp.MustCompile(`(?i)(?:\$\d|\b\d+(?:\.\d+)?\b|\ball\b)`)
)

// Classifier implements the two-family scoring algorithm.
type Classifier struct {
	cfg     Config
	complex []pattern
	simple  []pattern
}

// New creates a classifier with the given thresholds.
func New(cfg Config) *Classifier {
	return &Classifier{
		cfg: cfg,
		complex: []pattern{
			regexPattern("hedging", `(?i)\b(?:hedge|hedging|protective|collar|downside protection)\b`),
			regexPattern("analysis", `(?i)\b(?:analy[sz]e|analysis|technicals?|fundamentals?|sentiment|outlook|forecast|compare)\b`),
			regexPattern("recommendation", `(?i)\b(?:recommend\w*|suggestions?|what should i|best stocks?|ideas?)\b`),
			{name: "multi_symbol", match: func(text string) bool { return len(symbols.Extract(text)) >= 2 }},
			{name: "conditional", match: conditionalRe.MatchString},
			regexPattern("institutional", `(?i)\b(?:institutional|insiders?|congress\w*|senators?|politicians?|13f|hedge funds?)\b`),
			regexPattern("derivatives", `(?i)\b(?:options?|calls?|puts?|strike|expir\w*|futures|derivatives?|straddle|spreads?)\b`),
		},
		simple: []pattern{
			{name: "explicit_trade", match: isExplicitTrade},
			regexPattern("account_query", `(?i)\b(?:balance|account|buying power|cash|positions|holdings)\b`),
			regexPattern("quote_query", `(?i)\b(?:price|quote|trading at|how much is)\b`),
		},
	}
}

// isExplicitTrade matches a single buy/sell with an amount and one ticker.
func isExplicitTrade(text string) bool {
	if !tradeVerbRe.MatchString(text) || !amountRe.MatchString(text) {
		return false
	}
	return len(symbols.Extract(text)) == 1
}

// Classify scores text and picks a strategy.
func (c *Classifier) Classify(text string) models.ClassificationResult {
	words := len(strings.Fields(text))

	complexScore := c.ComplexScore(text)
	if complexScore > c.cfg.ComplexThreshold {
		return models.ClassificationResult{
			Strategy:     models.StrategyModel,
			Confidence:   complexScore,
			ComplexScore: complexScore,
			WordCount:    words,
		}
	}

	simpleScore := c.SimpleScore(text)
	result := models.ClassificationResult{
		ComplexScore: complexScore,
		SimpleScore:  simpleScore,
		WordCount:    words,
	}

	switch {
	case simpleScore > c.cfg.SimpleThreshold:
		result.Strategy = models.StrategyDeterministic
		result.Confidence = simpleScore
	case simpleScore > c.cfg.CacheSimpleThreshold && complexScore < c.cfg.CacheComplexCeiling:
		result.Strategy = models.StrategyCache
		result.Confidence = simpleScore
	default:
		// Ambiguous input is never guessed deterministically.
		result.Strategy = models.StrategyModel
		result.Confidence = c.cfg.AmbiguousConfidence
	}
	return result
}

// ComplexScore is the fraction of complex patterns matched plus bonuses, clamped to 1.
func (c *Classifier) ComplexScore(text string) float64 {
	matched := countMatches(c.complex, text)
	score := float64(matched) / float64(len(c.complex))

	if len(strings.Fields(text)) > c.cfg.LongInputWords {
		score += c.cfg.LongInputBonus
	}
	if distinctActionVerbs(text) >= 2 {
		score += c.cfg.MultiVerbBonus
	}
	if conditionalRe.MatchString(text) {
		score += c.cfg.ConditionalBonus
	}
	return models.ClampConfidence(score)
}

// SimpleScore is the fraction of simple patterns matched. Short inputs are
// boosted to min(1, matches+0.3), where matches is the matched count.
func (c *Classifier) SimpleScore(text string) float64 {
	matched := countMatches(c.simple, text)
	if len(strings.Fields(text)) <= c.cfg.ShortInputWords {
		return models.ClampConfidence(float64(matched) + 0.3)
	}
	return float64(matched) / float64(len(c.simple))
}

// Matches lists the names of every pattern that matched, for diagnostics.
func (c *Classifier) Matches(text string) (complexMatches, simpleMatches []string) {
	for _, p := range c.complex {
		if p.match(text) {
			complexMatches = append(complexMatches, p.name)
		}
	}
	for _, p := range c.simple {
		if p.match(text) {
			simpleMatches = append(simpleMatches, p.name)
		}
	}
	return complexMatches, simpleMatches
}

func countMatches(patterns []pattern, text string) int {
	n := 0
	for _, p := range patterns {
		if p.match(text) {
			n++
		}
	}
	return n
}

func distinctActionVerbs(text string) int {
	seen := make(map[string]struct{})
	for _, m := range actionVerbRe.FindAllStringSubmatch(text, -1) {
		seen[strings.ToLower(m[1])] = struct{}{}
	}
	return len(seen)
}
