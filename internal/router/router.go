// Package router picks the language-model tier for inputs that need one.
package router

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"intent-trader/internal/models"
	"intent-trader/internal/symbols"
)

// Preference biases selection toward accuracy or speed.
type Preference string

const (
	PreferNone     Preference = ""
	PreferAccuracy Preference = "accuracy"
	PreferSpeed    Preference = "speed"
)

// Constraints are optional per-request ceilings.
type Constraints struct {
	MaxLatencyMs int        `json:"max_latency_ms,omitempty"`
	MaxCost      float64    `json:"max_cost,omitempty"` // estimated cost per request
	Preference   Preference `json:"preference,omitempty"`
}

// Selection is the chosen tier plus its estimates.
type Selection struct {
	Tier               models.ModelTier `json:"tier"`
	TierName           string           `json:"tier_name"`
	EstimatedCost      float64          `json:"estimated_cost"`
	EstimatedLatencyMs int              `json:"estimated_latency_ms"`
	Complexity         float64          `json:"complexity"`
	Score              float64          `json:"score"`
	Reason             string           `json:"reason"`
}

// Scoring weights and bands.
const (
	weightMatch       = 0.4
	weightCost        = 0.3
	weightSpeed       = 0.2
	recommendedBonus  = 0.1
	narrowBand        = 0.15
	wideBand          = 0.30
	accuracyComplex   = 0.2
	accuracyMedium    = 0.1
	speedPreference   = 0.2
	promptTokens      = 350 // system prompt plus schema
	outputTokens      = 120
	tokensPerWord     = 1.3
	ambiguousFloor    = 0.5
	classifierWeight  = 0.5
	heuristicWeight   = 0.5
	heuristicMaxWords = 20
)

var classTarget = map[models.ComplexityClass]float64{
	models.ComplexitySimple:  0.2,
	models.ComplexityMedium:  0.5,
	models.ComplexityComplex: 0.8,
}

var (
	verbRe        = regexp.MustCompile(`(?i)\b(buy|sell|hedge|short|cover|analyze|recommend|rebalance|trade)\b`)
	conditionalRe = regexp.MustCompile(`(?i)\b(?:if|when|unless)\b`)
)

// Router selects tiers from a static catalog and keeps advisory usage totals.
type Router struct {
	tiers      []models.ModelTier
	maxCost    float64
	maxLatency int
	mostCostly models.ModelTier

	usageMu   sync.Mutex
	usage     map[string]int
	spend     decimal.Decimal
	worstCase decimal.Decimal
	requests  int
}

// New creates a router over tiers. The slice is copied.
func New(tiers []models.ModelTier) *Router {
	r := &Router{
		tiers: append([]models.ModelTier(nil), tiers...),
		usage: make(map[string]int),
	}
	for _, t := range r.tiers {
		if c := tierCost(t); c > r.maxCost {
			r.maxCost = c
			r.mostCostly = t
		}
		if t.LatencyMs > r.maxLatency {
			r.maxLatency = t.LatencyMs
		}
	}
	return r
}

// Tiers returns the catalog.
func (r *Router) Tiers() []models.ModelTier {
	return append([]models.ModelTier(nil), r.tiers...)
}

// Select scores every eligible tier, records the choice in the usage
// totals and returns it.
func (r *Router) Select(text string, class models.ClassificationResult, c *Constraints) (Selection, error) {
	s, err := r.Evaluate(text, class, c)
	if err != nil {
		return Selection{}, err
	}
	r.record(s, len(strings.Fields(text)))
	return s, nil
}

// Evaluate is Select without the usage bookkeeping.
func (r *Router) Evaluate(text string, class models.ClassificationResult, c *Constraints) (Selection, error) {
	if len(r.tiers) == 0 {
		return Selection{}, fmt.Errorf("model catalog is empty")
	}
	var cons Constraints
	if c != nil {
		cons = *c
	}

	complexity := EstimateComplexity(text, class)
	words := len(strings.Fields(text))

	candidates, relaxed := r.filter(words, cons)

	var (
		best      Selection
		bestScore = math.Inf(-1)
	)
	for _, t := range candidates {
		score := r.score(t, complexity, cons.Preference)
		if score > bestScore {
			bestScore = score
			best = Selection{
				Tier:               t,
				TierName:           t.Name,
				EstimatedCost:      EstimateCost(t, words),
				EstimatedLatencyMs: t.LatencyMs,
				Complexity:         complexity,
				Score:              score,
			}
		}
	}

	best.Reason = fmt.Sprintf("complexity %.2f fits %s tier %s (score %.2f)",
		complexity, best.Tier.Complexity, best.TierName, best.Score)
	if relaxed {
		best.Reason += "; constraints unmet, chose from recommended tiers"
	}
	return best, nil
}

// filter applies the caller's ceilings, falling back to the recommended
// tiers when nothing passes.
func (r *Router) filter(words int, c Constraints) ([]models.ModelTier, bool) {
	var allowed []models.ModelTier
	for _, t := range r.tiers {
		if c.MaxLatencyMs > 0 && t.LatencyMs > c.MaxLatencyMs {
			continue
		}
		if c.MaxCost > 0 && EstimateCost(t, words) > c.MaxCost {
			continue
		}
		allowed = append(allowed, t)
	}
	relaxed := false
	if len(allowed) == 0 {
		relaxed = true
		for _, t := range r.tiers {
			if t.Recommended {
				allowed = append(allowed, t)
			}
		}
		if len(allowed) == 0 {
			allowed = r.tiers
		}
	}
	return allowed, relaxed
}

func (r *Router) score(t models.ModelTier, complexity float64, pref Preference) float64 {
	match := 0.3
	switch d := math.Abs(classTarget[t.Complexity] - complexity); {
	case d <= narrowBand:
		match = 1.0
	case d <= wideBand:
		match = 0.7
	}

	var costEff, speed float64
	if r.maxCost > 0 {
		costEff = 1 - tierCost(t)/r.maxCost
	}
	if r.maxLatency > 0 {
		speed = 1 - float64(t.LatencyMs)/float64(r.maxLatency)
	}

	score := weightMatch*match + weightCost*costEff + weightSpeed*speed
	if t.Recommended {
		score += recommendedBonus
	}
	switch pref {
	case PreferAccuracy:
		switch t.Complexity {
		case models.ComplexityComplex:
			score += accuracyComplex
		case models.ComplexityMedium:
			score += accuracyMedium
		}
	case PreferSpeed:
		score += speedPreference * speed
	}
	return score
}

// EstimateComplexity blends the classifier's view with the router's own
// heuristics, half each.
func EstimateComplexity(text string, class models.ClassificationResult) float64 {
	return models.ClampConfidence(classifierWeight*classifierComplexity(class) + heuristicWeight*HeuristicComplexity(text))
}

func classifierComplexity(class models.ClassificationResult) float64 {
	switch class.Strategy {
	case models.StrategyModel:
		// Ambiguous input carries a low complex score but still needs a capable tier.
		return math.Max(class.ComplexScore, ambiguousFloor)
	default:
		return class.ComplexScore
	}
}

// HeuristicComplexity scores text from word count, action verbs,
// conditionals and symbol count.
func HeuristicComplexity(text string) float64 {
	words := len(strings.Fields(text))
	score := 0.3 * math.Min(float64(words)/heuristicMaxWords, 1)

	verbs := make(map[string]struct{})
	for _, m := range verbRe.FindAllStringSubmatch(text, -1) {
		verbs[strings.ToLower(m[1])] = struct{}{}
	}
	if len(verbs) >= 2 {
		score += 0.25
	}
	if conditionalRe.MatchString(text) {
		score += 0.25
	}
	if len(symbols.Extract(text)) >= 2 {
		score += 0.2
	}
	return models.ClampConfidence(score)
}

// EstimateCost prices one resolution call on tier t for an input of words words.
func EstimateCost(t models.ModelTier, words int) float64 {
	in := decimal.NewFromFloat(promptTokens + float64(words)*tokensPerWord)
	out := decimal.NewFromInt(outputTokens)
	k := decimal.NewFromInt(1000)
	cost := in.Div(k).Mul(decimal.NewFromFloat(t.CostPerKTokenIn)).
		Add(out.Div(k).Mul(decimal.NewFromFloat(t.CostPerKTokenOut)))
	return cost.Round(8).InexactFloat64()
}

func tierCost(t models.ModelTier) float64 {
	return t.CostPerKTokenIn + t.CostPerKTokenOut
}

// Usage summarizes selections so far. It is reporting only.
type Usage struct {
	Requests       int            `json:"requests"`
	ByTier         map[string]int `json:"by_tier"`
	EstimatedSpend float64        `json:"estimated_spend"`
	WorstCaseSpend float64        `json:"worst_case_spend"`
	Savings        float64        `json:"savings"`
	SavingsPct     float64        `json:"savings_pct"`
}

func (r *Router) record(s Selection, words int) {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()
	r.requests++
	r.usage[s.TierName]++
	r.spend = r.spend.Add(decimal.NewFromFloat(s.EstimatedCost))
	r.worstCase = r.worstCase.Add(decimal.NewFromFloat(EstimateCost(r.mostCostly, words)))
}

// Usage returns cumulative selection counts and estimated savings versus
// always using the most expensive tier.
func (r *Router) Usage() Usage {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()
	by := make(map[string]int, len(r.usage))
	for k, v := range r.usage {
		by[k] = v
	}
	savings := r.worstCase.Sub(r.spend)
	u := Usage{
		Requests:       r.requests,
		ByTier:         by,
		EstimatedSpend: r.spend.Round(6).InexactFloat64(),
		WorstCaseSpend: r.worstCase.Round(6).InexactFloat64(),
		Savings:        savings.Round(6).InexactFloat64(),
	}
	if r.worstCase.IsPositive() {
		u.SavingsPct = savings.Div(r.worstCase).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return u
}

// TierNames lists catalog names sorted by cost, cheapest first.
func (r *Router) TierNames() []string {
	tiers := r.Tiers()
	sort.SliceStable(tiers, func(i, j int) bool { return tierCost(tiers[i]) < tierCost(tiers[j]) })
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name
	}
	return names
}
