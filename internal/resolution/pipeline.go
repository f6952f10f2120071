// Package resolution runs the tiered cascade that turns text into
// structured intent data: deterministic parser, then cache, then a
// language model, starting at the strategy the classifier picked.
package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"intent-trader/internal/cache"
	"intent-trader/internal/classifier"
	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/logging"
	"intent-trader/internal/models"
	"intent-trader/internal/normalize"
	"intent-trader/internal/parser"
	"intent-trader/internal/resolver"
	"intent-trader/internal/router"
)

// Request is one resolution call made on behalf of a plugin.
type Request struct {
	ID          string
	Text        string
	Schema      json.RawMessage
	Kinds       []models.IntentKind // accepted kinds; empty accepts all
	Context     map[string]any
	Constraints *router.Constraints
}

// Result is the structured data produced by the first strategy that succeeded.
type Result struct {
	Data       map[string]any
	Intent     *models.TradeIntent // set by the deterministic and cache strategies
	Confidence float64
	Strategy   models.Strategy
	Model      string
	Rule       string
	TokensIn   int
	TokensOut  int
	Cost       float64
	Duration   time.Duration

	Normalized     string
	Classification models.ClassificationResult
	Selection      *router.Selection
	Attempts       []apperrors.StrategyAttempt
}

// TokensUsed is the total token count of the model call, if any.
func (r *Result) TokensUsed() int {
	return r.TokensIn + r.TokensOut
}

// Config holds the cache write policy.
type Config struct {
	CacheMinConfidence float64
	CacheTTL           time.Duration
}

// DefaultConfig returns the standard write policy.
func DefaultConfig() Config {
	return Config{
		CacheMinConfidence: 0.8,
		CacheTTL:           30 * time.Second,
	}
}

// Normalizer canonicalizes raw text.
type Normalizer interface {
	Normalize(text string) string
}

// Classifier picks the first strategy to try.
type Classifier interface {
	Classify(text string) models.ClassificationResult
}

// Parser is the deterministic strategy.
type Parser interface {
	Parse(text string) parser.Result
}

// Components are the collaborators of a Pipeline. Cache and Resolver may be
// nil; the corresponding strategy then always misses.
type Components struct {
	Normalizer Normalizer
	Classifier Classifier
	Parser     Parser
	Cache      cache.Cache
	Router     *router.Router
	Resolver   resolver.Resolver
}

// Pipeline is the resolution cascade.
type Pipeline struct {
	normalizer Normalizer
	classifier Classifier
	parser     Parser
	cache      cache.Cache
	router     *router.Router
	resolver   resolver.Resolver
	cfg        Config
	logger     zerolog.Logger
}

// New creates a pipeline. Missing normalizer, classifier, parser and router
// are replaced with defaults.
func New(cfg Config, c Components, logger zerolog.Logger) *Pipeline {
	if c.Normalizer == nil {
		c.Normalizer = normalize.New()
	}
	if c.Classifier == nil {
		c.Classifier = classifier.New(classifier.DefaultConfig())
	}
	if c.Parser == nil {
		c.Parser = parser.New()
	}
	if c.Router == nil {
		c.Router = router.New(nil)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Pipeline{
		normalizer: c.Normalizer,
		classifier: c.Classifier,
		parser:     c.Parser,
		cache:      c.Cache,
		router:     c.Router,
		resolver:   c.Resolver,
		cfg:        cfg,
		logger:     logging.WithComponent(logger, "resolution"),
	}
}

// Normalize exposes the pipeline's normalizer.
func (p *Pipeline) Normalize(text string) string {
	return p.normalizer.Normalize(text)
}

// Resolver returns the configured language-model resolver, or nil.
func (p *Pipeline) Resolver() resolver.Resolver {
	return p.resolver
}

// Router returns the tier selector.
func (p *Pipeline) Router() *router.Router {
	return p.router
}

// Explanation is a dry look at how an input would be routed.
type Explanation struct {
	Input          string                      `json:"input"`
	Normalized     string                      `json:"normalized"`
	Classification models.ClassificationResult `json:"classification"`
	Selection      *router.Selection           `json:"selection,omitempty"`
	ParserRule     string                      `json:"parser_rule,omitempty"`
	ParserScore    float64                     `json:"parser_confidence"`
}

// Explain normalizes and classifies text and reports the parser match and
// the tier a model call would use. Nothing is called or recorded.
func (p *Pipeline) Explain(text string, cons *router.Constraints) Explanation {
	normalized := p.normalizer.Normalize(text)
	class := p.classifier.Classify(normalized)
	parsed := p.parser.Parse(normalized)
	exp := Explanation{
		Input:          text,
		Normalized:     normalized,
		Classification: class,
		ParserRule:     parsed.Rule,
		ParserScore:    parsed.Confidence,
	}
	if sel, err := p.router.Evaluate(normalized, class, cons); err == nil {
		exp.Selection = &sel
	}
	return exp
}

// Resolve runs the cascade. Strategies are tried in preference order
// starting at the classified one; a strategy whose answer is empty, has
// zero confidence or has a kind the caller does not accept is a miss.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := logging.WithRequestID(p.logger, req.ID)

	normalized := p.normalizer.Normalize(req.Text)
	if normalized == "" {
		return nil, apperrors.NewResolutionError(req.Text, nil, apperrors.ErrEmptyInput)
	}
	class := p.classifier.Classify(normalized)

	var (
		attempts []apperrors.StrategyAttempt
		lastErr  error
	)
	for _, strategy := range strategiesFrom(class.Strategy) {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		var (
			res *Result
			err error
		)
		switch strategy {
		case models.StrategyDeterministic:
			res, err = p.deterministic(normalized, req)
		case models.StrategyCache:
			res, err = p.cached(ctx, normalized, req)
		case models.StrategyModel:
			res, err = p.model(ctx, normalized, class, req)
		}
		if err != nil {
			lastErr = err
			attempts = append(attempts, apperrors.StrategyAttempt{Strategy: string(strategy), Reason: err.Error()})
			log.Debug().Str("strategy", string(strategy)).Err(err).Msg("Strategy missed")
			continue
		}

		res.Strategy = strategy
		res.Normalized = normalized
		res.Classification = class
		res.Attempts = attempts
		res.Duration = time.Since(start)
		logging.LogResolution(log, string(strategy), models.StringField(res.Data, models.KeyAction),
			models.StringField(res.Data, models.KeySymbol), res.Confidence, res.Duration)
		return res, nil
	}

	return nil, apperrors.NewResolutionError(req.Text, attempts, lastErr)
}

func strategiesFrom(first models.Strategy) []models.Strategy {
	for i, s := range models.StrategyOrder {
		if s == first {
			return models.StrategyOrder[i:]
		}
	}
	return models.StrategyOrder
}

func (p *Pipeline) deterministic(text string, req Request) (*Result, error) {
	parsed := p.parser.Parse(text)
	if !parsed.Matched() {
		return nil, apperrors.ErrNoRuleMatched
	}
	if !accepts(req.Kinds, parsed.Intent.Kind) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, parsed.Intent.Kind)
	}
	return &Result{
		Data:       parsed.Intent.ToData(),
		Intent:     parsed.Intent,
		Confidence: parsed.Confidence,
		Rule:       parsed.Rule,
	}, nil
}

func (p *Pipeline) cached(ctx context.Context, text string, req Request) (*Result, error) {
	if p.cache == nil {
		return nil, apperrors.ErrCacheMiss
	}
	intent, ok := p.cache.Lookup(ctx, text)
	if !ok || intent == nil || intent.Confidence <= 0 {
		return nil, apperrors.ErrCacheMiss
	}
	if !accepts(req.Kinds, intent.Kind) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, intent.Kind)
	}
	return &Result{
		Data:       intent.ToData(),
		Intent:     intent,
		Confidence: intent.Confidence,
	}, nil
}

func (p *Pipeline) model(ctx context.Context, text string, class models.ClassificationResult, req Request) (*Result, error) {
	if p.resolver == nil {
		return nil, apperrors.ErrNoResolver
	}
	sel, err := p.router.Select(text, class, req.Constraints)
	if err != nil {
		return nil, fmt.Errorf("select model tier: %w", err)
	}

	resp, err := p.resolver.Resolve(ctx, resolver.Request{
		ID:      req.ID,
		Text:    text,
		Schema:  req.Schema,
		Kinds:   req.Kinds,
		Context: req.Context,
		Model:   sel.TierName,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Data) == 0 || resp.Confidence <= 0 {
		return nil, apperrors.Wrap(apperrors.ErrResolutionFailed, "model returned no usable answer")
	}
	kind := models.IntentKind(models.StringField(resp.Data, models.KeyAction))
	if !accepts(req.Kinds, kind) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedKind, kind)
	}

	rate := resolver.CostRate{In: sel.Tier.CostPerKTokenIn, Out: sel.Tier.CostPerKTokenOut}
	if rate == (resolver.CostRate{}) {
		rate = p.resolver.CostPerKTokens()
	}
	model := resp.Model
	if model == "" {
		model = sel.TierName
	}
	return &Result{
		Data:       resp.Data,
		Confidence: models.ClampConfidence(resp.Confidence),
		Model:      model,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		Cost:       rate.Cost(resp.TokensIn, resp.TokensOut),
		Selection:  &sel,
	}, nil
}

func accepts(kinds []models.IntentKind, k models.IntentKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Commit stores a validated intent in the cache when it came from the
// model and is confident enough. It reports whether anything was written.
func (p *Pipeline) Commit(ctx context.Context, res *Result, intent *models.TradeIntent) (bool, error) {
	if p.cache == nil || res == nil || intent == nil {
		return false, nil
	}
	if res.Strategy != models.StrategyModel || intent.Confidence < p.cfg.CacheMinConfidence {
		return false, nil
	}
	if err := p.cache.Store(ctx, res.Normalized, intent, p.cfg.CacheTTL); err != nil {
		p.logger.Warn().Err(err).Str("symbol", intent.Symbol).Msg("Cache write failed")
		return false, err
	}
	return true, nil
}

// WarmCache loads seeds into the cache under their normalized text.
func (p *Pipeline) WarmCache(ctx context.Context, seeds []cache.Seed) error {
	if p.cache == nil || len(seeds) == 0 {
		return nil
	}
	normalized := make([]cache.Seed, 0, len(seeds))
	for _, s := range seeds {
		normalized = append(normalized, cache.Seed{Text: p.normalizer.Normalize(s.Text), Intent: s.Intent})
	}
	if err := p.cache.Warm(ctx, normalized); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	p.logger.Info().Int("seeds", len(normalized)).Msg("Cache warmed")
	return nil
}
