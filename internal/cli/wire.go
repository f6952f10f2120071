package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"intent-trader/internal/audit"
	"intent-trader/internal/broker"
	"intent-trader/internal/cache"
	"intent-trader/internal/classifier"
	"intent-trader/internal/config"
	"intent-trader/internal/normalize"
	"intent-trader/internal/orchestrator"
	"intent-trader/internal/parser"
	"intent-trader/internal/registry"
	"intent-trader/internal/resilience"
	"intent-trader/internal/resolution"
	"intent-trader/internal/resolver"
	"intent-trader/internal/router"
	"intent-trader/internal/store"
)

// Components are the collaborators behind the commands, built once from
// configuration.
type Components struct {
	Pipeline     *resolution.Pipeline
	Registry     *registry.Registry
	Router       *router.Router
	Cache        *cache.SemanticCache // nil when the cache is disabled
	Resolver     resolver.Resolver    // nil with provider "none"
	Gateway      broker.Gateway       // limits and breaker applied
	Paper        *broker.PaperGateway // nil in live mode
	Feed         *broker.PriceFeed    // nil unless quotes are streamed
	Limits       *broker.LimitedGateway
	Orchestrator *orchestrator.Orchestrator
	Audit        *audit.Logger
	Store        *store.SQLiteStore
	Breakers     *resilience.CircuitBreakerRegistry

	cancel context.CancelFunc
}

// Build wires every component from cfg. Background work (cache sweeping,
// the quote feed) runs until Close.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Components, error) {
	ctx, cancel := context.WithCancel(ctx)
	c := &Components{
		cancel: cancel,
		Breakers: resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Resolver.BreakerFailures,
			SuccessThreshold: 1,
			Cooldown:         cfg.Resolver.BreakerCooldown,
		}),
	}

	if err := c.buildResolution(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.buildBroker(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}

	var sinks []orchestrator.ResultSink
	if cfg.Audit.Enabled {
		a, err := audit.NewLogger(audit.DefaultConfig(cfg.Audit.Path))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		c.Audit = a
		sinks = append(sinks, a)
	}
	if cfg.Store.Enabled {
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		c.Store = s
		sinks = append(sinks, s)
	}

	var health orchestrator.HealthChecker
	if c.Resolver != nil {
		health = c.Resolver
	}
	c.Orchestrator = orchestrator.New(orchestrator.ConfigFrom(cfg), c.Registry, health, c.Gateway, logger, sinks...)
	return c, nil
}

func (c *Components) buildResolution(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	c.Router = router.New(cfg.Models.Tiers)

	if cfg.Cache.Enabled {
		var embedder cache.Embedder = cache.NewHashEmbedder(256)
		if cfg.Cache.Embedder == "openai" {
			if cfg.Credentials.OpenAI.APIKey == "" {
				return errors.New("the openai cache embedder needs an OpenAI API key")
			}
			embedder = cache.NewOpenAIEmbedder(cfg.Credentials.OpenAI.APIKey, cfg.Credentials.OpenAI.BaseURL, cfg.Cache.EmbeddingModel)
		}
		cacheCfg := cache.DefaultConfig()
		cacheCfg.DefaultTTL = cfg.Cache.TTL
		cacheCfg.WarmTTL = cfg.Cache.WarmTTL
		cacheCfg.SimilarityThreshold = cfg.Cache.SimilarityThreshold
		if cfg.Cache.SweepInterval > 0 {
			cacheCfg.SweepInterval = cfg.Cache.SweepInterval
		}
		c.Cache = cache.New(cacheCfg, embedder, logger)
		c.Cache.Start(ctx)
	}

	res, err := newResolver(cfg, logger)
	if err != nil {
		return err
	}
	if res != nil {
		c.Resolver = resolver.NewGuarded(res, c.Breakers.Get("resolver"))
	}

	components := resolution.Components{
		Normalizer: normalize.New(),
		Classifier: classifier.New(classifierConfig(cfg.Classifier)),
		Parser:     parser.New(),
		Router:     c.Router,
		Resolver:   c.Resolver,
	}
	if c.Cache != nil {
		components.Cache = c.Cache
	}
	c.Pipeline = resolution.New(resolution.Config{
		CacheMinConfidence: cfg.Cache.MinConfidence,
		CacheTTL:           cfg.Cache.TTL,
	}, components, logger)

	if c.Cache != nil && cfg.Cache.SeedFile != "" {
		seeds, err := cache.LoadSeeds(cfg.Cache.SeedFile)
		if err != nil {
			return err
		}
		if err := c.Pipeline.WarmCache(ctx, seeds); err != nil {
			return fmt.Errorf("warming cache: %w", err)
		}
		logger.Info().Int("seeds", len(seeds)).Str("file", cfg.Cache.SeedFile).Msg("Cache warmed")
	}

	reg, err := registry.NewWithBuiltins(registry.Config{
		FallbackStrategy: cfg.Registry.FallbackStrategy,
		DefaultPlugin:    cfg.Registry.DefaultPlugin,
		BatchSize:        cfg.Registry.BatchSize,
	}, c.Pipeline, logger)
	if err != nil {
		return fmt.Errorf("registering plugins: %w", err)
	}
	c.Registry = reg
	return nil
}

// newResolver returns nil, nil when no model resolver is configured.
func newResolver(cfg *config.Config, logger zerolog.Logger) (resolver.Resolver, error) {
	switch cfg.Resolver.Provider {
	case "none":
		return nil, nil
	case "http":
		rate := resolver.CostRate{}
		for _, t := range cfg.Models.Tiers {
			if t.Recommended {
				rate = resolver.CostRate{In: t.CostPerKTokenIn, Out: t.CostPerKTokenOut}
			}
		}
		return resolver.NewHTTPResolver(cfg.Resolver.Endpoint, cfg.Credentials.Resolver.Token, rate, logger), nil
	default:
		if cfg.Credentials.OpenAI.APIKey == "" {
			logger.Warn().Msg("No OpenAI API key, model resolution disabled")
			return nil, nil
		}
		return resolver.NewOpenAIResolver(resolver.OpenAIConfig{
			APIKey:            cfg.Credentials.OpenAI.APIKey,
			BaseURL:           cfg.Credentials.OpenAI.BaseURL,
			MaxTokens:         cfg.Resolver.MaxTokens,
			RequestsPerSecond: cfg.Resolver.RequestsPerSecond,
			Burst:             cfg.Resolver.Burst,
			Tiers:             cfg.Models.Tiers,
		}, logger), nil
	}
}

func (c *Components) buildBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var gw broker.Gateway
	if cfg.IsPaperMode() {
		c.Paper = broker.NewPaperGateway(broker.PaperConfig{
			InitialCash: cfg.Trading.InitialCash,
			FeePerOrder: cfg.Trading.FeePerOrder,
			Quotes:      cfg.Trading.Quotes,
		}, logger)
		gw = c.Paper
	} else {
		kite := cfg.Credentials.Kite
		if kite.APIKey == "" || kite.AccessToken == "" {
			return errors.New("live mode needs kite api_key and access_token")
		}
		gw = broker.NewKiteGateway(broker.KiteConfig{
			APIKey:      kite.APIKey,
			AccessToken: kite.AccessToken,
			Exchange:    cfg.Trading.Exchange,
			Product:     cfg.Trading.Product,
		}, logger)
	}

	if c.Paper != nil && cfg.Trading.StreamQuotes {
		c.Feed = broker.NewPriceFeed(broker.FeedConfig{
			APIKey:      cfg.Credentials.Kite.APIKey,
			AccessToken: cfg.Credentials.Kite.AccessToken,
			Tokens:      cfg.Trading.InstrumentTokens,
		}, c.Paper, logger)
		go func() {
			if err := c.Feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Quote feed stopped")
			}
		}()
	}

	c.Limits = broker.WithLimits(gw, broker.Limits{
		MaxPositionSize:  cfg.Trading.MaxPositionSize,
		MaxDailySpending: cfg.Trading.MaxDailySpending,
	})
	c.Gateway = broker.WithBreaker(c.Limits, c.Breakers.Get("broker"))
	return nil
}

func classifierConfig(c config.ClassifierConfig) classifier.Config {
	return classifier.Config{
		ComplexThreshold:     c.ComplexThreshold,
		SimpleThreshold:      c.SimpleThreshold,
		CacheSimpleThreshold: c.CacheSimpleThreshold,
		CacheComplexCeiling:  c.CacheComplexCeiling,
		LongInputWords:       c.LongInputWords,
		ShortInputWords:      c.ShortInputWords,
		LongInputBonus:       c.LongInputBonus,
		MultiVerbBonus:       c.MultiVerbBonus,
		ConditionalBonus:     c.ConditionalBonus,
		AmbiguousConfidence:  c.AmbiguousConfidence,
	}
}

// Close stops background work and closes the audit log and store.
func (c *Components) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.Cache != nil {
		c.Cache.Close()
	}
	var errs []error
	if c.Audit != nil {
		errs = append(errs, c.Audit.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
