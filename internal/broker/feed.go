package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"intent-trader/internal/logging"
)

// FeedConfig holds configuration for the streaming price feed.
type FeedConfig struct {
	APIKey      string
	AccessToken string
	// Tokens maps symbols to Kite instrument tokens.
	Tokens map[string]uint32
}

// PriceFeed streams last traded prices from the Kite ticker into a
// PriceSink, typically the paper gateway.
type PriceFeed struct {
	cfg    FeedConfig
	sink   PriceSink
	logger zerolog.Logger

	tokens  []uint32
	symbols map[uint32]string

	mu        sync.RWMutex
	connected bool
	lastTick  time.Time
}

// NewPriceFeed creates a price feed for the configured instruments.
func NewPriceFeed(cfg FeedConfig, sink PriceSink, logger zerolog.Logger) *PriceFeed {
	f := &PriceFeed{
		cfg:     cfg,
		sink:    sink,
		logger:  logging.WithComponent(logger, "price_feed"),
		symbols: make(map[uint32]string, len(cfg.Tokens)),
	}
	for sym, token := range cfg.Tokens {
		f.symbols[token] = strings.ToUpper(sym)
		f.tokens = append(f.tokens, token)
	}
	return f
}

// Run connects and serves ticks until ctx is done. The ticker reconnects on
// its own.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.tokens) == 0 {
		return fmt.Errorf("price feed has no instruments")
	}

	t := kiteticker.New(f.cfg.APIKey, f.cfg.AccessToken)

	t.OnConnect(func() {
		f.setConnected(true)
		if err := t.Subscribe(f.tokens); err != nil {
			f.logger.Error().Err(err).Msg("Failed to subscribe")
			return
		}
		if err := t.SetMode(kiteticker.ModeLTP, f.tokens); err != nil {
			f.logger.Error().Err(err).Msg("Failed to set tick mode")
			return
		}
		f.logger.Info().Int("instruments", len(f.tokens)).Msg("Price feed connected")
	})
	t.OnClose(func(code int, reason string) {
		f.setConnected(false)
		f.logger.Warn().Int("code", code).Str("reason", reason).Msg("Price feed closed")
	})
	t.OnError(func(err error) {
		f.logger.Warn().Err(err).Msg("Price feed error")
	})
	t.OnReconnect(func(attempt int, delay time.Duration) {
		f.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Price feed reconnecting")
	})
	t.OnTick(f.handleTick)

	t.ServeWithContext(ctx)
	f.setConnected(false)
	return ctx.Err()
}

func (f *PriceFeed) handleTick(tick kitemodels.Tick) {
	sym, ok := f.symbols[tick.InstrumentToken]
	if !ok || tick.LastPrice <= 0 {
		return
	}
	f.sink.UpdatePrice(sym, tick.LastPrice)

	f.mu.Lock()
	f.lastTick = time.Now()
	f.mu.Unlock()
}

func (f *PriceFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// Connected reports whether the websocket is up.
func (f *PriceFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// LastTick returns when the last price arrived.
func (f *PriceFeed) LastTick() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastTick
}
