// Package httpapi exposes the trading orchestrator over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"intent-trader/internal/logging"
	"intent-trader/internal/models"
	"intent-trader/internal/resilience"
	"intent-trader/internal/router"
	"intent-trader/internal/store"
)

// Trader runs trading requests.
type Trader interface {
	Process(ctx context.Context, req models.TradingRequest) (*models.TradingResult, error)
	BatchProcess(ctx context.Context, reqs []models.TradingRequest) ([]*models.TradingResult, error)
	HealthDetails(ctx context.Context) (models.HealthReport, map[string]resilience.ComponentHealth)
}

// IntentProcessor resolves text without touching the broker.
type IntentProcessor interface {
	Process(ctx context.Context, text string, reqCtx map[string]any) (*models.ProcessedIntent, error)
}

// TierReporter exposes the model catalog and selection usage.
type TierReporter interface {
	Tiers() []models.ModelTier
	Usage() router.Usage
}

// HistoryReader reads stored results.
type HistoryReader interface {
	Get(ctx context.Context, requestID string) (*models.TradingResult, error)
	History(ctx context.Context, filter store.HistoryFilter) ([]*models.TradingResult, error)
}

// ServerConfig describes the HTTP server's collaborators. Intents, Tiers
// and History are optional; their routes answer 503 when unset.
type ServerConfig struct {
	Addr     string
	Trader   Trader
	Intents  IntentProcessor
	Tiers    TierReporter
	History  HistoryReader
	MaxBatch int
	Logger   zerolog.Logger
}

// Server serves the /api/v1 routes.
type Server struct {
	addr   string
	router *gin.Engine
	logger zerolog.Logger
}

// NewServer builds the gin engine and registers routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Trader == nil {
		return nil, errors.New("http server requires a trader")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	logger := logging.WithComponent(cfg.Logger, "http")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h := &handlers{cfg: cfg}
	h.register(engine.Group("/api/v1"))

	return &Server{addr: cfg.Addr, router: engine, logger: logger}, nil
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}
