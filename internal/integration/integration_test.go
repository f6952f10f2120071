// Package integration runs the wired pipeline end to end: HTTP API,
// resolution cascade, orchestrator, paper broker and result history.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-trader/internal/cli"
	"intent-trader/internal/config"
	"intent-trader/internal/models"
	"intent-trader/internal/resolver"
	httpapi "intent-trader/internal/transport/http"
)

// remoteModel stands in for an HTTP resolver service.
type remoteModel struct {
	calls   atomic.Int32
	healthy atomic.Bool
}

func (m *remoteModel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		var req resolver.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(strings.ToUpper(req.Text), "LULU") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "cannot resolve"})
			return
		}
		_ = json.NewEncoder(w).Encode(resolver.Response{
			Data: map[string]any{
				"action":         "hedge",
				"symbol":         "LULU",
				"hedge_strategy": "protective_put",
				"hedge_ratio":    0.5,
			},
			Confidence: 0.86,
			Model:      "gpt-4.1-mini",
			TokensIn:   320,
			TokensOut:  80,
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !m.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type stack struct {
	api   *httptest.Server
	model *remoteModel
	comps *cli.Components
}

func newStack(t *testing.T) *stack {
	t.Helper()
	model := &remoteModel{}
	model.healthy.Store(true)
	remote := httptest.NewServer(model.handler())
	t.Cleanup(remote.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Logging.File = false
	cfg.Audit.Path = filepath.Join(dir, "audit.log")
	cfg.Store.Path = filepath.Join(dir, "history.db")
	cfg.Resolver.Provider = "http"
	cfg.Resolver.Endpoint = remote.URL
	cfg.Cache.SweepInterval = time.Hour
	cfg.Execution.RetryBackoff = time.Millisecond
	cfg.Trading.InitialCash = 10000
	cfg.Trading.Quotes = map[string]float64{"AAPL": 190, "MSFT": 410, "TSLA": 250}

	ctx, cancel := context.WithCancel(context.Background())
	comps, err := cli.Build(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Trader:  comps.Orchestrator,
		Intents: comps.Registry,
		Tiers:   comps.Router,
		History: comps.Store,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	api := httptest.NewServer(srv.Handler())

	s := &stack{api: api, model: model, comps: comps}
	t.Cleanup(func() {
		api.Close()
		cancel()
		_ = comps.Close()
	})
	return s
}

func (s *stack) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.api.URL+"/api/v1"+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *stack) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(s.api.URL + "/api/v1" + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestDeterministicTradeRoundTrip(t *testing.T) {
	s := newStack(t)

	var res models.TradingResult
	code := s.post(t, "/trade", map[string]any{"input": "buy 5 shares of AAPL"}, &res)
	require.Equal(t, http.StatusOK, code)

	assert.True(t, res.Success, res.Error)
	assert.Equal(t, models.StrategyDeterministic, res.Metadata.Strategy)
	require.NotNil(t, res.Execution)
	assert.Equal(t, 5.0, res.Execution.ExecutedShares)
	assert.Equal(t, 190.0, res.Execution.ExecutedPrice)
	assert.Zero(t, s.model.calls.Load(), "parsed inputs never reach the model")

	acct, err := s.comps.Gateway.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10000-950, acct.Cash, 0.001)

	var stored models.TradingResult
	require.Equal(t, http.StatusOK, s.get(t, "/history/"+res.RequestID, &stored))
	assert.Equal(t, res.RequestID, stored.RequestID)
	assert.True(t, stored.Success)
}

func TestModelResolvedHedgeThenCached(t *testing.T) {
	s := newStack(t)

	var first models.ProcessedIntent
	require.Equal(t, http.StatusOK, s.post(t, "/resolve", map[string]any{"input": "hedge my LULU position"}, &first))
	require.NotNil(t, first.Intent)
	assert.Equal(t, models.IntentHedge, first.Intent.Kind)
	assert.Equal(t, "LULU", first.Intent.Symbol)
	assert.Equal(t, models.StrategyModel, first.Strategy)
	assert.Equal(t, "gpt-4.1-mini", first.Model)
	assert.Equal(t, 400, first.TokensUsed)
	assert.Equal(t, int32(1), s.model.calls.Load())
	assert.Equal(t, 1, s.comps.Cache.Len(), "confident model answers are cached")

	var usage struct {
		Requests int `json:"requests"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/usage", &usage))
	assert.Equal(t, 1, usage.Requests)
}

func TestHedgeRequestPlacesNoOrder(t *testing.T) {
	s := newStack(t)

	var res models.TradingResult
	require.Equal(t, http.StatusOK, s.post(t, "/trade", map[string]any{"input": "hedge my LULU position"}, &res))

	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "hedge", res.Metadata.PluginType)
	require.NotNil(t, res.Validation)
	assert.NotEmpty(t, res.Validation.Warnings)
	assert.Greater(t, res.Metadata.Costs.Resolver, 0.0)

	acct, err := s.comps.Gateway.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Empty(t, acct.Positions)
}

func TestUnresolvableInputFailsSafely(t *testing.T) {
	s := newStack(t)

	var res models.TradingResult
	require.Equal(t, http.StatusOK, s.post(t, "/trade", map[string]any{"input": "hello there"}, &res))

	assert.False(t, res.Success)
	assert.Equal(t, []string{models.StepParsingIntent}, res.Metadata.Steps)
	assert.Nil(t, res.Execution)

	var failed struct {
		Results []models.TradingResult `json:"results"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/history?success=false", &failed))
	require.Len(t, failed.Results, 1)
	assert.Equal(t, res.RequestID, failed.Results[0].RequestID)
}

func TestConcurrentTradesRespectCash(t *testing.T) {
	s := newStack(t)

	// Each order costs $2050; only four fit in $10,000.
	const n = 8
	var wg sync.WaitGroup
	results := make([]models.TradingResult, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(s.api.URL+"/api/v1/trade", "application/json",
				strings.NewReader(`{"input": "buy 5 shares of MSFT"}`))
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			errs[i] = json.NewDecoder(resp.Body).Decode(&results[i])
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	assert.LessOrEqual(t, succeeded, 4)
	assert.GreaterOrEqual(t, succeeded, 1)

	acct, err := s.comps.Gateway.GetAccount(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acct.Cash, 0.0)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, float64(5*succeeded), acct.Positions[0].Shares)
}

func TestBatchOverHTTP(t *testing.T) {
	s := newStack(t)

	var body struct {
		Results   []models.TradingResult `json:"results"`
		Succeeded int                    `json:"succeeded"`
		Failed    int                    `json:"failed"`
	}
	code := s.post(t, "/batch", map[string]any{"requests": []map[string]any{
		{"input": "buy 1 share of AAPL", "dry_run": true},
		{"input": "sell all my TSLA"},
		{"input": "buy $500 of TSLA"},
	}}, &body)
	require.Equal(t, http.StatusOK, code)

	require.Len(t, body.Results, 3)
	assert.True(t, body.Results[0].Success)
	assert.False(t, body.Results[1].Success, "no TSLA position to sell")
	assert.True(t, body.Results[2].Success)
	assert.Equal(t, 2, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
}

func TestHealthFollowsResolver(t *testing.T) {
	s := newStack(t)

	var health struct {
		Healthy bool `json:"healthy"`
	}
	require.Equal(t, http.StatusOK, s.get(t, "/health", &health))
	assert.True(t, health.Healthy)

	s.model.healthy.Store(false)
	require.Equal(t, http.StatusServiceUnavailable, s.get(t, "/health", &health))
	assert.False(t, health.Healthy)
}
