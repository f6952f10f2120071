package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-trader/internal/config"
	"intent-trader/internal/models"
	"intent-trader/internal/resolution"
)

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *App {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Logging.File = false
	cfg.Logging.Console = false
	cfg.Audit.Path = filepath.Join(dir, "audit", "audit.log")
	cfg.Store.Path = filepath.Join(dir, "history.db")
	cfg.Resolver.Provider = "none"
	cfg.Cache.SweepInterval = time.Hour
	cfg.Execution.RetryBackoff = time.Millisecond
	cfg.Trading.Quotes = map[string]float64{"AAPL": 190, "TSLA": 250}
	for _, m := range mutate {
		m(cfg)
	}

	app := &App{Config: cfg, Logger: zerolog.Nop(), ConfigDir: dir}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func run(app *App, args ...string) (string, error) {
	cmd := NewRootCmd(app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v), raw)
	return v
}

func TestTradeCommandExecutesPaperOrder(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "--json", "trade", "buy", "2", "shares", "of", "AAPL")
	require.NoError(t, err)
	res := decode[models.TradingResult](t, out)

	assert.True(t, res.Success)
	require.NotNil(t, res.Intent)
	assert.Equal(t, "AAPL", res.Intent.Symbol)
	assert.Equal(t, models.StrategyDeterministic, res.Metadata.Strategy)
	assert.Equal(t, []string{models.StepParsingIntent, models.StepValidatingTrade, models.StepExecutingTrade}, res.Metadata.Steps)
	require.NotNil(t, res.Execution)
	assert.Equal(t, 2.0, res.Execution.ExecutedShares)

	out, err = run(app, "--json", "account")
	require.NoError(t, err)
	acct := decode[models.AccountInfo](t, out)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, "AAPL", acct.Positions[0].Symbol)
	assert.Equal(t, 2.0, acct.Positions[0].Shares)

	out, err = run(app, "--json", "history")
	require.NoError(t, err)
	hist := decode[struct {
		Results []models.TradingResult `json:"results"`
		Stats   struct {
			Total     int `json:"total"`
			Succeeded int `json:"succeeded"`
		} `json:"stats"`
	}](t, out)
	require.Len(t, hist.Results, 1)
	assert.Equal(t, res.RequestID, hist.Results[0].RequestID)
	assert.Equal(t, 1, hist.Stats.Total)
	assert.Equal(t, 1, hist.Stats.Succeeded)

	audit, err := os.ReadFile(app.Config.Audit.Path)
	require.NoError(t, err)
	assert.Contains(t, string(audit), "ORDER_EXECUTED")
}

func TestTradeCommandDryRun(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "--json", "trade", "--dry-run", "buy $100 of AAPL")
	require.NoError(t, err)
	res := decode[models.TradingResult](t, out)

	assert.True(t, res.Success)
	assert.Nil(t, res.Execution)
	assert.Equal(t, []string{models.StepParsingIntent, models.StepValidatingTrade}, res.Metadata.Steps)
	require.NotNil(t, res.Validation)
	assert.Equal(t, 190.0, res.Validation.CurrentPrice)
}

func TestTradeCommandReportsFailure(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "trade", "buy 2 shares of MSFT")
	require.Error(t, err)
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "no quote for MSFT")
}

func TestBatchCommandIsolatesFailures(t *testing.T) {
	app := newTestApp(t)
	path := filepath.Join(t.TempDir(), "requests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`requests:
  - input: buy 3 shares of AAPL
  - input: buy 2 shares of MSFT
  - input: sell $500 of TSLA
    options:
      skip_validation: true
`), 0o600))

	out, err := run(app, "--json", "batch", "-f", path, "--dry-run")
	require.NoError(t, err)
	results := decode[[]models.TradingResult](t, out)

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success, "validation skipped, dry run")
	for _, r := range results {
		assert.Nil(t, r.Execution)
	}
	assert.Equal(t, []string{models.StepParsingIntent}, results[2].Metadata.Steps)
}

func TestBatchCommandRejectsBadFiles(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("requests: []\n"), 0o600))
	_, err := run(app, "batch", "-f", empty)
	assert.ErrorContains(t, err, "no requests")

	blank := filepath.Join(dir, "blank.yaml")
	require.NoError(t, os.WriteFile(blank, []byte("requests:\n  - input: \"  \"\n"), 0o600))
	_, err = run(app, "batch", "-f", blank)
	assert.ErrorContains(t, err, "no input")

	_, err = run(app, "batch")
	assert.Error(t, err, "file flag is required")
}

func TestResolveCommand(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "--json", "resolve", "sell all my TSLA")
	require.NoError(t, err)
	p := decode[models.ProcessedIntent](t, out)

	require.NotNil(t, p.Intent)
	assert.Equal(t, models.IntentSell, p.Intent.Kind)
	assert.Equal(t, "TSLA", p.Intent.Symbol)
	require.NotNil(t, p.Intent.Order)
	assert.True(t, p.Intent.Order.IsAllHoldings())
	assert.Equal(t, models.StrategyDeterministic, p.Strategy)
}

func TestClassifyCommand(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "--json", "classify", "buy $100 of AAPL")
	require.NoError(t, err)
	exp := decode[resolution.Explanation](t, out)

	assert.Equal(t, "buy $100 of AAPL", exp.Input)
	assert.NotEmpty(t, exp.ParserRule)
	assert.NotNil(t, exp.Selection)

	out, err = run(app, "classify", "buy $100 of AAPL")
	require.NoError(t, err)
	assert.Contains(t, out, "Normalized:")
	assert.Contains(t, out, "Tier:")
}

func TestTiersAndUsageCommands(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "--json", "tiers")
	require.NoError(t, err)
	tiers := decode[[]models.ModelTier](t, out)
	assert.Len(t, tiers, len(config.DefaultTiers()))

	out, err = run(app, "--json", "usage")
	require.NoError(t, err)
	report := decode[usageReport](t, out)
	require.NotNil(t, report.Cache)
	assert.Zero(t, report.Router.Requests)

	out, err = run(app, "tiers")
	require.NoError(t, err)
	assert.Contains(t, out, "recommended")
}

func TestHealthCommand(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "--json", "health")
	require.NoError(t, err)
	h := decode[struct {
		Healthy    bool                       `json:"healthy"`
		Components map[string]json.RawMessage `json:"components"`
	}](t, out)

	assert.True(t, h.Healthy)
	assert.Contains(t, h.Components, "broker")
	assert.NotContains(t, h.Components, "resolver")

	out, err = run(app, "health", "--reset-breakers")
	require.NoError(t, err)
	assert.Contains(t, out, "not configured")
}

func TestHistoryNeedsStore(t *testing.T) {
	app := newTestApp(t, func(c *config.Config) { c.Store.Enabled = false })

	_, err := run(app, "history")
	assert.ErrorContains(t, err, "disabled")
}

func TestConfigAndVersionCommands(t *testing.T) {
	app := newTestApp(t)

	out, err := run(app, "--json", "config", "validate")
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid": true}`, out)

	out, err = run(app, "--json", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "Credentials")

	out, err = run(app, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestTableAlignsColoredCells(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf, colorEnabled: true}

	table := NewTable(o, "Name", "Status")
	table.AddRow("a", o.Green("OK"))
	table.AddRow("long-name", o.Red("FAILED"))
	table.Render()

	assert.Contains(t, buf.String(), "\x1b[")
	lines := strings.Split(strings.TrimRight(stripANSI(buf.String()), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Name       Status", lines[0])
	assert.Equal(t, "a          OK", lines[2])
	assert.Equal(t, "long-name  FAILED", lines[3])
}

func TestOutputWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf}

	assert.Equal(t, "OK", o.Green("OK"))
	o.Success("done %d", 3)
	assert.Equal(t, "done 3\n", buf.String())
}

func TestDescribeIntent(t *testing.T) {
	tests := []struct {
		intent *models.TradeIntent
		want   string
	}{
		{nil, "-"},
		{&models.TradeIntent{Kind: models.IntentBuy, Symbol: "AAPL", Order: &models.OrderSpec{AmountType: models.AmountDollars, Amount: 500, OrderType: models.OrderMarket}}, "buy $500.00 of AAPL"},
		{&models.TradeIntent{Kind: models.IntentSell, Symbol: "TSLA", Order: &models.OrderSpec{AmountType: models.AmountShares, Amount: models.AllHoldings, OrderType: models.OrderMarket}}, "sell all TSLA"},
		{&models.TradeIntent{Kind: models.IntentHedge, Symbol: "NVDA", Hedge: &models.HedgeSpec{Strategy: "collar"}}, "hedge NVDA (collar)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describeIntent(tt.intent))
	}
	assert.Equal(t, "abc…", truncate("abcdef", 4))
	assert.Equal(t, "abc", truncate("abc", 4))
}
