package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"intent-trader/internal/models"
	"intent-trader/internal/resilience"
	"intent-trader/internal/store"
	httpapi "intent-trader/internal/transport/http"
	"intent-trader/pkg/utils"
)

// waitTimeout bounds commands that only read broker state.
const waitTimeout = 30 * time.Second

func addSystemCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newHealthCmd(app))
	rootCmd.AddCommand(newAccountCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
}

type healthOutput struct {
	models.HealthReport
	Components map[string]resilience.ComponentHealth `json:"components"`
	Breakers   []resilience.CircuitBreakerStats      `json:"breakers"`
}

func newHealthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check resolver and broker health",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}
			if reset, _ := cmd.Flags().GetBool("reset-breakers"); reset {
				comps.Breakers.ResetAll()
			}

			report, components := comps.Orchestrator.HealthDetails(commandContext(cmd))
			breakers := comps.Breakers.AllStats()

			if output.IsJSON() {
				if err := output.JSON(healthOutput{HealthReport: report, Components: components, Breakers: breakers}); err != nil {
					return err
				}
			} else {
				names := make([]string, 0, len(components))
				for name := range components {
					names = append(names, name)
				}
				sort.Strings(names)

				table := NewTable(output, "Component", "Status", "Latency", "Message")
				for _, name := range names {
					c := components[name]
					table.AddRow(name, output.Status(c.Healthy())+" "+string(c.Status), utils.FormatDuration(c.Latency), c.Message)
				}
				if _, ok := components["resolver"]; !ok {
					table.AddRow("resolver", output.DimText("not configured"), "", "")
				}
				table.Render()

				if len(breakers) > 0 {
					output.Println()
					bt := NewTable(output, "Breaker", "State", "Requests", "Failures", "Rejected")
					for _, b := range breakers {
						bt.AddRow(b.Name, string(b.State), itoa64(b.TotalRequests), itoa64(b.TotalFailures), itoa64(b.TotalRejected))
					}
					bt.Render()
				}
			}

			if !report.Healthy {
				return errors.New("one or more services are unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().Bool("reset-breakers", false, "close every circuit breaker before probing")
	return cmd
}

func newAccountCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show broker account balances and positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(commandContext(cmd), waitTimeout)
			defer cancel()
			acct, err := comps.Gateway.GetAccount(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(acct)
			}

			mode := "live"
			if comps.Paper != nil {
				mode = "paper"
			}
			output.Bold("Account %s (%s)", acct.AccountID, mode)
			output.Printf("  Cash:         %s\n", utils.FormatCurrency(acct.Cash))
			output.Printf("  Buying power: %s\n", utils.FormatCurrency(acct.BuyingPower))
			output.Printf("  Equity:       %s\n", utils.FormatCurrency(acct.Equity))
			output.Printf("  Spent today:  %s\n", utils.FormatCurrency(acct.DailySpent))
			if comps.Limits != nil {
				output.Printf("  Limit usage:  %s\n", utils.FormatCurrency(comps.Limits.Spent()))
			}

			if len(acct.Positions) == 0 {
				output.Dim("No open positions")
				return nil
			}
			output.Println()
			table := NewTable(output, "Symbol", "Shares", "Avg Price", "Market", "P&L")
			for _, p := range acct.Positions {
				pnl := (p.MarketPrice - p.AveragePrice) * p.Shares
				pnlText := output.Green(utils.FormatCurrency(pnl))
				if pnl < 0 {
					pnlText = output.Red(utils.FormatCurrency(pnl))
				}
				table.AddRow(p.Symbol, utils.FormatShares(p.Shares), utils.FormatCurrency(p.AveragePrice), utils.FormatCurrency(p.MarketPrice), pnlText)
			}
			table.Render()
			return nil
		},
	}
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored trading results",
		Example: `  trader history
  trader history --symbol AAPL --limit 5
  trader history --failed --since 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}
			if comps.Store == nil {
				return errors.New("result history is disabled; set store.enabled = true")
			}

			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")
			failed, _ := cmd.Flags().GetBool("failed")
			since, _ := cmd.Flags().GetDuration("since")

			filter := store.HistoryFilter{Symbol: strings.ToUpper(symbol), Limit: limit}
			if failed {
				f := false
				filter.Success = &f
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
				filter.Since = from
			}

			ctx := commandContext(cmd)
			results, err := comps.Store.History(ctx, filter)
			if err != nil {
				return err
			}
			stats, err := comps.Store.Stats(ctx, from)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]any{"results": results, "stats": stats})
			}

			if len(results) == 0 {
				output.Dim("No results recorded")
			} else {
				table := NewTable(output, "Time", "Request", "Status", "Intent", "Strategy", "Detail")
				for _, r := range results {
					status := output.Green("OK")
					detail := ""
					if !r.Success {
						status = output.Red("FAILED")
						detail = truncate(r.Error, 40)
					} else if r.Execution != nil {
						detail = r.Execution.OrderID
					}
					table.AddRow(r.CreatedAt.Local().Format("01-02 15:04:05"), truncate(r.RequestID, 8), status,
						describeIntent(r.Intent), string(r.Metadata.Strategy), detail)
				}
				table.Render()
			}

			output.Println()
			output.Printf("%d results, %s succeeded, %d timed out, avg %s\n",
				stats.Total, utils.FormatPercent(stats.SuccessRate()*100), stats.TimedOut, utils.FormatDuration(stats.AvgLatency))
			output.Printf("Resolver cost %s, broker fees %s\n", utils.FormatCost(stats.ResolverCost), utils.FormatCurrency(stats.BrokerCost))
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().Int("limit", 20, "maximum results")
	cmd.Flags().Bool("failed", false, "only failed requests")
	cmd.Flags().Duration("since", 0, "only results newer than this (e.g. 24h)")
	return cmd
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trading API over HTTP",
		Example: `  trader serve
  trader serve --addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			comps, err := app.Components(ctx)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}

			cfg := httpapi.ServerConfig{
				Addr:    addr,
				Trader:  comps.Orchestrator,
				Intents: comps.Registry,
				Tiers:   comps.Router,
				Logger:  app.Logger,
			}
			if comps.Store != nil {
				cfg.History = comps.Store
			}
			srv, err := httpapi.NewServer(cfg)
			if err != nil {
				return err
			}

			NewOutput(cmd).Info("Serving on %s (Ctrl-C to stop)", srv.Addr())
			return srv.Start(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	return cmd
}

func itoa64(n int64) string {
	return utils.FormatShares(float64(n))
}
