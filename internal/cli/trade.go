package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"intent-trader/internal/models"
	"intent-trader/pkg/utils"
)

func addTradingCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newTradeCmd(app))
	rootCmd.AddCommand(newBatchCmd(app))
}

func newTradeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade <command...>",
		Short: "Resolve and execute a natural-language trade",
		Long: `Resolve a plain-English command into an intent, validate it with the
broker and execute it.

Use --dry-run to stop after validation.`,
		Example: `  trader trade buy \$500 of AAPL
  trader trade "sell all my TSLA" --dry-run
  trader trade "buy 10 shares of MSFT at \$410" --timeout 20s`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			skip, _ := cmd.Flags().GetBool("skip-validation")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			preference, _ := cmd.Flags().GetString("prefer")

			req := models.TradingRequest{
				Input:   strings.Join(args, " "),
				Options: models.RequestOptions{DryRun: dryRun, SkipValidation: skip, Timeout: timeout},
			}
			if preference != "" {
				req.Context = map[string]any{"preference": preference}
			}

			res, err := comps.Orchestrator.Process(commandContext(cmd), req)
			if err != nil {
				output.Error("Request aborted: %v", err)
				return err
			}
			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
			} else {
				printResult(output, res)
			}
			if !res.Success {
				return fmt.Errorf("request %s failed", res.RequestID)
			}
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "resolve and validate without executing")
	cmd.Flags().Bool("skip-validation", false, "skip broker validation")
	cmd.Flags().Duration("timeout", 0, "overall request deadline (0 = step timeouts only)")
	cmd.Flags().String("prefer", "", "model preference: speed or accuracy")

	return cmd
}

type batchFile struct {
	Requests []models.TradingRequest `yaml:"requests"`
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a file of trading requests concurrently",
		Long: `Run every request in a YAML file. Each request gets its own result; one
failing request never affects the others.

File format:
  requests:
    - input: buy $100 of AAPL
    - input: sell all my TSLA
      options: {dry_run: true, timeout: 10s}`,
		Example: `  trader batch -f requests.yaml
  trader batch -f requests.yaml --dry-run --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path, _ := cmd.Flags().GetString("file")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			reqs, err := loadBatchFile(path)
			if err != nil {
				return err
			}
			if dryRun {
				for i := range reqs {
					reqs[i].Options.DryRun = true
				}
			}

			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}
			results, err := comps.Orchestrator.BatchProcess(commandContext(cmd), reqs)
			if output.IsJSON() {
				if jerr := output.JSON(results); jerr != nil {
					return jerr
				}
				return err
			}

			table := NewTable(output, "#", "Input", "Status", "Intent", "Steps", "Detail")
			failed := 0
			for i, res := range results {
				status := output.Green("OK")
				detail := ""
				if !res.Success {
					failed++
					status = output.Red("FAILED")
					detail = truncate(res.Error, 48)
				} else if res.Execution != nil {
					detail = res.Execution.OrderID
				}
				table.AddRow(fmt.Sprintf("%d", i+1), truncate(reqs[i].Input, 32), status, describeIntent(res.Intent), fmt.Sprintf("%d", len(res.Metadata.Steps)), detail)
			}
			table.Render()
			output.Println()
			output.Printf("%d requests, %d succeeded, %d failed\n", len(results), len(results)-failed, failed)
			return err
		},
	}

	cmd.Flags().StringP("file", "f", "", "YAML file of requests (required)")
	cmd.Flags().Bool("dry-run", false, "force dry run for every request")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func loadBatchFile(path string) ([]models.TradingRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(f.Requests) == 0 {
		return nil, fmt.Errorf("batch file %s has no requests", path)
	}
	for i, r := range f.Requests {
		if strings.TrimSpace(r.Input) == "" {
			return nil, fmt.Errorf("batch request %d has no input", i+1)
		}
	}
	return f.Requests, nil
}

func printResult(output *Output, res *models.TradingResult) {
	if res.Success {
		output.Success("✓ Request %s succeeded", res.RequestID)
	} else {
		output.Error("✗ Request %s failed: %s", res.RequestID, res.Error)
	}

	if res.Intent != nil {
		output.Printf("  Intent:     %s (confidence %s)\n", describeIntent(res.Intent), utils.FormatConfidence(res.Intent.Confidence))
	}
	meta := res.Metadata
	if meta.Strategy != "" {
		via := string(meta.Strategy)
		if meta.Model != "" {
			via += " / " + meta.Model
		}
		output.Printf("  Resolved:   %s via %s\n", meta.PluginType, via)
	}
	if v := res.Validation; v != nil {
		output.Printf("  Validation: %s est. %s at %s\n", output.Status(v.IsValid), utils.FormatCurrency(v.EstimatedCost), utils.FormatCurrency(v.CurrentPrice))
		for _, w := range v.Warnings {
			output.Warning("    ! %s", w)
		}
	}
	if e := res.Execution; e != nil && e.Success {
		output.Printf("  Execution:  order %s, %s shares at %s, fees %s\n", e.OrderID, utils.FormatShares(e.ExecutedShares), utils.FormatCurrency(e.ExecutedPrice), utils.FormatCurrency(e.Fees))
	}
	if meta.ExecutionAttempts > 1 {
		output.Printf("  Attempts:   %d\n", meta.ExecutionAttempts)
	}
	if meta.TimedOutStep != "" {
		output.Warning("  Timed out:  %s", meta.TimedOutStep)
	}
	output.Dim("  Steps: %s | %s | resolver %s, broker %s",
		strings.Join(meta.Steps, " → "), utils.FormatDuration(meta.ProcessingTime),
		utils.FormatCost(meta.Costs.Resolver), utils.FormatCurrency(meta.Costs.Broker))
}

func describeIntent(t *models.TradeIntent) string {
	if t == nil {
		return "-"
	}
	switch {
	case t.Order != nil:
		var amount string
		switch {
		case t.Order.IsAllHoldings():
			amount = "all"
		case t.Order.AmountType == models.AmountDollars:
			amount = utils.FormatCurrency(t.Order.Amount) + " of"
		default:
			amount = utils.FormatShares(t.Order.Amount) + " shares of"
		}
		desc := fmt.Sprintf("%s %s %s", t.Kind, amount, t.Symbol)
		if t.Order.OrderType == models.OrderLimit {
			desc += " limit " + utils.FormatCurrency(t.Order.LimitPrice)
		}
		return desc
	case t.Analysis != nil:
		return fmt.Sprintf("%s %s (%s)", t.Kind, t.Symbol, t.Analysis.AnalysisType)
	case t.Hedge != nil:
		return fmt.Sprintf("%s %s (%s)", t.Kind, t.Symbol, t.Hedge.Strategy)
	case t.Custom != nil:
		return fmt.Sprintf("%s %s (%s)", t.Kind, t.Symbol, t.Custom.Action)
	default:
		return fmt.Sprintf("%s %s", t.Kind, t.Symbol)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// commandContext returns the command's context, or a background one when
// the command was run without ExecuteContext.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
