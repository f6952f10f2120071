package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"intent-trader/internal/router"
	"intent-trader/pkg/utils"
)

func addResolutionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newResolveCmd(app))
	rootCmd.AddCommand(newClassifyCmd(app))
	rootCmd.AddCommand(newTiersCmd(app))
	rootCmd.AddCommand(newUsageCmd(app))
}

func newResolveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <command...>",
		Short: "Resolve text into a structured intent without trading",
		Example: `  trader resolve buy 10 shares of AAPL
  trader resolve "protect my NVDA position" --prefer accuracy`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}

			reqCtx := map[string]any{}
			if p, _ := cmd.Flags().GetString("prefer"); p != "" {
				reqCtx["preference"] = p
			}
			processed, err := comps.Registry.Process(commandContext(cmd), strings.Join(args, " "), reqCtx)
			if err != nil {
				output.Error("Resolution failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(processed)
			}

			output.Bold("%s", describeIntent(processed.Intent))
			output.Printf("  Plugin:     %s\n", processed.PluginType)
			output.Printf("  Strategy:   %s\n", processed.Strategy)
			if processed.Model != "" {
				output.Printf("  Model:      %s (%d tokens, %s)\n", processed.Model, processed.TokensUsed, utils.FormatCost(processed.Cost))
			}
			output.Printf("  Confidence: %s\n", utils.FormatConfidence(processed.Confidence))
			output.Printf("  Took:       %s\n", utils.FormatDuration(processed.ProcessingTime))
			return nil
		},
	}
	cmd.Flags().String("prefer", "", "model preference: speed or accuracy")
	return cmd
}

func newClassifyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <command...>",
		Short: "Show how text would be routed, without resolving it",
		Long: `Normalize and classify text, report the deterministic parser match and
the model tier a model call would use. Nothing is called or recorded.`,
		Example: `  trader classify "buy \$500 of AAPL"
  trader classify "if tesla drops 5% rotate half into bonds" --max-cost 0.001`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}

			pref, _ := cmd.Flags().GetString("prefer")
			maxCost, _ := cmd.Flags().GetFloat64("max-cost")
			maxLatency, _ := cmd.Flags().GetInt("max-latency")
			var cons *router.Constraints
			if pref != "" || maxCost > 0 || maxLatency > 0 {
				cons = &router.Constraints{MaxLatencyMs: maxLatency, MaxCost: maxCost, Preference: router.Preference(pref)}
			}

			exp := comps.Pipeline.Explain(strings.Join(args, " "), cons)
			if output.IsJSON() {
				return output.JSON(exp)
			}

			output.Printf("Normalized:  %s\n", exp.Normalized)
			output.Printf("Strategy:    %s (confidence %s)\n", exp.Classification.Strategy, utils.FormatConfidence(exp.Classification.Confidence))
			output.Dim("             simple %.2f, complex %.2f, %d words",
				exp.Classification.SimpleScore, exp.Classification.ComplexScore, exp.Classification.WordCount)
			if exp.ParserRule != "" {
				output.Printf("Parser:      %s (%s)\n", exp.ParserRule, utils.FormatConfidence(exp.ParserScore))
			} else {
				output.Printf("Parser:      %s\n", output.DimText("no match"))
			}
			if s := exp.Selection; s != nil {
				output.Printf("Tier:        %s, est. %s, %dms\n", s.TierName, utils.FormatCost(s.EstimatedCost), s.EstimatedLatencyMs)
				output.Dim("             %s", s.Reason)
			} else {
				output.Warning("Tier:        no tier satisfies the constraints")
			}
			return nil
		},
	}
	cmd.Flags().String("prefer", "", "model preference: speed or accuracy")
	cmd.Flags().Float64("max-cost", 0, "maximum estimated cost per request")
	cmd.Flags().Int("max-latency", 0, "maximum tier latency in milliseconds")
	return cmd
}

func newTiersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the model tier catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}
			tiers := comps.Router.Tiers()
			if output.IsJSON() {
				return output.JSON(tiers)
			}

			table := NewTable(output, "Tier", "Complexity", "In /1K", "Out /1K", "Latency", "")
			for _, t := range tiers {
				mark := ""
				if t.Recommended {
					mark = output.Green("recommended")
				}
				table.AddRow(t.Name, string(t.Complexity), utils.FormatCost(t.CostPerKTokenIn), utils.FormatCost(t.CostPerKTokenOut), fmt.Sprintf("%dms", t.LatencyMs), mark)
			}
			table.Render()
			return nil
		},
	}
}

type usageReport struct {
	Router router.Usage `json:"router"`
	Cache  *cacheReport `json:"cache,omitempty"`
}

type cacheReport struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

func newUsageCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show model tier usage and cache activity for this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			comps, err := app.Components(cmd.Context())
			if err != nil {
				return err
			}

			report := usageReport{Router: comps.Router.Usage()}
			if comps.Cache != nil {
				s := comps.Cache.Stats()
				report.Cache = &cacheReport{Entries: s.Entries, Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions}
				if total := s.Hits + s.Misses; total > 0 {
					report.Cache.HitRate = float64(s.Hits) / float64(total)
				}
			}
			if output.IsJSON() {
				return output.JSON(report)
			}

			u := report.Router
			output.Bold("Model routing")
			output.Printf("  Requests:   %d\n", u.Requests)
			for _, name := range comps.Router.TierNames() {
				if n := u.ByTier[name]; n > 0 {
					output.Printf("  %-11s %d\n", name+":", n)
				}
			}
			output.Printf("  Spend:      %s (worst case %s)\n", utils.FormatCost(u.EstimatedSpend), utils.FormatCost(u.WorstCaseSpend))
			output.Printf("  Savings:    %s (%s)\n", utils.FormatCost(u.Savings), utils.FormatPercent(u.SavingsPct))

			if c := report.Cache; c != nil {
				output.Println()
				output.Bold("Semantic cache")
				output.Printf("  Entries:    %d\n", c.Entries)
				output.Printf("  Hits:       %d / misses %d (%s)\n", c.Hits, c.Misses, utils.FormatPercent(c.HitRate*100))
				output.Printf("  Evictions:  %d\n", c.Evictions)
			} else {
				output.Dim("Semantic cache disabled")
			}
			return nil
		},
	}
}
