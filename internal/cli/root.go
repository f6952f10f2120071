// Package cli provides the command-line interface for the trading application.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"intent-trader/internal/config"
	"intent-trader/internal/logging"
	"intent-trader/pkg/utils"
)

// Version information, overridden at link time.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	ConfigDir string

	components *Components
}

// Components builds the wired collaborators on first use.
func (a *App) Components(ctx context.Context) (*Components, error) {
	if a.components != nil {
		return a.components, nil
	}
	c, err := Build(ctx, a.Config, a.Logger)
	if err != nil {
		return nil, err
	}
	a.components = c
	return c, nil
}

// Close releases whatever Components opened.
func (a *App) Close() error {
	if a.components == nil {
		return nil
	}
	err := a.components.Close()
	a.components = nil
	return err
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	app := &App{}
	defer app.Close()
	if err := NewRootCmd(app).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// NewRootCmd creates the root command. Configuration is loaded before any
// subcommand runs unless app already carries one.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Intent Trader - natural-language trading CLI",
		Long: `Intent Trader turns plain-English trade commands into validated orders.

Commands are resolved by a tiered pipeline (deterministic parser, semantic
cache, language model) and executed through a paper or Kite broker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" {
				app.ConfigDir = dir
			}
			if app.ConfigDir == "" {
				app.ConfigDir = config.DefaultConfigDir()
			}
			if app.Config == nil {
				cfg, err := config.Load(app.ConfigDir)
				if err != nil {
					return err
				}
				app.Config = cfg
				app.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
					Level:      cfg.Logging.Level,
					Console:    cfg.Logging.Console,
					File:       cfg.Logging.File,
					FilePath:   cfg.Logging.FilePath,
					MaxSize:    100,
					MaxBackups: 7,
					MaxAge:     30,
				})
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/intent-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addTradingCommands(rootCmd, app)
	addResolutionCommands(rootCmd, app)
	addSystemCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Intent Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:               %s\n", cfg.Trading.Mode)
	output.Printf("  Max Position:       %s\n", utils.FormatCurrency(cfg.Trading.MaxPositionSize))
	output.Printf("  Max Daily Spending: %s\n", utils.FormatCurrency(cfg.Trading.MaxDailySpending))
	if cfg.IsPaperMode() {
		output.Printf("  Initial Cash:       %s\n", utils.FormatCurrency(cfg.Trading.InitialCash))
		output.Printf("  Quotes:             %d symbols (streaming: %v)\n", len(cfg.Trading.Quotes), cfg.Trading.StreamQuotes)
	} else {
		output.Printf("  Exchange/Product:   %s/%s\n", cfg.Trading.Exchange, cfg.Trading.Product)
	}
	output.Println()

	output.Bold("Pipeline")
	output.Printf("  Timeouts:           parse %s, validate %s, execute %s\n",
		cfg.Timeouts.IntentParsing, cfg.Timeouts.TradeValidation, cfg.Timeouts.TradeExecution)
	output.Printf("  Retries:            %d (backoff %s)\n", cfg.Execution.Retries, cfg.Execution.RetryBackoff)
	output.Printf("  Validation:         %v\n", cfg.Execution.ValidationRequired)
	output.Printf("  Min Confidence:     %s\n", utils.FormatConfidence(cfg.Execution.MinExecutionConfidence))
	output.Printf("  Fallback:           %s\n", cfg.Registry.FallbackStrategy)
	output.Println()

	output.Bold("Resolver")
	output.Printf("  Provider:           %s\n", cfg.Resolver.Provider)
	if cfg.Resolver.Endpoint != "" {
		output.Printf("  Endpoint:           %s\n", cfg.Resolver.Endpoint)
	}
	output.Printf("  Model Tiers:        %d\n", len(cfg.Models.Tiers))
	output.Println()

	output.Bold("Cache")
	output.Printf("  Enabled:            %v\n", cfg.Cache.Enabled)
	output.Printf("  Embedder:           %s\n", cfg.Cache.Embedder)
	output.Printf("  TTL:                %s\n", cfg.Cache.TTL)
	output.Printf("  Similarity:         %.2f\n", cfg.Cache.SimilarityThreshold)
}
