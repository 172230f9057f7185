package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hedge-backtester/internal/config"
	"hedge-backtester/internal/logging"
	"hedge-backtester/internal/store"
	"hedge-backtester/internal/trading"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. Config and Logger are filled in
// once flags are parsed.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	ConfigDir string
}

// NewRootCmd creates the root command for the CLI. logger is used until
// the configuration has been loaded.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "backtester",
		Short: "Event-driven backtester for futures and cash portfolios",
		Long: `Hedge Backtester replays daily bars through a simulated broker and a
trend-following strategy, then reports returns, drawdown, Sharpe ratio and
the trade log.

Bars come from a CSV manifest or a SQLite database; runs can be saved to
SQLite and inspected later with 'backtester runs'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/hedge-backtester)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addBacktestCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addRunCommands(rootCmd, app)

	return rootCmd
}

// load loads the configuration and rebuilds the logger from it.
func (app *App) load(cmd *cobra.Command) error {
	app.ConfigDir, _ = cmd.Flags().GetString("config")
	if app.ConfigDir == "" {
		app.ConfigDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(app.ConfigDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	app.Config = cfg
	app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		app.Logger = app.Logger.Level(zerolog.DebugLevel)
	}
	if !cfg.UI.ColorEnabled {
		color.NoColor = true
	}

	app.Logger.Debug().Str("config_dir", app.ConfigDir).Msg("Configuration loaded")
	return nil
}

// openSource opens the configured bar source. The returned close func is
// never nil.
func (app *App) openSource() (store.BarSource, func() error, error) {
	data := app.Config.Data
	if data.Source == config.SourceSQLite {
		db, err := store.NewSQLiteStore(data.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	return store.NewCSVSource(data.Manifest, data.DataDir, app.Logger), func() error { return nil }, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Hedge Backtester v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and check the backtester configuration.",
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
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.Path(app.ConfigDir)})
			} else {
				output.Println(config.Path(app.ConfigDir))
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
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
	orDefault := func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	}

	output.Bold("Backtest")
	output.Printf("  Initial Cash:     %s\n", FormatCurrency(cfg.Backtest.InitialCash))
	output.Printf("  Account:          %s\n", cfg.Backtest.Account)
	output.Printf("  Commission:       %s %.2f\n", cfg.Backtest.CommissionModel, cfg.Backtest.Commission)
	output.Printf("  Liquidate at End: %v\n", cfg.Backtest.LiquidateAtEnd)
	output.Printf("  Window:           %s / %s / %s\n",
		orDefault(cfg.Backtest.FeedStart, "first bar"),
		orDefault(cfg.Backtest.TradeStart, "feed start"),
		orDefault(cfg.Backtest.TradeEnd, "last bar"))
	output.Println()

	output.Bold("Data")
	output.Printf("  Source:           %s\n", cfg.Data.Source)
	output.Printf("  Manifest:         %s\n", cfg.Data.Manifest)
	output.Printf("  Database:         %s\n", cfg.Data.DBPath)
	output.Println()

	p := cfg.Strategy.Params
	output.Bold("Strategy")
	output.Printf("  Name:             %s\n", cfg.Strategy.Name)
	output.Printf("  Risk Factor:      %.4f\n", p.RiskFactor)
	output.Printf("  ATR Period:       %d\n", p.ATRPeriod)
	output.Printf("  Stop / Limit:     %.1f / %.1f ATR\n", p.Stop, p.Limit)
	switch cfg.Strategy.Name {
	case trading.StrategyBreakout:
		output.Printf("  Period:           %d\n", p.Period)
	case trading.StrategyMACross:
		output.Printf("  Averages:         %d / %d\n", p.ShortPeriod, p.LongPeriod)
	}
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:            %s\n", cfg.Logging.Level)
	output.Printf("  File:             %v\n", cfg.Logging.File)
}
