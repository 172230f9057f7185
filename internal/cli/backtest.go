package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hedge-backtester/internal/logging"
	"hedge-backtester/internal/models"
	"hedge-backtester/internal/performance"
	"hedge-backtester/internal/store"
	"hedge-backtester/internal/trading"
)

// addBacktestCommands adds the backtest and compare commands.
func addBacktestCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newCompareCmd(app))
}

// addWindowFlags registers the flags that override the configured run.
func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "feed start date, bars before trade start only warm up (YYYY-MM-DD)")
	cmd.Flags().String("trade-start", "", "first date of reported results (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last date of the run, inclusive (YYYY-MM-DD)")
	cmd.Flags().Float64("cash", 0, "initial cash")
	cmd.Flags().String("account", "", "account kind (futures, cash)")
	cmd.Flags().StringSlice("symbols", nil, "restrict the run to these symbols")
}

// runConfig builds the engine configuration from the loaded config and
// any flag overrides.
func (app *App) runConfig(cmd *cobra.Command, strategyName string) (trading.RunConfig, error) {
	cfg := *app.Config
	flags := cmd.Flags()

	if strategyName != "" {
		cfg.Strategy.Name = strategyName
	}
	overrides := []struct {
		flag string
		dest *string
	}{
		{"from", &cfg.Backtest.FeedStart},
		{"trade-start", &cfg.Backtest.TradeStart},
		{"to", &cfg.Backtest.TradeEnd},
		{"account", &cfg.Backtest.Account},
	}
	for _, o := range overrides {
		if flags.Changed(o.flag) {
			*o.dest, _ = flags.GetString(o.flag)
		}
	}
	if flags.Changed("cash") {
		cfg.Backtest.InitialCash, _ = flags.GetFloat64("cash")
	}

	if err := cfg.Validate(); err != nil {
		return trading.RunConfig{}, err
	}
	run, err := cfg.RunConfig()
	if err != nil {
		return trading.RunConfig{}, err
	}
	symbols, _ := flags.GetStringSlice("symbols")
	for _, s := range symbols {
		run.Symbols = append(run.Symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	return run, nil
}

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a backtest",
		Long: `Replay historical bars through the configured strategy and report the
results.

Run settings come from the config file; flags override them for this run.`,
		Example: `  backtester backtest
  backtester backtest --strategy macross --from 2010-01-01 --trade-start 2011-01-01
  backtester backtest --symbols CL,GC --chart --save
  backtester backtest --trades-csv trades.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			strategyName, _ := cmd.Flags().GetString("strategy")

			cfg, err := app.runConfig(cmd, strategyName)
			if err != nil {
				output.Error("Invalid run settings: %v", err)
				return err
			}

			source, closeSource, err := app.openSource()
			if err != nil {
				output.Error("Failed to open bar source: %v", err)
				return err
			}
			defer closeSource()

			logger := logging.WithOperation(app.Logger, "backtest")
			started := time.Now()
			result, err := trading.NewEngine(source, logger).Run(cmd.Context(), cfg)
			if err != nil {
				output.Error("Backtest failed: %v", err)
				return err
			}
			elapsed := time.Since(started)
			mem := performance.MemoryStats()
			logger.Debug().
				Dur("elapsed", elapsed).
				Str("heap", performance.FormatBytes(mem.Alloc)).
				Uint32("gc_cycles", mem.NumGC).
				Msg("Backtest finished")

			if path, _ := cmd.Flags().GetString("trades-csv"); path != "" {
				if err := store.WriteTradesFile(path, result.Trades, result.Instruments); err != nil {
					output.Error("Failed to write trade log: %v", err)
					return err
				}
				logger.Info().Str("path", path).Int("trades", len(result.Trades)).Msg("Trade log written")
			}

			if save, _ := cmd.Flags().GetBool("save"); save {
				if err := app.saveResult(cmd, result); err != nil {
					output.Error("Failed to save run: %v", err)
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(result)
			}

			displayResult(output, result, app.Config.UI.DateFormat)
			if chart, _ := cmd.Flags().GetBool("chart"); chart {
				output.Println()
				output.Println(trading.GenerateEquityCurveASCII(result, 60, 15))
			}
			if list, _ := cmd.Flags().GetBool("list"); list {
				output.Println()
				displayTrades(output, result.Trades, app.Config.UI.DateFormat)
			}
			output.Dim("Completed in %s", FormatDuration(elapsed))
			return nil
		},
	}

	cmd.Flags().StringP("strategy", "s", "", "strategy to run (breakout, macross)")
	addWindowFlags(cmd)
	cmd.Flags().Bool("save", false, "save the run to the SQLite database")
	cmd.Flags().String("trades-csv", "", "write the trade log to this CSV file")
	cmd.Flags().Bool("chart", false, "draw the equity curve")
	cmd.Flags().BoolP("list", "l", false, "list every trade")

	return cmd
}

func (app *App) saveResult(cmd *cobra.Command, result *trading.BacktestResult) error {
	db, err := store.NewSQLiteStore(app.Config.Data.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := trading.SaveResult(cmd.Context(), db, result)
	if err != nil {
		return err
	}
	app.Logger.Info().Str("run_id", id).Str("db", app.Config.Data.DBPath).Msg("Run saved")
	return nil
}

func newCompareCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare strategies over the same data",
		Long: `Run several strategies over the same window and rank them by Sharpe
ratio.`,
		Example: `  backtester compare
  backtester compare --strategies breakout,macross --from 2015-01-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			names, _ := cmd.Flags().GetStringSlice("strategies")
			if len(names) == 0 {
				names = trading.Strategies()
			}

			source, closeSource, err := app.openSource()
			if err != nil {
				output.Error("Failed to open bar source: %v", err)
				return err
			}
			defer closeSource()

			configs := make([]trading.RunConfig, len(names))
			for i, name := range names {
				if configs[i], err = app.runConfig(cmd, name); err != nil {
					output.Error("Invalid run settings for %s: %v", name, err)
					return err
				}
			}

			workers, _ := cmd.Flags().GetInt("workers")
			engine := trading.NewEngine(source, logging.WithOperation(app.Logger, "compare"))
			runs, err := performance.Map(cmd.Context(), workers, configs, engine.Run)
			if err != nil {
				output.Error("Comparison failed: %v", err)
				return err
			}
			results := make(map[string]*trading.BacktestResult, len(runs))
			for _, r := range runs {
				results[r.Strategy] = r
			}

			comparisons := trading.CompareStrategies(results)
			if output.IsJSON() {
				return output.JSON(comparisons)
			}

			table := NewTable(output, "STRATEGY", "RETURN", "ANNUAL", "MAX DD", "SHARPE", "WIN RATE", "TRADES", "PF")
			for _, c := range comparisons {
				table.AddRow(
					c.Strategy,
					output.FormatPercent(c.TotalReturn),
					output.FormatPercent(c.AnnualizedReturn),
					fmt.Sprintf("%.2f%%", c.MaxDrawdown),
					fmt.Sprintf("%.2f", c.SharpeRatio),
					fmt.Sprintf("%.1f%%", c.WinRate),
					fmt.Sprintf("%d", c.TotalTrades),
					fmt.Sprintf("%.2f", c.ProfitFactor),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringSlice("strategies", nil, "strategies to compare (default: all)")
	cmd.Flags().Int("workers", 0, "concurrent runs (default: number of CPUs)")
	addWindowFlags(cmd)

	return cmd
}

func displayResult(output *Output, r *trading.BacktestResult, dateFormat string) {
	lines := []string{
		fmt.Sprintf("Strategy:       %s (%s account)", r.Strategy, r.Account),
		fmt.Sprintf("Run ID:         %s", r.ID),
		fmt.Sprintf("Feed Start:     %s", FormatDate(r.FeedStart, dateFormat)),
		fmt.Sprintf("Trading:        %s to %s", FormatDate(r.TradeStart, dateFormat), FormatDate(r.TradeEnd, dateFormat)),
		"",
		fmt.Sprintf("Initial Cash:   %s", FormatCurrency(r.InitialCash)),
		fmt.Sprintf("Start Equity:   %s", FormatCurrency(r.StartEquity)),
		fmt.Sprintf("Final Equity:   %s", FormatCurrency(r.FinalEquity)),
		fmt.Sprintf("Net Profit:     %s", output.FormatPnL(r.NetProfit)),
		fmt.Sprintf("Commissions:    %s", FormatCurrency(r.Commissions)),
		"",
		fmt.Sprintf("Total Return:   %s", output.FormatPercent(r.TotalReturn)),
		fmt.Sprintf("Annualized:     %s", output.FormatPercent(r.AnnualizedReturn)),
		fmt.Sprintf("Max Drawdown:   %.2f%%", r.MaxDrawdown),
		fmt.Sprintf("Sharpe Ratio:   %.2f", r.SharpeRatio),
		"",
		fmt.Sprintf("Trades:         %d (%d won, %d lost, %d even)", r.TotalTrades, r.WinningTrades, r.LosingTrades, r.EvenTrades),
		fmt.Sprintf("Win Rate:       %.1f%%", r.WinRate),
		fmt.Sprintf("Avg Win/Loss:   %s / %s", FormatCompact(r.AvgWin), FormatCompact(r.AvgLoss)),
		fmt.Sprintf("Profit Factor:  %.2f", r.ProfitFactor),
	}
	output.Box("Backtest Results", lines)
}

func displayTrades(output *Output, trades []models.TradeRecord, dateFormat string) {
	if len(trades) == 0 {
		output.Dim("No closed trades")
		return
	}

	table := NewTable(output, "SYMBOL", "SIDE", "UNITS", "ENTRY", "PRICE", "EXIT", "PRICE", "DAYS", "COMM", "P&L")
	for _, t := range trades {
		side := output.Green("LONG")
		if !t.IsLong() {
			side = output.Red("SHORT")
		}
		table.AddRow(
			TruncateString(t.Symbol, 12),
			side,
			FormatQuantity(int64(t.Units)),
			FormatDate(t.EntryDate, dateFormat),
			FormatPrice(t.EntryPrice),
			FormatDate(t.ExitDate, dateFormat),
			FormatPrice(t.ExitPrice),
			fmt.Sprintf("%.0f", t.HoldDuration().Hours()/24),
			FormatCurrency(t.Commissions),
			output.FormatPnL(t.NetProfit),
		)
	}
	table.Render()
}
