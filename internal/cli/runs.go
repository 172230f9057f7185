package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hedge-backtester/internal/models"
	"hedge-backtester/internal/store"
)

// addRunCommands adds commands over saved runs.
func addRunCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
}

// withRunStore opens the run database for the duration of fn.
func (app *App) withRunStore(fn func(db *store.SQLiteStore) error) error {
	db, err := store.NewSQLiteStore(app.Config.Data.DBPath)
	if err != nil {
		return fmt.Errorf("opening run database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved backtest runs",
		Long:  "List runs saved with 'backtester backtest --save', newest first.",
		Example: `  backtester runs
  backtester runs --strategy breakout --since 2026-01-01 --limit 5
  backtester runs delete 3f2a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			filter := store.RunFilter{}
			filter.Strategy, _ = cmd.Flags().GetString("strategy")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if since, _ := cmd.Flags().GetString("since"); since != "" {
				t, err := store.ParseDate(since)
				if err != nil {
					output.Error("Invalid --since date %q", since)
					return err
				}
				filter.Since = t
			}

			return app.withRunStore(func(db *store.SQLiteStore) error {
				runs, err := db.Runs(cmd.Context(), filter)
				if err != nil {
					output.Error("Failed to list runs: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(runs)
				}
				if len(runs) == 0 {
					output.Dim("No saved runs")
					return nil
				}
				displayRuns(output, runs, app.Config.UI.DateFormat)
				return nil
			})
		},
	}

	cmd.Flags().String("strategy", "", "only runs of this strategy")
	cmd.Flags().String("since", "", "only runs created on or after this date")
	cmd.Flags().Int("limit", 20, "maximum number of runs")

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a saved run and its trades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withRunStore(func(db *store.SQLiteStore) error {
				run, err := db.Run(cmd.Context(), args[0])
				if err != nil {
					output.Error("Run not found: %v", err)
					return err
				}
				if err := db.DeleteRun(cmd.Context(), run.ID); err != nil {
					output.Error("Failed to delete run: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]string{"deleted": run.ID})
				}
				output.Success("✓ Deleted run %s", run.ID)
				return nil
			})
		},
	})

	return cmd
}

func displayRuns(output *Output, runs []models.RunRecord, dateFormat string) {
	table := NewTable(output, "ID", "CREATED", "STRATEGY", "ACCOUNT", "TRADING", "RETURN", "MAX DD", "SHARPE", "TRADES")
	for _, r := range runs {
		table.AddRow(
			TruncateString(r.ID, 8),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Strategy,
			r.Account,
			FormatDate(r.TradeStart, dateFormat)+" - "+FormatDate(r.TradeEnd, dateFormat),
			output.FormatPercent(r.TotalReturn),
			fmt.Sprintf("%.2f%%", r.MaxDrawdown),
			fmt.Sprintf("%.2f", r.SharpeRatio),
			fmt.Sprintf("%d", r.TradeCount),
		)
	}
	table.Render()
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades <run-id>",
		Short: "Show the trade log of a saved run",
		Long:  "Show the closed trades of a saved run. The run id may be abbreviated to a unique prefix.",
		Example: `  backtester trades 3f2a
  backtester trades 3f2a --csv trades.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withRunStore(func(db *store.SQLiteStore) error {
				ctx := cmd.Context()
				run, err := db.Run(ctx, args[0])
				if err != nil {
					output.Error("Run not found: %v", err)
					return err
				}
				trades, err := db.Trades(ctx, run.ID)
				if err != nil {
					output.Error("Failed to load trades: %v", err)
					return err
				}

				if path, _ := cmd.Flags().GetString("csv"); path != "" {
					var descriptions *models.InstrumentDB
					if instruments, err := db.Instruments(ctx); err == nil {
						descriptions, _ = models.NewInstrumentDB(instruments...)
					}
					if err := store.WriteTradesFile(path, trades, descriptions); err != nil {
						output.Error("Failed to write trade log: %v", err)
						return err
					}
					if !output.IsJSON() {
						output.Success("✓ Wrote %d trades to %s", len(trades), path)
					}
				}

				if output.IsJSON() {
					return output.JSON(trades)
				}
				output.Bold("Run %s  %s on %s", TruncateString(run.ID, 8), run.Strategy, run.Account)
				displayTrades(output, trades, app.Config.UI.DateFormat)
				return nil
			})
		},
	}

	cmd.Flags().String("csv", "", "also write the trade log to this CSV file")

	return cmd
}
