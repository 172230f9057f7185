package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hedge-backtester/internal/config"
	"hedge-backtester/internal/logging"
	"hedge-backtester/internal/store"
)

// addDataCommands adds bar data management commands.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newImportCmd(app))
	rootCmd.AddCommand(newInstrumentsCmd(app))
}

func newImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import CSV bars into the SQLite database",
		Long: `Read the instrument manifest and every instrument's bar file, validate
the bars and store them in the SQLite database. Existing bars of the same
symbol and date are replaced.`,
		Example: `  backtester import
  backtester import --manifest ./futures.csv --db ./bars.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			logger := logging.WithOperation(app.Logger, "import")

			manifest := app.Config.Data.Manifest
			if cmd.Flags().Changed("manifest") {
				manifest, _ = cmd.Flags().GetString("manifest")
			}
			dataDir, _ := cmd.Flags().GetString("data-dir")
			if dataDir == "" {
				dataDir = app.Config.Data.DataDir
			}
			dbPath := app.Config.Data.DBPath
			if cmd.Flags().Changed("db") {
				dbPath, _ = cmd.Flags().GetString("db")
			}

			source := store.NewCSVSource(manifest, dataDir, logger)
			instruments, err := source.Instruments(ctx)
			if err != nil {
				output.Error("Failed to read manifest: %v", err)
				return err
			}

			db, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				output.Error("Failed to open database: %v", err)
				return err
			}
			defer db.Close()

			if err := db.SaveInstruments(ctx, instruments); err != nil {
				output.Error("Failed to save instruments: %v", err)
				return err
			}

			type imported struct {
				Symbol string `json:"symbol"`
				Bars   int    `json:"bars"`
			}
			summary := make([]imported, 0, len(instruments))
			for _, inst := range instruments {
				bars, err := source.Bars(ctx, inst.Symbol)
				if err != nil {
					output.Error("Failed to read bars for %s: %v", inst.Symbol, err)
					return err
				}
				if err := db.SaveBars(ctx, inst.Symbol, bars); err != nil {
					output.Error("Failed to save bars for %s: %v", inst.Symbol, err)
					return err
				}
				symLogger := logging.WithSymbol(logger, inst.Symbol)
				symLogger.Debug().Int("bars", len(bars)).Msg("Bars imported")
				summary = append(summary, imported{Symbol: inst.Symbol, Bars: len(bars)})
			}

			if output.IsJSON() {
				return output.JSON(summary)
			}
			total := 0
			for _, s := range summary {
				total += s.Bars
			}
			logger.Info().Int("instruments", len(summary)).Int("bars", total).Str("db", dbPath).Msg("Import finished")
			output.Success("✓ Imported %d instruments, %d bars into %s", len(summary), total, dbPath)
			return nil
		},
	}

	cmd.Flags().String("manifest", "", "instrument manifest CSV (default: from config)")
	cmd.Flags().String("data-dir", "", "directory of the bar files (default: the manifest's directory)")
	cmd.Flags().String("db", "", "SQLite database path (default: from config)")

	return cmd
}

func newInstrumentsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "instruments",
		Aliases: []string{"ls"},
		Short:   "List instruments of the configured bar source",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			source, closeSource, err := app.openSource()
			if err != nil {
				output.Error("Failed to open bar source: %v", err)
				return err
			}
			defer closeSource()

			instruments, err := source.Instruments(ctx)
			if err != nil {
				output.Error("Failed to list instruments: %v", err)
				return err
			}

			ranges := make(map[string]store.BarRange)
			if db, ok := source.(*store.SQLiteStore); ok {
				list, err := db.BarRanges(ctx)
				if err != nil {
					output.Error("Failed to read bar ranges: %v", err)
					return err
				}
				for _, r := range list {
					ranges[r.Symbol] = r
				}
			}

			if output.IsJSON() {
				return output.JSON(instruments)
			}
			if len(instruments) == 0 {
				output.Warning("No instruments in %s", sourceName(app.Config.Data))
				return nil
			}

			format := app.Config.UI.DateFormat
			table := NewTable(output, "SYMBOL", "DESCRIPTION", "POINT VALUE", "MARGIN", "SECTOR", "FIRST", "LAST", "BARS")
			for _, inst := range instruments {
				first, last, count := "-", "-", "-"
				if r, ok := ranges[inst.Symbol]; ok {
					first, last, count = FormatDate(r.First, format), FormatDate(r.Last, format), fmt.Sprintf("%d", r.Count)
				}
				table.AddRow(
					inst.Symbol,
					TruncateString(inst.Description, 28),
					FormatPrice(inst.PointValue),
					FormatCurrency(inst.InitialMargin),
					inst.Sector,
					first, last, count,
				)
			}
			table.Render()
			return nil
		},
	}
}

func sourceName(data config.DataConfig) string {
	if data.Source == config.SourceSQLite {
		return data.DBPath
	}
	return data.Manifest
}
