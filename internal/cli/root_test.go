package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[backtest]
initial_cash = 10000.0
account = "futures"
commission_model = "per_contract"
commission = 1.0

[data]
source = "csv"
manifest = "data/manifest.csv"
db_path = "runs.db"

[strategy]
name = "breakout"
risk_factor = 0.004
atr_period = 2
period = 2

[logging]
level = "error"
console = false

[ui]
color_enabled = false
`

// setupWorkspace writes a config directory with one instrument whose
// closes climb half a point a day from 100.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"BACKTESTER_CASH", "BACKTESTER_ACCOUNT", "BACKTESTER_DATA_SOURCE", "BACKTESTER_DB_PATH", "BACKTESTER_LOG_LEVEL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(testConfig), 0o644))

	manifest := "symbol,description,pointValue,currency,exchange,initialMargin,maintMargin,sector,datafile\n" +
		"CL,Crude Oil,10,USD,NYMEX,100,50,Energy,CL.csv\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "manifest.csv"), []byte(manifest), 0o644))

	var bars strings.Builder
	bars.WriteString("Date,Open,High,Low,Close,Volume,Open Interest\n")
	for i := 0; i < 10; i++ {
		c := 100 + 0.5*float64(i)
		fmt.Fprintf(&bars, "2024-01-%02d,%.1f,%.1f,%.1f,%.1f,1000,500\n", i+1, c, c+1, c-1, c)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "CL.csv"), []byte(bars.String()), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(zerolog.Nop())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestVersionJSON(t *testing.T) {
	dir := setupWorkspace(t)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(execute(t, "version", "--json", "--config", dir)), &got))
	assert.Equal(t, Version, got["version"])
}

func TestConfigPathAndValidate(t *testing.T) {
	dir := setupWorkspace(t)
	assert.Equal(t, filepath.Join(dir, "config.toml")+"\n", execute(t, "config", "path", "--config", dir))
	assert.Contains(t, execute(t, "config", "validate", "--config", dir), "Configuration is valid")
	assert.Contains(t, execute(t, "config", "show", "--config", dir), "breakout")
}

func TestBacktestSaveAndInspect(t *testing.T) {
	dir := setupWorkspace(t)
	tradesCSV := filepath.Join(dir, "trades.csv")

	var result struct {
		ID          string
		NetProfit   float64
		FinalEquity float64
		TotalTrades int
	}
	out := execute(t, "backtest", "--json", "--save", "--trades-csv", tradesCSV, "--config", dir)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.InDelta(t, 46, result.NetProfit, 1e-9)
	assert.InDelta(t, 10046, result.FinalEquity, 1e-9)
	assert.Equal(t, 1, result.TotalTrades)

	log, err := os.ReadFile(tradesCSV)
	require.NoError(t, err)
	assert.Contains(t, string(log), "Crude Oil")

	var runs []struct {
		ID         string `json:"id"`
		Strategy   string `json:"strategy"`
		TradeCount int    `json:"trade_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(execute(t, "runs", "--json", "--config", dir)), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, result.ID, runs[0].ID)
	assert.Equal(t, "breakout", runs[0].Strategy)

	var trades []struct {
		Symbol    string  `json:"symbol"`
		Units     int     `json:"units"`
		NetProfit float64 `json:"net_profit"`
	}
	require.NoError(t, json.Unmarshal([]byte(execute(t, "trades", result.ID[:8], "--json", "--config", dir)), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "CL", trades[0].Symbol)
	assert.Equal(t, 2, trades[0].Units)
	assert.InDelta(t, 46, trades[0].NetProfit, 1e-9)

	assert.Contains(t, execute(t, "runs", "delete", result.ID, "--config", dir), "Deleted run")
	require.NoError(t, json.Unmarshal([]byte(execute(t, "runs", "--json", "--config", dir)), &runs))
	assert.Empty(t, runs)
}

func TestBacktestTextOutput(t *testing.T) {
	dir := setupWorkspace(t)
	out := execute(t, "backtest", "--chart", "--list", "--to", "2024-01-08", "--config", dir)
	assert.Contains(t, out, "Backtest Results")
	assert.Contains(t, out, "+26.00")
	assert.Contains(t, out, "Equity Curve")
	assert.Contains(t, out, "LONG")
}

func TestBacktestRejectsBadFlags(t *testing.T) {
	dir := setupWorkspace(t)
	cmd := NewRootCmd(zerolog.Nop())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"backtest", "--account", "margin", "--config", dir})
	assert.Error(t, cmd.Execute())
}

func TestCompareRanksStrategies(t *testing.T) {
	dir := setupWorkspace(t)
	var rows []struct {
		Strategy string
	}
	require.NoError(t, json.Unmarshal([]byte(execute(t, "compare", "--json", "--config", dir)), &rows))
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{"breakout", "macross"}, []string{rows[0].Strategy, rows[1].Strategy})
}

func TestImportAndListInstruments(t *testing.T) {
	dir := setupWorkspace(t)
	var imported []struct {
		Symbol string `json:"symbol"`
		Bars   int    `json:"bars"`
	}
	require.NoError(t, json.Unmarshal([]byte(execute(t, "import", "--json", "--config", dir)), &imported))
	require.Len(t, imported, 1)
	assert.Equal(t, 10, imported[0].Bars)

	t.Setenv("BACKTESTER_DATA_SOURCE", "sqlite")
	out := execute(t, "instruments", "--config", dir)
	assert.Contains(t, out, "Crude Oil")
	assert.Contains(t, out, "2024-01-10")

	// The imported bars reproduce the CSV run.
	var result struct{ NetProfit float64 }
	require.NoError(t, json.Unmarshal([]byte(execute(t, "backtest", "--json", "--config", dir)), &result))
	assert.InDelta(t, 46, result.NetProfit, 1e-9)
}
