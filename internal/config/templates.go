package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Hedge Backtester Configuration

[backtest]
# Starting cash of the account
initial_cash = 1000000.0
# Account kind: "futures" (daily mark-to-market, margin) or "cash"
account = "futures"
# Allow fills that take cash below zero (cash accounts only)
allow_negative_cash = false
# Commission model: "none", "fixed" (per order) or "per_contract"
commission_model = "per_contract"
commission = 2.5
# Exit open positions on the last close of the run
liquidate_at_end = true
# Annual risk-free rate used by the Sharpe ratio
risk_free_rate = 0.0
# Run window (YYYY-MM-DD). Bars before trade_start only warm up
# indicators and positions; results are measured from trade_start.
# feed_start = "2010-01-01"
# trade_start = "2011-01-01"
# trade_end = "2020-12-31"

[data]
# Bar source: "csv" (manifest plus one file per instrument) or "sqlite"
source = "csv"
# Relative paths are resolved against this directory
manifest = "data/manifest.csv"
# Directory of the bar files; defaults to the manifest's directory
# data_dir = "data"
db_path = "backtester.db"

[strategy]
# Decision logic: "breakout" or "macross"
name = "breakout"
# Fraction of equity risked per ATR of adverse move
risk_factor = 0.002
atr_period = 100
# Trailing stop and profit limit in ATR multiples; 0 disables
stop = 3.0
limit = 0.0
# Trail the stop with a resting stop order instead of checking closes
intraday_stop = true
# Size from current equity instead of the starting cash
compounding = true
long_only = false
short_only = false
# Breakout lookback; the trend filter uses twice this
period = 50
# MACross averages
short_period = 20
long_period = 200

[logging]
level = "info"
console = true
file = false
max_size = 50
max_backups = 5
max_age = 30

[ui]
# Enable colored output
color_enabled = true
date_format = "2006-01-02"
`

// Template returns the commented default configuration.
func Template() string {
	return configTemplate
}

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, FileName)
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
