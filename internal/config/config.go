// Package config provides configuration management for the backtester.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"hedge-backtester/internal/broker"
	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/logging"
	"hedge-backtester/internal/store"
	"hedge-backtester/internal/trading"
)

// FileName is the config file name inside the config directory.
const FileName = "config.toml"

// Data source kinds.
const (
	SourceCSV    = "csv"
	SourceSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Backtest BacktestConfig    `mapstructure:"backtest"`
	Data     DataConfig        `mapstructure:"data"`
	Strategy StrategyConfig    `mapstructure:"strategy"`
	Logging  logging.LogConfig `mapstructure:"logging"`
	UI       UIConfig          `mapstructure:"ui"`

	// Dir is the directory the config was loaded from.
	Dir string `mapstructure:"-"`
}

// BacktestConfig holds account and run window settings.
type BacktestConfig struct {
	InitialCash       float64 `mapstructure:"initial_cash"`
	Account           string  `mapstructure:"account"` // futures, cash
	AllowNegativeCash bool    `mapstructure:"allow_negative_cash"`
	CommissionModel   string  `mapstructure:"commission_model"` // none, fixed, per_contract
	Commission        float64 `mapstructure:"commission"`
	LiquidateAtEnd    bool    `mapstructure:"liquidate_at_end"`
	RiskFreeRate      float64 `mapstructure:"risk_free_rate"`
	FeedStart         string  `mapstructure:"feed_start"`
	TradeStart        string  `mapstructure:"trade_start"`
	TradeEnd          string  `mapstructure:"trade_end"`
}

// DataConfig locates the bar data.
type DataConfig struct {
	Source   string `mapstructure:"source"` // csv, sqlite
	Manifest string `mapstructure:"manifest"`
	DataDir  string `mapstructure:"data_dir"`
	DBPath   string `mapstructure:"db_path"`
}

// StrategyConfig selects the decision logic and its parameters.
type StrategyConfig struct {
	Name           string `mapstructure:"name"`
	trading.Params `mapstructure:",squash"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/hedge-backtester"
	}
	return filepath.Join(home, ".config", "hedge-backtester")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config file is replaced by the commented template.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := loadDotEnv(configDir); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{Dir: configDir}
	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Path returns the config file path for configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, FileName)
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backtest.initial_cash", 1000000.0)
	v.SetDefault("backtest.account", trading.AccountFutures)
	v.SetDefault("backtest.allow_negative_cash", false)
	v.SetDefault("backtest.commission_model", "per_contract")
	v.SetDefault("backtest.commission", 2.5)
	v.SetDefault("backtest.liquidate_at_end", true)
	v.SetDefault("backtest.risk_free_rate", 0.0)

	v.SetDefault("data.source", SourceCSV)
	v.SetDefault("data.manifest", "data/manifest.csv")
	v.SetDefault("data.db_path", "backtester.db")

	params := trading.DefaultParams()
	v.SetDefault("strategy.name", trading.StrategyBreakout)
	v.SetDefault("strategy.risk_factor", params.RiskFactor)
	v.SetDefault("strategy.atr_period", params.ATRPeriod)
	v.SetDefault("strategy.stop", params.Stop)
	v.SetDefault("strategy.intraday_stop", params.IntradayStop)
	v.SetDefault("strategy.limit", params.Limit)
	v.SetDefault("strategy.long_only", params.LongOnly)
	v.SetDefault("strategy.short_only", params.ShortOnly)
	v.SetDefault("strategy.compounding", params.Compounding)
	v.SetDefault("strategy.period", params.Period)
	v.SetDefault("strategy.short_period", params.ShortPeriod)
	v.SetDefault("strategy.long_period", params.LongPeriod)

	logs := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logs.Level)
	v.SetDefault("logging.console", logs.Console)
	v.SetDefault("logging.file", logs.File)
	v.SetDefault("logging.file_path", logs.FilePath)
	v.SetDefault("logging.max_size", logs.MaxSize)
	v.SetDefault("logging.max_backups", logs.MaxBackups)
	v.SetDefault("logging.max_age", logs.MaxAge)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}
	return v.Unmarshal(cfg)
}

func loadDotEnv(configDir string) error {
	path := filepath.Join(configDir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKTESTER_CASH"); v != "" {
		if cash, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.InitialCash = cash
		}
	}
	if v := os.Getenv("BACKTESTER_ACCOUNT"); v != "" {
		cfg.Backtest.Account = v
	}
	if v := os.Getenv("BACKTESTER_DATA_SOURCE"); v != "" {
		cfg.Data.Source = v
	}
	if v := os.Getenv("BACKTESTER_DB_PATH"); v != "" {
		cfg.Data.DBPath = v
	}
	if v := os.Getenv("BACKTESTER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// resolvePaths makes data paths relative to the config directory.
func (c *Config) resolvePaths() {
	for _, p := range []*string{&c.Data.Manifest, &c.Data.DataDir, &c.Data.DBPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Dir, *p)
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	b := c.Backtest
	if b.InitialCash <= 0 {
		return apperrors.NewValidationError("backtest.initial_cash", b.InitialCash, "must be positive")
	}
	if b.Account != trading.AccountFutures && b.Account != trading.AccountCash {
		return apperrors.NewValidationError("backtest.account", b.Account, "must be 'futures' or 'cash'")
	}
	switch b.CommissionModel {
	case "none", "fixed", "per_contract":
	default:
		return apperrors.NewValidationError("backtest.commission_model", b.CommissionModel, "must be 'none', 'fixed' or 'per_contract'")
	}
	if b.Commission < 0 {
		return apperrors.NewValidationError("backtest.commission", b.Commission, "must not be negative")
	}
	run, err := c.RunConfig()
	if err != nil {
		return err
	}
	if err := run.Validate(); err != nil {
		return err
	}

	switch c.Data.Source {
	case SourceCSV:
		if c.Data.Manifest == "" {
			return apperrors.NewValidationError("data.manifest", c.Data.Manifest, "is required for the csv source")
		}
	case SourceSQLite:
		if c.Data.DBPath == "" {
			return apperrors.NewValidationError("data.db_path", c.Data.DBPath, "is required for the sqlite source")
		}
	default:
		return apperrors.NewValidationError("data.source", c.Data.Source, "must be 'csv' or 'sqlite'")
	}

	return c.Strategy.Params.Validate(c.Strategy.Name)
}

// Window parses the configured run dates. Empty dates are zero.
func (c *Config) Window() (feedStart, tradeStart, tradeEnd time.Time, err error) {
	dates := []struct {
		field string
		value string
		out   *time.Time
	}{
		{"backtest.feed_start", c.Backtest.FeedStart, &feedStart},
		{"backtest.trade_start", c.Backtest.TradeStart, &tradeStart},
		{"backtest.trade_end", c.Backtest.TradeEnd, &tradeEnd},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		t, perr := store.ParseDate(d.value)
		if perr != nil {
			return time.Time{}, time.Time{}, time.Time{}, apperrors.NewValidationError(d.field, d.value, "must be a YYYY-MM-DD date")
		}
		*d.out = t
	}
	return feedStart, tradeStart, tradeEnd, nil
}

// RunConfig builds the engine configuration.
func (c *Config) RunConfig() (trading.RunConfig, error) {
	feedStart, tradeStart, tradeEnd, err := c.Window()
	if err != nil {
		return trading.RunConfig{}, err
	}
	return trading.RunConfig{
		Strategy:          c.Strategy.Name,
		Params:            c.Strategy.Params,
		FeedStart:         feedStart,
		TradeStart:        tradeStart,
		TradeEnd:          tradeEnd,
		InitialCash:       c.Backtest.InitialCash,
		Account:           c.Backtest.Account,
		Commission:        broker.NewCommission(c.Backtest.CommissionModel, c.Backtest.Commission),
		AllowNegativeCash: c.Backtest.AllowNegativeCash,
		RiskFreeRate:      c.Backtest.RiskFreeRate,
		KeepOpen:          !c.Backtest.LiquidateAtEnd,
	}, nil
}
