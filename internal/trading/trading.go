// Package trading runs backtests: it wires feeds, a broker, a strategy and
// analyzers together and drives them over historical bars.
package trading

import (
	"context"
	"time"

	"hedge-backtester/internal/broker"
	"hedge-backtester/internal/feed"
	"hedge-backtester/internal/models"
	"hedge-backtester/internal/strategy"
)

// Account kinds.
const (
	AccountFutures = "futures"
	AccountCash    = "cash"
)

// BacktestEngine provides backtesting functionality.
type BacktestEngine interface {
	Run(ctx context.Context, config RunConfig) (*BacktestResult, error)
}

// Decision is the trading logic of a run. Its indicators are attached to
// every feed before the run starts.
type Decision interface {
	strategy.Handler
	Indicators() []feed.Indicator
}

// RunConfig represents backtesting configuration.
type RunConfig struct {
	Strategy string
	Params   Params
	// Symbols restricts the run to these instruments; empty means all.
	Symbols []string

	// FeedStart is where bars start flowing (indicator warm-up and
	// pre-trade positions). TradeStart is where reported results start.
	// TradeEnd is inclusive. Zero values mean the data's bounds.
	FeedStart  time.Time
	TradeStart time.Time
	TradeEnd   time.Time

	InitialCash       float64
	Account           string
	Commission        broker.Commission
	AllowNegativeCash bool
	RiskFreeRate      float64
	// KeepOpen leaves positions open at the end instead of exiting them
	// on the last close. Open trades are then missing from the trade log.
	KeepOpen bool
}

// Params tunes the risk-sized decision logic.
type Params struct {
	RiskFactor   float64 `mapstructure:"risk_factor"`
	ATRPeriod    int     `mapstructure:"atr_period"`
	Stop         float64 `mapstructure:"stop"`
	IntradayStop bool    `mapstructure:"intraday_stop"`
	Limit        float64 `mapstructure:"limit"`
	LongOnly     bool    `mapstructure:"long_only"`
	ShortOnly    bool    `mapstructure:"short_only"`
	Compounding  bool    `mapstructure:"compounding"`

	// Breakout lookback; the slow filter uses twice this.
	Period int `mapstructure:"period"`
	// MACross averages.
	ShortPeriod int `mapstructure:"short_period"`
	LongPeriod  int `mapstructure:"long_period"`
}

// DefaultParams returns the stock parameters. Stop and Limit are in ATR
// multiples; zero disables them.
func DefaultParams() Params {
	return Params{
		RiskFactor:   0.002,
		ATRPeriod:    100,
		Stop:         3.0,
		IntradayStop: true,
		Compounding:  true,
		Period:       50,
		ShortPeriod:  20,
		LongPeriod:   200,
	}
}

// BacktestResult represents backtesting results. Returns, win rate and
// drawdown are percentages.
type BacktestResult struct {
	ID         string
	Strategy   string
	Account    string
	FeedStart  time.Time
	TradeStart time.Time
	TradeEnd   time.Time

	InitialCash float64
	StartEquity float64
	FinalCash   float64
	FinalEquity float64
	NetProfit   float64
	Commissions float64

	TotalReturn      float64
	AnnualizedReturn float64
	WinRate          float64
	MaxDrawdown      float64
	SharpeRatio      float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	EvenTrades       int
	AvgWin           float64
	AvgLoss          float64
	ProfitFactor     float64

	EquityCurve []models.EquityPoint
	Trades      []models.TradeRecord
	Instruments *models.InstrumentDB `json:"-"`
}

// RunRecord summarizes the result for persistence.
func (r *BacktestResult) RunRecord() models.RunRecord {
	return models.RunRecord{
		ID:          r.ID,
		Strategy:    r.Strategy,
		Account:     r.Account,
		FeedStart:   r.FeedStart,
		TradeStart:  r.TradeStart,
		TradeEnd:    r.TradeEnd,
		InitialCash: r.InitialCash,
		FinalEquity: r.FinalEquity,
		TotalReturn: r.TotalReturn,
		MaxDrawdown: r.MaxDrawdown,
		SharpeRatio: r.SharpeRatio,
		TradeCount:  len(r.Trades),
	}
}

// StrategyComparison represents a comparison of strategy performance.
type StrategyComparison struct {
	Strategy         string
	TotalReturn      float64
	AnnualizedReturn float64
	WinRate          float64
	MaxDrawdown      float64
	SharpeRatio      float64
	TotalTrades      int
	ProfitFactor     float64
}
