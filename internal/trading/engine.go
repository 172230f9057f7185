package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hedge-backtester/internal/analysis"
	"hedge-backtester/internal/broker"
	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/feed"
	"hedge-backtester/internal/logging"
	"hedge-backtester/internal/models"
	"hedge-backtester/internal/store"
	"hedge-backtester/internal/strategy"
)

// Engine implements the BacktestEngine interface over a bar source.
type Engine struct {
	source store.BarSource
	logger zerolog.Logger
}

// NewEngine creates a new backtest engine.
func NewEngine(source store.BarSource, logger zerolog.Logger) *Engine {
	return &Engine{source: source, logger: logger}
}

// run holds the wiring of one backtest.
type run struct {
	cfg         RunConfig
	instruments *models.InstrumentDB
	feed        *feed.MultiFeed
	broker      broker.Broker
	futures     *broker.FuturesBroker // nil for cash accounts
	strategy    *strategy.Strategy
	trades      *analysis.Trades
	returns     *analysis.Returns
	logger      zerolog.Logger

	trading     bool
	first       time.Time
	tradeStart  time.Time
	last        time.Time
	startEquity float64
}

// Run executes a backtest with the given configuration.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (*BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	id := uuid.NewString()
	logger := logging.WithRunID(e.logger, id)

	r, err := e.setup(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("strategy", cfg.Strategy).
		Str("account", cfg.Account).
		Int("symbols", r.instruments.Len()).
		Msg("Backtest started")

	if !cfg.FeedStart.IsZero() {
		r.feed.SetCursor(cfg.FeedStart)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, ok := r.feed.NextBarsDate()
		if !ok || (!cfg.TradeEnd.IsZero() && next.After(cfg.TradeEnd)) {
			break
		}
		if r.first.IsZero() {
			r.first = next
		}
		if !r.trading && !next.Before(cfg.TradeStart) {
			r.startTrading(next)
		}
		if _, err := r.feed.Step(); err != nil {
			return nil, err
		}
		r.last = next
	}
	if !r.trading {
		return nil, apperrors.NewDataError("bars", "", "no bars between trade start and trade end", apperrors.ErrDataNotFound)
	}

	if !cfg.KeepOpen {
		before := r.broker.Equity()
		if err := r.strategy.Liquidate(); err != nil {
			return nil, apperrors.Wrap(err, "liquidating positions")
		}
		if r.broker.Equity() != before {
			r.returns.Record(r.last)
		}
	}

	result := r.result(id)
	logger.Info().
		Float64("final_equity", result.FinalEquity).
		Int("trades", result.TotalTrades).
		Float64("total_return", result.TotalReturn).
		Msg("Backtest finished")
	return result, nil
}

func (e *Engine) setup(ctx context.Context, cfg RunConfig, logger zerolog.Logger) (*run, error) {
	all, err := e.source.Instruments(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "loading instruments")
	}
	selected, err := selectInstruments(all, cfg.Symbols)
	if err != nil {
		return nil, err
	}

	mf := feed.NewMultiFeed(logger)
	var loaded []models.Instrument
	for _, inst := range selected {
		bars, err := e.source.Bars(ctx, inst.Symbol)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			symLogger := logging.WithSymbol(logger, inst.Symbol)
			symLogger.Warn().Msg("No bars, skipping instrument")
			continue
		}
		f, err := feed.New(inst, bars)
		if err != nil {
			return nil, err
		}
		if err := mf.Register(f); err != nil {
			return nil, err
		}
		loaded = append(loaded, inst)
	}
	if len(loaded) == 0 {
		return nil, apperrors.NewDataError("bars", "", "no instrument has bars", apperrors.ErrDataNotFound)
	}
	db, err := models.NewInstrumentDB(loaded...)
	if err != nil {
		return nil, err
	}

	opts := []broker.Option{
		broker.WithCommission(cfg.Commission),
		broker.WithNegativeCash(cfg.AllowNegativeCash),
		broker.WithLogger(logger),
	}
	var (
		b       broker.Broker
		futures *broker.FuturesBroker
	)
	if cfg.Account == AccountCash {
		b = broker.NewBacktestBroker(cfg.InitialCash, mf, opts...)
	} else {
		futures = broker.NewFuturesBroker(cfg.InitialCash, mf, db, opts...)
		b = futures
	}

	strat := strategy.New(mf, b, db, logger)
	decision, err := NewDecision(cfg.Strategy, strat, cfg.Params)
	if err != nil {
		return nil, err
	}
	strat.SetHandler(decision)
	for _, sym := range mf.Symbols() {
		f, _ := mf.Feed(sym)
		for _, ind := range decision.Indicators() {
			if err := f.Insert(ind); err != nil {
				return nil, err
			}
		}
	}

	trades := analysis.NewTrades(db, logger)
	b.SubscribeOrderUpdates(trades.OnOrderUpdate)
	returns := analysis.NewReturns(b)
	strat.SubscribeBarsProcessed(returns.OnBars)

	return &run{
		cfg:         cfg,
		instruments: db,
		feed:        mf,
		broker:      b,
		futures:     futures,
		strategy:    strat,
		trades:      trades,
		returns:     returns,
		logger:      logger,
	}, nil
}

// startTrading re-bases results at the first trading bar. Positions opened
// during warm-up are carried at their last mark. A futures account restarts
// from the initial cash less the commissions already paid on those
// positions, so trade profits add up to the equity change.
func (r *run) startTrading(ts time.Time) {
	r.trading = true
	r.tradeStart = ts

	if r.futures != nil {
		entry := r.trades.Reset(r.broker.MarkPrices())
		r.futures.Rebase(r.cfg.InitialCash - entry)
	} else {
		r.trades.Reset(r.broker.MarkPrices())
	}
	r.returns.Rebase()
	r.startEquity = r.broker.Equity()

	r.logger.Info().
		Time("trade_start", ts).
		Int("open_positions", len(r.strategy.ActivePositions())).
		Float64("equity", r.startEquity).
		Msg("Trading started")
}

func (r *run) result(id string) *BacktestResult {
	result := &BacktestResult{
		ID:          id,
		Strategy:    r.cfg.Strategy,
		Account:     r.cfg.Account,
		FeedStart:   r.first,
		TradeStart:  r.tradeStart,
		TradeEnd:    r.last,
		InitialCash: r.cfg.InitialCash,
		StartEquity: r.startEquity,
		FinalCash:   r.broker.Cash(),
		FinalEquity: r.broker.Equity(),
		NetProfit:   r.trades.NetProfit(),
		Commissions: r.trades.Commissions(),
		MaxDrawdown: r.returns.MaxDrawdown() * 100,
		SharpeRatio: r.returns.SharpeRatio(r.cfg.RiskFreeRate, analysis.TradingDaysPerYear),
		EquityCurve: r.returns.EquityCurve(),
		Trades:      r.trades.Records(),
		Instruments: r.instruments,
	}
	calculateMetrics(result)
	return result
}

// Validate checks the run configuration. Strategy parameters are checked
// when the decision is created.
func (c RunConfig) Validate() error {
	if _, ok := decisions[c.Strategy]; !ok {
		return apperrors.NewValidationError("strategy", c.Strategy, "unknown strategy")
	}
	if c.Account != AccountFutures && c.Account != AccountCash {
		return apperrors.NewValidationError("account", c.Account, "must be futures or cash")
	}
	if c.InitialCash <= 0 {
		return apperrors.NewValidationError("initial_cash", c.InitialCash, "must be positive")
	}
	if c.Commission == nil {
		return apperrors.NewValidationError("commission", nil, "is required")
	}
	if !c.FeedStart.IsZero() && !c.TradeStart.IsZero() && c.TradeStart.Before(c.FeedStart) {
		return apperrors.NewValidationError("trade_start", c.TradeStart, "must not precede feed start")
	}
	if !c.TradeEnd.IsZero() {
		start := c.TradeStart
		if start.IsZero() {
			start = c.FeedStart
		}
		if c.TradeEnd.Before(start) {
			return apperrors.NewValidationError("trade_end", c.TradeEnd, "must not precede trade start")
		}
	}
	return nil
}

func selectInstruments(all []models.Instrument, symbols []string) ([]models.Instrument, error) {
	if len(symbols) == 0 {
		return all, nil
	}
	bySymbol := make(map[string]models.Instrument, len(all))
	for _, inst := range all {
		bySymbol[inst.Symbol] = inst
	}
	out := make([]models.Instrument, 0, len(symbols))
	for _, sym := range symbols {
		inst, ok := bySymbol[sym]
		if !ok {
			return nil, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "%s", sym)
		}
		out = append(out, inst)
	}
	return out, nil
}
