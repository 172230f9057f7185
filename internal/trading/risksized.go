package trading

import (
	"math"

	"github.com/rs/zerolog"

	"hedge-backtester/internal/analysis/indicators"
	"hedge-backtester/internal/broker"
	"hedge-backtester/internal/feed"
	"hedge-backtester/internal/models"
	"hedge-backtester/internal/strategy"
)

// Series names attached by the decision logic.
const (
	SeriesATR     = "atr"
	SeriesShortMA = "short_ma"
	SeriesLongMA  = "long_ma"
	SeriesMax     = "max"
	SeriesMin     = "min"
)

// symbolBarFunc is the per-symbol signal of a concrete decision.
type symbolBarFunc func(symbol string, bar models.Bar) error

// RiskSized sizes every entry so that one ATR move risks a fixed fraction of
// equity, and manages ATR trailing stops and profit limits. Concrete
// decisions supply the entry signal.
type RiskSized struct {
	strategy.BaseHandler

	strat        *strategy.Strategy
	params       Params
	startingCash float64
	onSymBar     symbolBarFunc
	logger       zerolog.Logger

	started   map[string]bool
	longs     map[string]*strategy.Position
	shorts    map[string]*strategy.Position
	tradeHigh map[string]float64
	tradeLow  map[string]float64
}

func newRiskSized(s *strategy.Strategy, p Params, onSymBar symbolBarFunc) *RiskSized {
	return &RiskSized{
		strat:        s,
		params:       p,
		startingCash: s.Broker().Equity(),
		onSymBar:     onSymBar,
		logger:       s.Logger(),
		started:      make(map[string]bool),
		longs:        make(map[string]*strategy.Position),
		shorts:       make(map[string]*strategy.Position),
		tradeHigh:    make(map[string]float64),
		tradeLow:     make(map[string]float64),
	}
}

// Indicators returns the ATR used for sizing and stops.
func (r *RiskSized) Indicators() []feed.Indicator {
	return []feed.Indicator{indicators.NewATR(SeriesATR, r.params.ATRPeriod)}
}

// Position returns the open long and short positions of symbol, if any.
func (r *RiskSized) Position(symbol string) (long, short *strategy.Position) {
	return r.longs[symbol], r.shorts[symbol]
}

func (r *RiskSized) hasPosition(symbol string) bool {
	_, long := r.longs[symbol]
	_, short := r.shorts[symbol]
	return long || short
}

// OnBars runs the signal of every symbol once its indicators have warmed
// up, then maintains the stops and limits of its positions.
func (r *RiskSized) OnBars(bars models.BarSet) error {
	for _, sym := range bars.Symbols() {
		bar, _ := bars.Bar(sym)
		if !r.started[sym] {
			if bar.HasNaN() {
				continue
			}
			r.started[sym] = true
		}
		if err := r.onSymBar(sym, bar); err != nil {
			return err
		}
		if p, ok := r.longs[sym]; ok {
			if err := r.handleStopLimit(p, bar); err != nil {
				return err
			}
		}
		if p, ok := r.shorts[sym]; ok {
			if err := r.handleStopLimit(p, bar); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RiskSized) OnEnterCanceled(p *strategy.Position) error {
	r.forget(p)
	return nil
}

func (r *RiskSized) OnExitOk(p *strategy.Position) error {
	r.forget(p)
	return nil
}

func (r *RiskSized) forget(p *strategy.Position) {
	positions := r.longs
	if p.IsShort() {
		positions = r.shorts
	}
	if positions[p.Symbol()] == p {
		delete(positions, p.Symbol())
		return
	}
	r.logger.Error().Str("position", p.String()).Msg("Closed position was not tracked")
}

// positionSize returns the contract count and the implied risk of one
// entry. Sizing falls back to a single contract without a usable ATR.
func (r *RiskSized) positionSize(symbol string, atr float64) (int, float64) {
	pv := r.strat.Instruments().PointValue(symbol)
	if atr <= 0 || math.IsNaN(atr) || pv <= 0 {
		return 1, 0
	}
	capital := r.startingCash
	if r.params.Compounding {
		capital = r.strat.Broker().Equity()
	}
	target := capital * r.params.RiskFactor / (pv * atr)
	size := 1
	if target >= 1 {
		size = int(math.Round(target))
	}
	return size, float64(size) * atr * pv
}

func (r *RiskSized) enterLong(symbol string, bar models.Bar) error {
	if r.params.ShortOnly {
		return nil
	}
	if _, ok := r.longs[symbol]; ok {
		r.logger.Warn().Str("symbol", symbol).Msg("Already long, skipping entry")
		return nil
	}
	atr := seriesValue(bar, SeriesATR)
	size, risk := r.positionSize(symbol, atr)
	p, err := r.strat.EnterLong(symbol, size, strategy.GTC(true))
	if err != nil {
		return err
	}
	p.SetImpliedRisk(risk)
	r.longs[symbol] = p
	r.tradeHigh[symbol] = bar.Close()
	if r.params.Stop > 0 && r.params.IntradayStop {
		return r.strat.ExitPosition(p, strategy.Stop(bar.Close()-r.params.Stop*atr), strategy.GTC(true))
	}
	return nil
}

func (r *RiskSized) enterShort(symbol string, bar models.Bar) error {
	if r.params.LongOnly {
		return nil
	}
	if _, ok := r.shorts[symbol]; ok {
		r.logger.Warn().Str("symbol", symbol).Msg("Already short, skipping entry")
		return nil
	}
	atr := seriesValue(bar, SeriesATR)
	size, risk := r.positionSize(symbol, atr)
	p, err := r.strat.EnterShort(symbol, size, strategy.GTC(true))
	if err != nil {
		return err
	}
	p.SetImpliedRisk(risk)
	r.shorts[symbol] = p
	r.tradeLow[symbol] = bar.Close()
	if r.params.Stop > 0 && r.params.IntradayStop {
		return r.strat.ExitPosition(p, strategy.Stop(bar.Close()+r.params.Stop*atr), strategy.GTC(true))
	}
	return nil
}

// exitMarket closes p at the next open.
func (r *RiskSized) exitMarket(p *strategy.Position) error {
	if exit := p.ExitOrder(); exit != nil && exit.Type() == broker.Market && exit.IsAccepted() {
		return nil
	}
	return r.strat.ExitPosition(p, strategy.GTC(true))
}

// handleStopLimit trails the stop behind the best close since entry and
// exits at market when a close-based stop or the profit limit is hit.
func (r *RiskSized) handleStopLimit(p *strategy.Position, bar models.Bar) error {
	if exit := p.ExitOrder(); exit != nil && exit.Type() == broker.Market {
		return nil
	}
	if !p.EntryFilled() {
		return nil
	}

	sym := p.Symbol()
	atr := seriesValue(bar, SeriesATR)
	last := bar.Close()
	entry := p.EntryOrder().Execution().Price

	if p.IsLong() {
		if last > r.tradeHigh[sym] {
			r.tradeHigh[sym] = last
		}
		stop := r.tradeHigh[sym] - r.params.Stop*atr
		if r.params.Stop > 0 {
			if r.params.IntradayStop {
				if err := r.strat.ExitPosition(p, strategy.Stop(stop), strategy.GTC(true)); err != nil {
					return err
				}
			} else if last < stop {
				return r.exitMarket(p)
			}
		}
		if r.params.Limit > 0 && last > entry+r.params.Limit*atr {
			return r.exitMarket(p)
		}
		return nil
	}

	if last < r.tradeLow[sym] {
		r.tradeLow[sym] = last
	}
	stop := r.tradeLow[sym] + r.params.Stop*atr
	if r.params.Stop > 0 {
		if r.params.IntradayStop {
			if err := r.strat.ExitPosition(p, strategy.Stop(stop), strategy.GTC(true)); err != nil {
				return err
			}
		} else if last > stop {
			return r.exitMarket(p)
		}
	}
	if r.params.Limit > 0 && last < entry-r.params.Limit*atr {
		return r.exitMarket(p)
	}
	return nil
}

func seriesValue(bar models.Bar, name string) float64 {
	v, ok := bar.Value(name)
	if !ok {
		return math.NaN()
	}
	return v
}
