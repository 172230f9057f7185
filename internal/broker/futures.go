package broker

import (
	"time"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

// FuturesBroker is a margin account. Cash holds realized and marked-to-market
// P&L; contract notional never moves cash.
type FuturesBroker struct {
	*BacktestBroker
	instruments *models.InstrumentDB
	lastMTM     map[string]float64
}

// NewFuturesBroker creates a futures broker and subscribes it to feed.
// instruments supplies point values and margins for every traded symbol.
func NewFuturesBroker(cash float64, feed BarSubscriber, instruments *models.InstrumentDB, opts ...Option) *FuturesBroker {
	fb := &FuturesBroker{
		BacktestBroker: newBacktestBroker(cash, opts...),
		instruments:    instruments,
		lastMTM:        make(map[string]float64),
	}
	fb.ledger = fb
	if feed != nil {
		feed.Subscribe(fb.OnBars)
	}
	return fb
}

// LastMarkToMarket returns the reference price P&L is accrued from for symbol.
func (fb *FuturesBroker) LastMarkToMarket(symbol string) (float64, bool) {
	p, ok := fb.lastMTM[symbol]
	return p, ok
}

// RequiredMargin is maintenance margin on every open position.
func (fb *FuturesBroker) RequiredMargin() float64 {
	return fb.requiredMargin("", 0)
}

func (fb *FuturesBroker) commit(o *Order, price float64, quantity int, ts time.Time) error {
	inst, err := fb.instruments.Get(o.Symbol())
	if err != nil {
		return err
	}

	if o.Action() == Buy || o.Action() == SellShort {
		required := fb.requiredMargin(o.Symbol(), quantity)
		if fb.cash-required < 0 {
			return apperrors.NewMarginError(o.Symbol(), quantity, required, fb.cash, apperrors.ErrInsufficientMargin)
		}
	}

	cash := fb.cash
	// Settle the contracts already held to the fill price before the
	// reference moves, so adding to a position does not drop accrued P&L.
	if held := fb.shares[o.Symbol()]; held != 0 {
		ref, ok := fb.lastMTM[o.Symbol()]
		if !ok {
			fb.logger.Warn().Str("symbol", o.Symbol()).Msg("No mark-to-market reference for open position")
			ref = price
		}
		cash += (price - ref) * inst.PointValue * float64(held)
	}

	commission := fb.commission.Calculate(o, price, quantity)
	cash -= commission
	if err := fb.settle(o, ExecutionInfo{Price: price, Quantity: quantity, Commission: commission, Time: ts}, cash); err != nil {
		return err
	}
	fb.lastMTM[o.Symbol()] = price
	return nil
}

// afterBars accrues close-to-close P&L on open positions, then checks
// maintenance margin.
func (fb *FuturesBroker) afterBars(bars models.BarSet) error {
	for _, sym := range sortedSymbols(fb.shares) {
		bar, ok := bars.Bar(sym)
		if !ok {
			continue
		}
		pv := fb.instruments.PointValue(sym)
		if ref, ok := fb.lastMTM[sym]; ok {
			fb.cash += (bar.Close() - ref) * pv * float64(fb.shares[sym])
		}
		fb.lastMTM[sym] = bar.Close()
	}

	required := fb.requiredMargin("", 0)
	if fb.cash-required < 0 {
		fb.logger.Error().
			Float64("cash", fb.cash).
			Float64("required", required).
			Time("date", bars.Timestamp()).
			Msg("Margin call")
		return apperrors.NewMarginError("", 0, required, fb.cash, apperrors.ErrMarginCall)
	}
	return nil
}

// equity of a futures account is its cash.
func (fb *FuturesBroker) equity() float64 { return fb.cash }

func (fb *FuturesBroker) marks() map[string]float64 {
	out := make(map[string]float64, len(fb.lastMTM))
	for s, p := range fb.lastMTM {
		out[s] = p
	}
	return out
}

// requiredMargin sums maintenance margin on open positions plus initial
// margin for quantity new contracts of symbol.
func (fb *FuturesBroker) requiredMargin(symbol string, quantity int) float64 {
	var margin float64
	for _, sym := range sortedSymbols(fb.shares) {
		inst, err := fb.instruments.Get(sym)
		if err != nil {
			continue
		}
		margin += inst.MaintMargin * float64(abs(fb.shares[sym]))
	}
	if symbol != "" {
		if inst, err := fb.instruments.Get(symbol); err == nil {
			margin += inst.InitialMargin * float64(quantity)
		}
	}
	return margin
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
