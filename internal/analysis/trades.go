package analysis

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"hedge-backtester/internal/broker"
	"hedge-backtester/internal/models"
)

// Trades records the profit and return of every completed round trip, built
// from broker fill events. A trade ends when the symbol's position goes flat.
type Trades struct {
	instruments *models.InstrumentDB
	trackers    map[string]*PositionTracker
	records     []models.TradeRecord
	logger      zerolog.Logger

	profitable   int
	unprofitable int
	even         int
}

// NewTrades creates a trade analyzer. Subscribe OnOrderUpdate to a broker.
func NewTrades(instruments *models.InstrumentDB, logger zerolog.Logger) *Trades {
	return &Trades{
		instruments: instruments,
		trackers:    make(map[string]*PositionTracker),
		logger:      logger,
	}
}

// OnOrderUpdate consumes order-updated events; only fills matter.
func (t *Trades) OnOrderUpdate(o *broker.Order) error {
	if !o.IsFilled() {
		return nil
	}
	exec := o.Execution()
	quantity := exec.Quantity
	if !o.Action().IsBuy() {
		quantity = -quantity
	}
	return t.apply(o.Symbol(), exec.Time, quantity, exec.Price, exec.Commission)
}

func (t *Trades) apply(symbol string, ts time.Time, quantity int, price, commission float64) error {
	pt := t.tracker(symbol)
	current := pt.Units()
	after := current + quantity

	switch {
	case current == 0 || sameSign(current, quantity):
		return transact(pt, ts, quantity, price, commission)
	case after == 0:
		if err := transact(pt, ts, quantity, price, commission); err != nil {
			return err
		}
		t.close(pt)
	case sameSign(after, current):
		return transact(pt, ts, quantity, price, commission)
	default:
		// Reversal: close the old trade and open a new one, splitting the
		// commission by contracts.
		total := float64(abs(quantity))
		closing := -current
		if err := transact(pt, ts, closing, price, commission*float64(abs(closing))/total); err != nil {
			return err
		}
		t.close(pt)
		return transact(t.tracker(symbol), ts, after, price, commission*float64(abs(after))/total)
	}
	return nil
}

func (t *Trades) tracker(symbol string) *PositionTracker {
	pt, ok := t.trackers[symbol]
	if !ok {
		pt = NewPositionTracker(symbol, t.instruments.PointValue(symbol))
		t.trackers[symbol] = pt
	}
	return pt
}

func (t *Trades) close(pt *PositionTracker) {
	rec := pt.Record()
	switch {
	case rec.NetProfit > 0:
		t.profitable++
	case rec.NetProfit < 0:
		t.unprofitable++
	default:
		t.even++
	}
	t.records = append(t.records, rec)
	delete(t.trackers, pt.Symbol())
	t.logger.Debug().
		Str("symbol", rec.Symbol).
		Int("units", rec.Units).
		Float64("net_profit", rec.NetProfit).
		Msg("Trade closed")
}

// Records returns completed trades in completion order.
func (t *Trades) Records() []models.TradeRecord {
	out := make([]models.TradeRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Count returns the number of completed trades.
func (t *Trades) Count() int { return len(t.records) }

func (t *Trades) ProfitableCount() int { return t.profitable }

func (t *Trades) UnprofitableCount() int { return t.unprofitable }

// EvenCount returns the number of trades with zero net profit.
func (t *Trades) EvenCount() int { return t.even }

// NetProfit sums the net profit of completed trades.
func (t *Trades) NetProfit() float64 {
	var total float64
	for _, r := range t.records {
		total += r.NetProfit
	}
	return total
}

// Commissions sums commissions of completed trades.
func (t *Trades) Commissions() float64 {
	var total float64
	for _, r := range t.records {
		total += r.Commissions
	}
	return total
}

// OpenSymbols lists symbols with an open trade, sorted.
func (t *Trades) OpenSymbols() []string {
	out := make([]string, 0, len(t.trackers))
	for s, pt := range t.trackers {
		if pt.Units() != 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Open returns the tracker of an open trade.
func (t *Trades) Open(symbol string) (*PositionTracker, bool) {
	pt, ok := t.trackers[symbol]
	if !ok || pt.Units() == 0 {
		return nil, false
	}
	return pt, true
}

// OpenProfit values every open trade at the given prices.
func (t *Trades) OpenProfit(prices map[string]float64) float64 {
	var total float64
	for _, s := range t.OpenSymbols() {
		total += t.trackers[s].NetProfit(prices[s], true)
	}
	return total
}

// Reset discards completed trades and re-bases open trades to marks, as if
// they were entered at those prices. It returns the commissions already paid
// to open them.
func (t *Trades) Reset(marks map[string]float64) float64 {
	t.records = nil
	t.profitable, t.unprofitable, t.even = 0, 0, 0

	var entryCommissions float64
	for _, s := range t.OpenSymbols() {
		pt := t.trackers[s]
		entryCommissions += pt.Commissions()
		if mark, ok := marks[s]; ok {
			pt.ResetEntryPrice(mark)
		}
	}
	return entryCommissions
}

func transact(pt *PositionTracker, ts time.Time, quantity int, price, commission float64) error {
	if quantity > 0 {
		return pt.Buy(ts, quantity, price, commission)
	}
	return pt.Sell(ts, -quantity, price, commission)
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
