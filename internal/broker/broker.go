// Package broker simulates order execution and account bookkeeping for backtests.
package broker

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/logging"
	"hedge-backtester/internal/models"
)

// OrderHandler receives order-updated events. A non-nil error aborts the current bar.
type OrderHandler func(o *Order) error

// Broker defines the account operations available to strategies and analyzers.
type Broker interface {
	// Orders
	PlaceOrder(o *Order) error
	CancelOrder(o *Order) error
	ActiveOrders() []*Order
	SubscribeOrderUpdates(h OrderHandler)

	// Account
	Cash() float64
	Equity() float64
	Shares(symbol string) int
	Positions() map[string]int
	MarkPrices() map[string]float64

	// Simulation
	OnBars(bars models.BarSet) error
	ExecuteSessionClose() error
}

// BarSubscriber is the part of a bar feed a broker needs.
type BarSubscriber interface {
	Subscribe(h models.BarsHandler)
}

// ledger is the account-specific part of execution: how a fill moves cash,
// what happens after each bar and how equity is valued.
type ledger interface {
	commit(o *Order, price float64, quantity int, ts time.Time) error
	afterBars(bars models.BarSet) error
	equity() float64
	marks() map[string]float64
}

// Option configures a broker.
type Option func(*BacktestBroker)

// WithCommission sets the commission model. The default charges nothing.
func WithCommission(c Commission) Option {
	return func(b *BacktestBroker) { b.commission = c }
}

// WithFillStrategy replaces the default fill rules.
func WithFillStrategy(f FillStrategy) Option {
	return func(b *BacktestBroker) { b.fill = f }
}

// WithNegativeCash lets cash-account fills drive cash below zero.
func WithNegativeCash(allow bool) Option {
	return func(b *BacktestBroker) { b.allowNegativeCash = allow }
}

// WithLogger sets the broker logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *BacktestBroker) { b.logger = l }
}

// BacktestBroker is a cash account: buys debit price x quantity, sells credit it.
type BacktestBroker struct {
	cash              float64
	shares            map[string]int
	active            []*Order
	fill              FillStrategy
	commission        Commission
	allowNegativeCash bool
	handlers          []OrderHandler
	nextID            int64
	lastBars          models.BarSet
	hasBars           bool
	lastClose         map[string]float64
	logger            zerolog.Logger
	ledger            ledger
}

// NewBacktestBroker creates a cash-account broker and subscribes it to feed.
// Subscribe the broker before the strategy.
func NewBacktestBroker(cash float64, feed BarSubscriber, opts ...Option) *BacktestBroker {
	b := newBacktestBroker(cash, opts...)
	b.ledger = &cashLedger{b: b}
	if feed != nil {
		feed.Subscribe(b.OnBars)
	}
	return b
}

func newBacktestBroker(cash float64, opts ...Option) *BacktestBroker {
	b := &BacktestBroker{
		cash:       cash,
		shares:     make(map[string]int),
		fill:       DefaultFillStrategy{},
		commission: NoCommission{},
		lastClose:  make(map[string]float64),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscribeOrderUpdates registers h for order-updated events, in call order.
func (b *BacktestBroker) SubscribeOrderUpdates(h OrderHandler) {
	b.handlers = append(b.handlers, h)
}

// PlaceOrder appends o to the active list. o must be Accepted and not yet placed.
func (b *BacktestBroker) PlaceOrder(o *Order) error {
	if err := o.checkAccepted("place"); err != nil {
		return err
	}
	if err := o.validate(); err != nil {
		return err
	}
	if o.id != 0 {
		return o.errorf("place", apperrors.Wrap(apperrors.ErrInvalidOrder, "order already placed"))
	}
	b.nextID++
	o.id = b.nextID
	if b.hasBars {
		o.placedOn = b.lastBars.Timestamp()
	}
	b.active = append(b.active, o)
	logging.LogOrder(b.logger, o.id, o.symbol, o.action.String(), "placed")
	return nil
}

// CancelOrder cancels an active order immediately and emits its update.
// Canceling a Filled or Canceled order fails without changing it.
func (b *BacktestBroker) CancelOrder(o *Order) error {
	if err := o.checkAccepted("cancel"); err != nil {
		return err
	}
	if b.indexOf(o) < 0 {
		return o.errorf("cancel", apperrors.Wrap(apperrors.ErrInvalidOrder, "order is not active with this broker"))
	}
	if err := o.cancel(); err != nil {
		return err
	}
	b.remove(o)
	logging.LogOrder(b.logger, o.id, o.symbol, o.action.String(), o.state.String())
	return b.notify(o)
}

// ActiveOrders returns the active orders in submission order.
func (b *BacktestBroker) ActiveOrders() []*Order {
	out := make([]*Order, len(b.active))
	copy(out, b.active)
	return out
}

func (b *BacktestBroker) Cash() float64 { return b.cash }

// Rebase restarts the account from cash without touching positions. It is
// only for the engine, between bar sets, when the trading window opens.
func (b *BacktestBroker) Rebase(cash float64) { b.cash = cash }

// Equity values the account; see the concrete ledger for the definition.
func (b *BacktestBroker) Equity() float64 { return b.ledger.equity() }

// Shares returns the signed position in symbol.
func (b *BacktestBroker) Shares(symbol string) int { return b.shares[symbol] }

// Positions returns a copy of the non-zero positions.
func (b *BacktestBroker) Positions() map[string]int {
	out := make(map[string]int, len(b.shares))
	for s, n := range b.shares {
		out[s] = n
	}
	return out
}

// MarkPrices returns the latest reference price per symbol.
func (b *BacktestBroker) MarkPrices() map[string]float64 { return b.ledger.marks() }

// OnBars tries every active order whose symbol traded in bars, in submission order.
func (b *BacktestBroker) OnBars(bars models.BarSet) error {
	b.lastBars = bars
	b.hasBars = true
	for _, sym := range bars.Symbols() {
		bar, _ := bars.Bar(sym)
		b.lastClose[sym] = bar.Close()
	}

	active := b.ActiveOrders()
	for _, o := range active {
		// Handlers may cancel orders while the bar is processed; those
		// have already been removed and reported.
		if b.indexOf(o) < 0 {
			continue
		}
		bar, ok := bars.Bar(o.Symbol())
		if !ok {
			continue
		}
		if o.IsAccepted() {
			if err := b.tryExecute(o, bar, bars.Timestamp()); err != nil {
				return err
			}
			if o.IsAccepted() {
				continue
			}
		}
		b.remove(o)
		if err := b.notify(o); err != nil {
			return err
		}
	}
	return b.ledger.afterBars(bars)
}

// ExecuteSessionClose flags active market orders to fill on close and
// re-runs OnBars against the last bar set.
func (b *BacktestBroker) ExecuteSessionClose() error {
	if !b.hasBars {
		return nil
	}
	for _, o := range b.active {
		if o.IsAccepted() && o.Type() == Market {
			o.fillOnClose = true
		}
	}
	return b.OnBars(b.lastBars)
}

func (b *BacktestBroker) tryExecute(o *Order, bar models.Bar, ts time.Time) error {
	var (
		price float64
		ok    bool
	)
	switch o.Type() {
	case Market:
		price, ok = b.fill.FillMarketOrder(o, bar)
	case Limit:
		price, ok = b.fill.FillLimitOrder(o, bar)
	case Stop:
		price, ok = b.fill.FillStopOrder(o, bar)
	case StopLimit:
		justHit := false
		if !o.limitActive && stopHit(o, bar) {
			o.limitActive = true
			justHit = true
		}
		if o.limitActive {
			price, ok = b.fill.FillStopLimitOrder(o, bar, justHit)
		}
	default:
		return o.errorf("execute", apperrors.Wrapf(apperrors.ErrInvalidOrder, "unknown order type %s", o.Type()))
	}

	if ok {
		if err := b.ledger.commit(o, price, o.Quantity(), ts); err != nil {
			return err
		}
	}

	// Orders placed on this same bar get at least one more bar before expiring.
	if o.IsAccepted() && !o.GoodTillCanceled() && !o.placedOn.Equal(ts) {
		if err := o.cancel(); err != nil {
			return err
		}
		logging.LogOrder(b.logger, o.id, o.symbol, o.action.String(), "expired")
	}
	return nil
}

// settle marks o filled and applies the share change. cash is the already
// computed post-fill balance.
func (b *BacktestBroker) settle(o *Order, info ExecutionInfo, cash float64) error {
	if err := o.fill(info); err != nil {
		return err
	}
	delta := info.Quantity
	if !o.Action().IsBuy() {
		delta = -delta
	}
	b.cash = cash
	b.shares[o.Symbol()] += delta
	if b.shares[o.Symbol()] == 0 {
		delete(b.shares, o.Symbol())
	}
	logging.LogFill(b.logger, o.id, o.symbol, o.action.String(), info.Quantity, info.Price, info.Commission, info.Time)
	return nil
}

func (b *BacktestBroker) notify(o *Order) error {
	for _, h := range b.handlers {
		if err := h(o); err != nil {
			return err
		}
	}
	return nil
}

func (b *BacktestBroker) indexOf(o *Order) int {
	for i, a := range b.active {
		if a == o {
			return i
		}
	}
	return -1
}

func (b *BacktestBroker) remove(o *Order) {
	if i := b.indexOf(o); i >= 0 {
		b.active = append(b.active[:i], b.active[i+1:]...)
	}
}

// cashLedger implements equity-account accounting.
type cashLedger struct {
	b *BacktestBroker
}

func (l *cashLedger) commit(o *Order, price float64, quantity int, ts time.Time) error {
	b := l.b
	cost := price * float64(quantity)
	if o.Action().IsBuy() {
		cost = -cost
	}
	commission := b.commission.Calculate(o, price, quantity)
	resulting := b.cash + cost - commission
	if resulting < 0 && !b.allowNegativeCash {
		b.logger.Debug().
			Int64("order_id", o.id).
			Str("symbol", o.symbol).
			Float64("price", price).
			Float64("cash", b.cash).
			Msg("Not enough cash to fill order")
		return nil
	}
	return b.settle(o, ExecutionInfo{Price: price, Quantity: quantity, Commission: commission, Time: ts}, resulting)
}

func (l *cashLedger) afterBars(models.BarSet) error { return nil }

// equity is cash plus open shares valued at their last known close.
func (l *cashLedger) equity() float64 {
	b := l.b
	total := b.cash
	for _, sym := range sortedSymbols(b.shares) {
		total += float64(b.shares[sym]) * b.lastClose[sym]
	}
	return total
}

func (l *cashLedger) marks() map[string]float64 {
	out := make(map[string]float64, len(l.b.lastClose))
	for s, p := range l.b.lastClose {
		out[s] = p
	}
	return out
}

func sortedSymbols(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
