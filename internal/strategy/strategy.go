// Package strategy drives decision logic from bar events and manages
// positions as paired entry and exit orders.
package strategy

import (
	"github.com/rs/zerolog"

	"hedge-backtester/internal/broker"
	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

// Handler receives strategy callbacks. Embed BaseHandler to implement only
// the callbacks you need. A returned error aborts the run.
type Handler interface {
	OnBars(bars models.BarSet) error
	OnEnterOk(p *Position) error
	OnEnterCanceled(p *Position) error
	OnExitOk(p *Position) error
	OnExitCanceled(p *Position) error
	// OnOrderUpdated receives updates for orders placed directly on the broker.
	OnOrderUpdated(o *broker.Order) error
}

// BaseHandler implements every Handler callback as a no-op.
type BaseHandler struct{}

func (BaseHandler) OnBars(models.BarSet) error         { return nil }
func (BaseHandler) OnEnterOk(*Position) error          { return nil }
func (BaseHandler) OnEnterCanceled(*Position) error    { return nil }
func (BaseHandler) OnExitOk(*Position) error           { return nil }
func (BaseHandler) OnExitCanceled(*Position) error     { return nil }
func (BaseHandler) OnOrderUpdated(*broker.Order) error { return nil }

// OrderOption sets optional order parameters for entries and exits.
type OrderOption func(*orderParams)

type orderParams struct {
	limit *float64
	stop  *float64
	gtc   *bool
}

// Limit sets a limit price.
func Limit(price float64) OrderOption {
	return func(p *orderParams) { p.limit = &price }
}

// Stop sets a stop price.
func Stop(price float64) OrderOption {
	return func(p *orderParams) { p.stop = &price }
}

// GTC marks the order good till canceled. Exits default to the entry's setting.
func GTC(gtc bool) OrderOption {
	return func(p *orderParams) { p.gtc = &gtc }
}

func applyOptions(opts []OrderOption) orderParams {
	var p orderParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// newOrder picks the order type from the supplied prices.
func newOrder(action broker.Action, symbol string, quantity int, p orderParams) *broker.Order {
	switch {
	case p.limit == nil && p.stop == nil:
		return broker.NewMarketOrder(action, symbol, quantity, false)
	case p.stop == nil:
		return broker.NewLimitOrder(action, symbol, *p.limit, quantity)
	case p.limit == nil:
		return broker.NewStopOrder(action, symbol, *p.stop, quantity)
	default:
		return broker.NewStopLimitOrder(action, symbol, *p.stop, *p.limit, quantity)
	}
}

// Strategy routes bar and order events to a Handler and keeps the
// order-to-position mapping.
type Strategy struct {
	broker      broker.Broker
	instruments *models.InstrumentDB
	handler     Handler
	logger      zerolog.Logger

	positions       []*Position
	orderToPosition map[*broker.Order]*Position

	beforeBars    []models.BarsHandler
	barsProcessed []models.BarsHandler
	orderUpdated  []broker.OrderHandler
}

// New creates a strategy on feed and b. The broker must already be
// subscribed to feed so fills are attributed to the right bar.
func New(feed broker.BarSubscriber, b broker.Broker, instruments *models.InstrumentDB, logger zerolog.Logger) *Strategy {
	s := &Strategy{
		broker:          b,
		instruments:     instruments,
		handler:         BaseHandler{},
		logger:          logger,
		orderToPosition: make(map[*broker.Order]*Position),
	}
	b.SubscribeOrderUpdates(s.onOrderUpdate)
	feed.Subscribe(s.onBars)
	return s
}

// SetHandler installs the decision logic.
func (s *Strategy) SetHandler(h Handler) {
	s.handler = h
}

func (s *Strategy) Broker() broker.Broker { return s.broker }

func (s *Strategy) Instruments() *models.InstrumentDB { return s.instruments }

func (s *Strategy) Logger() zerolog.Logger { return s.logger }

// SubscribeBeforeBars registers h to run before the handler sees each bar set.
func (s *Strategy) SubscribeBeforeBars(h models.BarsHandler) {
	s.beforeBars = append(s.beforeBars, h)
}

// SubscribeBarsProcessed registers h to run after the handler processed each bar set.
func (s *Strategy) SubscribeBarsProcessed(h models.BarsHandler) {
	s.barsProcessed = append(s.barsProcessed, h)
}

// SubscribeOrderUpdates registers h for updates of orders that belong to positions.
func (s *Strategy) SubscribeOrderUpdates(h broker.OrderHandler) {
	s.orderUpdated = append(s.orderUpdated, h)
}

// ActivePositions returns positions whose entry has not been canceled and
// whose exit has not filled, in creation order.
func (s *Strategy) ActivePositions() []*Position {
	out := make([]*Position, len(s.positions))
	copy(out, s.positions)
	return out
}

// EnterLong places a buy entry. No prices gives a market order, a limit a
// limit order, a stop a stop order and both a stop-limit order.
func (s *Strategy) EnterLong(symbol string, quantity int, opts ...OrderOption) (*Position, error) {
	return s.enter(Long, symbol, quantity, opts)
}

// EnterShort places a sell-short entry; see EnterLong for order selection.
func (s *Strategy) EnterShort(symbol string, quantity int, opts ...OrderOption) (*Position, error) {
	return s.enter(Short, symbol, quantity, opts)
}

func (s *Strategy) enter(dir Direction, symbol string, quantity int, opts []OrderOption) (*Position, error) {
	params := applyOptions(opts)
	o := newOrder(dir.entryAction(), symbol, quantity, params)
	if params.gtc != nil {
		if err := o.SetGoodTillCanceled(*params.gtc); err != nil {
			return nil, err
		}
	}
	if err := s.broker.PlaceOrder(o); err != nil {
		return nil, err
	}

	p := &Position{
		direction:  dir,
		symbol:     symbol,
		quantity:   quantity,
		pointValue: s.instruments.PointValue(symbol),
		entry:      o,
	}
	s.orderToPosition[o] = p
	s.positions = append(s.positions, p)
	s.logger.Debug().
		Str("symbol", symbol).
		Str("direction", dir.String()).
		Int("quantity", quantity).
		Str("type", o.Type().String()).
		Msg("Entering position")
	return p, nil
}

// ExitPosition places an exit order sized to the position, replacing any
// pending exit. It does nothing once the exit has filled. The exit may be
// placed before the entry fills.
func (s *Strategy) ExitPosition(p *Position, opts ...OrderOption) error {
	if p.ExitFilled() {
		return nil
	}
	if p.entry.IsCanceled() {
		return apperrors.Wrapf(apperrors.ErrPositionNotOpen, "%s entry was canceled", p.symbol)
	}

	params := applyOptions(opts)
	o := newOrder(p.direction.exitAction(), p.symbol, p.quantity, params)
	gtc := p.entry.GoodTillCanceled()
	if params.gtc != nil {
		gtc = *params.gtc
	}
	if err := o.SetGoodTillCanceled(gtc); err != nil {
		return err
	}

	// Record the replacement first so the old order's cancel event is
	// recognized as superseded rather than reported as an exit cancel.
	old := p.exit
	p.exit = o
	if old != nil && old.IsAccepted() {
		if err := s.broker.CancelOrder(old); err != nil {
			p.exit = old
			return err
		}
	}
	if err := s.broker.PlaceOrder(o); err != nil {
		p.exit = nil
		return err
	}
	s.orderToPosition[o] = p
	return nil
}

// Liquidate cancels unfilled entries, exits open positions at market and
// fills those exits on the close of the last bar set.
func (s *Strategy) Liquidate() error {
	for _, p := range s.ActivePositions() {
		switch {
		case p.ExitFilled():
			continue
		case !p.EntryFilled():
			if p.entry.IsAccepted() {
				if err := s.broker.CancelOrder(p.entry); err != nil {
					return err
				}
			}
		default:
			if err := s.ExitPosition(p, GTC(true)); err != nil {
				return err
			}
		}
	}
	return s.broker.ExecuteSessionClose()
}

func (s *Strategy) onBars(bars models.BarSet) error {
	for _, h := range s.beforeBars {
		if err := h(bars); err != nil {
			return err
		}
	}
	if err := s.handler.OnBars(bars); err != nil {
		return err
	}
	for _, h := range s.barsProcessed {
		if err := h(bars); err != nil {
			return err
		}
	}
	return nil
}

func (s *Strategy) onOrderUpdate(o *broker.Order) error {
	p, ok := s.orderToPosition[o]
	if !ok {
		return s.handler.OnOrderUpdated(o)
	}

	if err := s.route(p, o); err != nil {
		return err
	}
	for _, h := range s.orderUpdated {
		if err := h(o); err != nil {
			return err
		}
	}
	return nil
}

func (s *Strategy) route(p *Position, o *broker.Order) error {
	switch o {
	case p.entry:
		delete(s.orderToPosition, o)
		switch o.State() {
		case broker.Filled:
			return s.handler.OnEnterOk(p)
		case broker.Canceled:
			s.removePosition(p)
			if p.exit != nil && p.exit.IsAccepted() {
				if err := s.broker.CancelOrder(p.exit); err != nil {
					return err
				}
			}
			return s.handler.OnEnterCanceled(p)
		}
	case p.exit:
		delete(s.orderToPosition, o)
		switch o.State() {
		case broker.Filled:
			s.removePosition(p)
			return s.handler.OnExitOk(p)
		case broker.Canceled:
			return s.handler.OnExitCanceled(p)
		}
	default:
		// A replaced exit order.
		delete(s.orderToPosition, o)
	}
	return nil
}

func (s *Strategy) removePosition(p *Position) {
	for i, q := range s.positions {
		if q == p {
			s.positions = append(s.positions[:i], s.positions[i+1:]...)
			return
		}
	}
}
