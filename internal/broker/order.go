package broker

import (
	"fmt"
	"time"

	apperrors "hedge-backtester/internal/errors"
)

// OrderType tags the order variant.
type OrderType int

const (
	Market OrderType = iota
	Limit
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	default:
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
}

// Action is the side of an order.
type Action int

const (
	Buy Action = iota
	BuyToCover
	Sell
	SellShort
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case BuyToCover:
		return "BUY_TO_COVER"
	case Sell:
		return "SELL"
	case SellShort:
		return "SELL_SHORT"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// IsBuy reports whether the action adds contracts.
func (a Action) IsBuy() bool {
	return a == Buy || a == BuyToCover
}

// OrderState is the order lifecycle state. Canceled and Filled are terminal.
type OrderState int

const (
	Accepted OrderState = iota
	Canceled
	Filled
)

func (s OrderState) String() string {
	switch s {
	case Accepted:
		return "ACCEPTED"
	case Canceled:
		return "CANCELED"
	case Filled:
		return "FILLED"
	default:
		return fmt.Sprintf("OrderState(%d)", int(s))
	}
}

// ExecutionInfo describes a fill.
type ExecutionInfo struct {
	Price      float64
	Quantity   int
	Commission float64
	Time       time.Time
}

// Order is a stateful execution request. Orders are created Accepted and
// mutated only by the broker that holds them.
type Order struct {
	id          int64
	typ         OrderType
	action      Action
	symbol      string
	quantity    int
	limitPrice  float64
	stopPrice   float64
	gtc         bool
	fillOnClose bool
	limitActive bool
	state       OrderState
	execution   *ExecutionInfo
	placedOn    time.Time
}

// NewMarketOrder creates a market order. onClose fills it at the bar's close instead of its open.
func NewMarketOrder(action Action, symbol string, quantity int, onClose bool) *Order {
	return &Order{typ: Market, action: action, symbol: symbol, quantity: quantity, fillOnClose: onClose}
}

// NewLimitOrder creates a limit order.
func NewLimitOrder(action Action, symbol string, limitPrice float64, quantity int) *Order {
	return &Order{typ: Limit, action: action, symbol: symbol, quantity: quantity, limitPrice: limitPrice}
}

// NewStopOrder creates a stop order.
func NewStopOrder(action Action, symbol string, stopPrice float64, quantity int) *Order {
	return &Order{typ: Stop, action: action, symbol: symbol, quantity: quantity, stopPrice: stopPrice}
}

// NewStopLimitOrder creates a stop-limit order.
func NewStopLimitOrder(action Action, symbol string, stopPrice, limitPrice float64, quantity int) *Order {
	return &Order{typ: StopLimit, action: action, symbol: symbol, quantity: quantity, stopPrice: stopPrice, limitPrice: limitPrice}
}

// ID is assigned when the order is placed; zero before that.
func (o *Order) ID() int64 { return o.id }

func (o *Order) Type() OrderType { return o.typ }

func (o *Order) Action() Action { return o.action }

func (o *Order) Symbol() string { return o.symbol }

func (o *Order) Quantity() int { return o.quantity }

func (o *Order) LimitPrice() float64 { return o.limitPrice }

func (o *Order) StopPrice() float64 { return o.stopPrice }

func (o *Order) GoodTillCanceled() bool { return o.gtc }

func (o *Order) FillOnClose() bool { return o.fillOnClose }

// LimitActive reports whether a stop-limit order's stop has been touched.
func (o *Order) LimitActive() bool { return o.limitActive }

func (o *Order) State() OrderState { return o.state }

func (o *Order) IsAccepted() bool { return o.state == Accepted }

func (o *Order) IsCanceled() bool { return o.state == Canceled }

func (o *Order) IsFilled() bool { return o.state == Filled }

// Execution returns the fill details, or nil if the order is not filled.
func (o *Order) Execution() *ExecutionInfo {
	if o.execution == nil {
		return nil
	}
	info := *o.execution
	return &info
}

// SetGoodTillCanceled sets the GTC flag. Terminal orders cannot be changed.
func (o *Order) SetGoodTillCanceled(gtc bool) error {
	if err := o.checkAccepted("set good till canceled"); err != nil {
		return err
	}
	o.gtc = gtc
	return nil
}

// SetFillOnClose makes a market order fill at the bar's close.
func (o *Order) SetFillOnClose(onClose bool) error {
	if err := o.checkAccepted("set fill on close"); err != nil {
		return err
	}
	if o.typ != Market {
		return o.errorf("set fill on close", apperrors.ErrInvalidOrder)
	}
	o.fillOnClose = onClose
	return nil
}

func (o *Order) String() string {
	return fmt.Sprintf("#%d %s %s %d %s [%s]", o.id, o.action, o.typ, o.quantity, o.symbol, o.state)
}

func (o *Order) validate() error {
	if o.quantity <= 0 {
		return o.errorf("place", apperrors.Wrapf(apperrors.ErrInvalidOrder, "quantity %d", o.quantity))
	}
	if o.symbol == "" {
		return o.errorf("place", apperrors.Wrap(apperrors.ErrInvalidOrder, "empty symbol"))
	}
	return nil
}

func (o *Order) checkAccepted(op string) error {
	switch o.state {
	case Accepted:
		return nil
	case Filled:
		return o.errorf(op, apperrors.ErrOrderFilled)
	default:
		return o.errorf(op, apperrors.ErrOrderCanceled)
	}
}

func (o *Order) errorf(op string, err error) error {
	return apperrors.NewOrderError(o.id, o.symbol, o.action.String(), op, err)
}

func (o *Order) cancel() error {
	if err := o.checkAccepted("cancel"); err != nil {
		return err
	}
	o.state = Canceled
	return nil
}

func (o *Order) fill(info ExecutionInfo) error {
	if err := o.checkAccepted("fill"); err != nil {
		return err
	}
	o.execution = &info
	o.state = Filled
	return nil
}
