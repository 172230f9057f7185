package strategy

import (
	"fmt"

	"hedge-backtester/internal/analysis"
	"hedge-backtester/internal/broker"
	apperrors "hedge-backtester/internal/errors"
)

// Direction is the side of a position.
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func (d Direction) entryAction() broker.Action {
	if d == Short {
		return broker.SellShort
	}
	return broker.Buy
}

func (d Direction) exitAction() broker.Action {
	if d == Short {
		return broker.BuyToCover
	}
	return broker.Sell
}

// Position pairs an entry order with its exit order and tracks them as one trade.
type Position struct {
	direction   Direction
	symbol      string
	quantity    int
	pointValue  float64
	entry       *broker.Order
	exit        *broker.Order
	impliedRisk float64
}

func (p *Position) Direction() Direction { return p.direction }

func (p *Position) IsLong() bool { return p.direction == Long }

func (p *Position) IsShort() bool { return p.direction == Short }

func (p *Position) Symbol() string { return p.symbol }

func (p *Position) Quantity() int { return p.quantity }

func (p *Position) EntryOrder() *broker.Order { return p.entry }

// ExitOrder returns the current exit order, or nil before one is placed.
func (p *Position) ExitOrder() *broker.Order { return p.exit }

func (p *Position) EntryFilled() bool { return p.entry != nil && p.entry.IsFilled() }

func (p *Position) ExitFilled() bool { return p.exit != nil && p.exit.IsFilled() }

// IsOpen reports whether the entry filled and the exit has not.
func (p *Position) IsOpen() bool { return p.EntryFilled() && !p.ExitFilled() }

func (p *Position) GoodTillCanceled() bool { return p.entry.GoodTillCanceled() }

// ImpliedRisk is the money at risk estimated when the position was sized.
func (p *Position) ImpliedRisk() float64 { return p.impliedRisk }

func (p *Position) SetImpliedRisk(risk float64) { p.impliedRisk = risk }

// NetProfit of a closed position.
func (p *Position) NetProfit(includeCommissions bool) (float64, error) {
	pt, err := p.tracker()
	if err != nil {
		return 0, err
	}
	return pt.NetProfit(p.exit.Execution().Price, includeCommissions), nil
}

// Return of a closed position over its cost basis.
func (p *Position) Return(includeCommissions bool) (float64, error) {
	pt, err := p.tracker()
	if err != nil {
		return 0, err
	}
	return pt.Return(p.exit.Execution().Price, includeCommissions), nil
}

func (p *Position) tracker() (*analysis.PositionTracker, error) {
	if !p.EntryFilled() {
		return nil, apperrors.Wrapf(apperrors.ErrPositionNotOpen, "%s position not opened yet", p.symbol)
	}
	if !p.ExitFilled() {
		return nil, apperrors.Wrapf(apperrors.ErrPositionNotOpen, "%s position not closed yet", p.symbol)
	}

	entry, exit := p.entry.Execution(), p.exit.Execution()
	pt := analysis.NewPositionTracker(p.symbol, p.pointValue)
	var err error
	switch p.direction {
	case Long:
		if err = pt.Buy(entry.Time, entry.Quantity, entry.Price, entry.Commission); err == nil {
			err = pt.Sell(exit.Time, exit.Quantity, exit.Price, exit.Commission)
		}
	case Short:
		if err = pt.Sell(entry.Time, entry.Quantity, entry.Price, entry.Commission); err == nil {
			err = pt.Buy(exit.Time, exit.Quantity, exit.Price, exit.Commission)
		}
	default:
		err = fmt.Errorf("unknown direction %s", p.direction)
	}
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *Position) String() string {
	return fmt.Sprintf("%s %d %s", p.direction, p.quantity, p.symbol)
}
