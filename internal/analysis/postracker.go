package analysis

import (
	"math"
	"time"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

// PositionTracker accumulates the fills of one trade in one symbol and
// reports its profit and return. Quantities are in contracts; money is scaled
// by the point value.
type PositionTracker struct {
	symbol      string
	pointValue  float64
	units       int
	tradeSize   int
	commissions float64
	cash        float64
	cost        float64
	entryDate   time.Time
	entryPrice  float64
	exitDate    time.Time
	exitPrice   float64
}

// NewPositionTracker creates an empty tracker. A non-positive point value is treated as 1.
func NewPositionTracker(symbol string, pointValue float64) *PositionTracker {
	if pointValue <= 0 {
		pointValue = 1
	}
	return &PositionTracker{symbol: symbol, pointValue: pointValue}
}

func (pt *PositionTracker) Symbol() string       { return pt.symbol }
func (pt *PositionTracker) PointValue() float64  { return pt.pointValue }
func (pt *PositionTracker) Units() int           { return pt.units }
func (pt *PositionTracker) TradeSize() int       { return pt.tradeSize }
func (pt *PositionTracker) Commissions() float64 { return pt.commissions }
func (pt *PositionTracker) Basis() float64       { return pt.cost }
func (pt *PositionTracker) EntryDate() time.Time { return pt.entryDate }
func (pt *PositionTracker) EntryPrice() float64  { return pt.entryPrice }
func (pt *PositionTracker) ExitDate() time.Time  { return pt.exitDate }
func (pt *PositionTracker) ExitPrice() float64   { return pt.exitPrice }

// Buy records a fill adding quantity contracts.
func (pt *PositionTracker) Buy(ts time.Time, quantity int, price, commission float64) error {
	if quantity <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidOrder, "buy quantity %d", quantity)
	}
	pt.transact(ts, quantity, price, commission)
	return nil
}

// Sell records a fill removing quantity contracts.
func (pt *PositionTracker) Sell(ts time.Time, quantity int, price, commission float64) error {
	if quantity <= 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidOrder, "sell quantity %d", quantity)
	}
	pt.transact(ts, -quantity, price, commission)
	return nil
}

// NetProfit values the open units at price and adds realized cash flow.
func (pt *PositionTracker) NetProfit(price float64, includeCommissions bool) float64 {
	ret := pt.cash + float64(pt.units)*price*pt.pointValue
	if includeCommissions {
		ret -= pt.commissions
	}
	return ret
}

// Return is NetProfit over the cost basis, or 0 with no basis.
func (pt *PositionTracker) Return(price float64, includeCommissions bool) float64 {
	if pt.cost == 0 {
		return 0
	}
	return pt.NetProfit(price, includeCommissions) / pt.cost
}

// ResetEntryPrice re-bases an open trade as if it had been entered at price.
func (pt *PositionTracker) ResetEntryPrice(price float64) {
	pt.tradeSize = pt.units
	pt.entryPrice = price
	pt.cost = math.Abs(float64(pt.units) * price * pt.pointValue)
	pt.cash = -float64(pt.units) * price * pt.pointValue
}

// Record converts a closed tracker into a trade record.
func (pt *PositionTracker) Record() models.TradeRecord {
	return models.TradeRecord{
		Symbol:      pt.symbol,
		Units:       pt.tradeSize,
		EntryDate:   pt.entryDate,
		EntryPrice:  pt.entryPrice,
		ExitDate:    pt.exitDate,
		ExitPrice:   pt.exitPrice,
		Commissions: pt.commissions,
		NetProfit:   pt.NetProfit(0, true),
		Return:      pt.Return(0, true),
	}
}

func (pt *PositionTracker) transact(ts time.Time, quantity int, price, commission float64) {
	if pt.units == 0 {
		pt.entryDate = ts
		pt.entryPrice = price
		pt.tradeSize = quantity
	}
	pt.updateCost(quantity, price)
	pt.cash -= float64(quantity) * price * pt.pointValue
	pt.units += quantity
	if pt.units == 0 {
		pt.exitDate = ts
		pt.exitPrice = price
	}
	pt.commissions += commission
}

// updateCost grows the basis only for contracts that add exposure.
func (pt *PositionTracker) updateCost(quantity int, price float64) {
	var added int
	switch {
	case pt.units > 0 && quantity > 0, pt.units < 0 && quantity < 0, pt.units == 0:
		added = quantity
	default:
		// Reducing; only the part that flips the position adds exposure.
		if after := pt.units + quantity; (pt.units > 0 && after < 0) || (pt.units < 0 && after > 0) {
			added = after
		}
	}
	pt.cost += math.Abs(float64(added)) * price * pt.pointValue
}
