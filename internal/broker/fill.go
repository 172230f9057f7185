package broker

import (
	"math"

	"hedge-backtester/internal/models"
)

// FillStrategy resolves the execution price of a pending order against a bar.
// ok is false when the order's trigger is not reachable within the bar.
type FillStrategy interface {
	FillMarketOrder(o *Order, bar models.Bar) (price float64, ok bool)
	FillLimitOrder(o *Order, bar models.Bar) (price float64, ok bool)
	FillStopOrder(o *Order, bar models.Bar) (price float64, ok bool)
	FillStopLimitOrder(o *Order, bar models.Bar, justHitStop bool) (price float64, ok bool)
}

// DefaultFillStrategy fills at bar granularity. A limit or stop whose whole
// bar lies on the marketable side fills at the open rather than waiting.
type DefaultFillStrategy struct{}

func (DefaultFillStrategy) FillMarketOrder(o *Order, bar models.Bar) (float64, bool) {
	if o.FillOnClose() {
		return bar.Close(), true
	}
	return bar.Open(), true
}

func (DefaultFillStrategy) FillLimitOrder(o *Order, bar models.Bar) (float64, bool) {
	return limitPrice(o.Action(), o.LimitPrice(), bar)
}

func (DefaultFillStrategy) FillStopOrder(o *Order, bar models.Bar) (float64, bool) {
	return stopPrice(o.Action(), o.StopPrice(), bar)
}

func (DefaultFillStrategy) FillStopLimitOrder(o *Order, bar models.Bar, justHitStop bool) (float64, bool) {
	price, ok := limitPrice(o.Action(), o.LimitPrice(), bar)
	if !ok {
		return 0, false
	}
	// On the activation bar never grant a price better than the stop allowed.
	if justHitStop {
		if o.Action().IsBuy() {
			price = math.Min(o.StopPrice(), o.LimitPrice())
		} else {
			price = math.Max(o.StopPrice(), o.LimitPrice())
		}
	}
	return price, true
}

func limitPrice(action Action, limit float64, bar models.Bar) (float64, bool) {
	if action.IsBuy() {
		switch {
		case bar.High() < limit:
			return bar.Open(), true
		case limit >= bar.Low():
			if bar.Open() < limit {
				return bar.Open(), true
			}
			return limit, true
		}
		return 0, false
	}

	switch {
	case bar.Low() > limit:
		return bar.Open(), true
	case limit <= bar.High():
		if bar.Open() > limit {
			return bar.Open(), true
		}
		return limit, true
	}
	return 0, false
}

func stopPrice(action Action, stop float64, bar models.Bar) (float64, bool) {
	if action.IsBuy() {
		switch {
		case bar.Low() > stop:
			return bar.Open(), true
		case stop <= bar.High():
			if bar.Open() > stop {
				return bar.Open(), true
			}
			return stop, true
		}
		return 0, false
	}

	switch {
	case bar.High() < stop:
		return bar.Open(), true
	case stop >= bar.Low():
		if bar.Open() < stop {
			return bar.Open(), true
		}
		return stop, true
	}
	return 0, false
}

// stopHit reports whether a stop-limit order's stop is reachable on bar.
func stopHit(o *Order, bar models.Bar) bool {
	if o.Action().IsBuy() {
		return bar.Low() >= o.StopPrice() || o.StopPrice() <= bar.High()
	}
	return bar.High() <= o.StopPrice() || o.StopPrice() >= bar.Low()
}
