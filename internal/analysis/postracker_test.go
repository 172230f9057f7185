package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPositionTrackerStock(t *testing.T) {
	pt := NewPositionTracker("AC", 1)
	require.NoError(t, pt.Buy(date(2012, 12, 31), 100, 25, 7.95))
	assert.Equal(t, 2500.0, pt.Basis())
	assert.InDelta(t, 92.05, pt.NetProfit(26, true), 1e-9)
	assert.Equal(t, date(2012, 12, 31), pt.EntryDate())

	require.NoError(t, pt.Sell(date(2013, 1, 1), 100, 26, 7.95))
	assert.Equal(t, 2500.0, pt.Basis())
	assert.InDelta(t, 84.1, pt.NetProfit(0, true), 1e-9)
	assert.InDelta(t, 100.0, pt.NetProfit(0, false), 1e-9)
	assert.InDelta(t, 15.9, pt.Commissions(), 1e-9)
	assert.Equal(t, date(2013, 1, 1), pt.ExitDate())
	assert.InDelta(t, 0.0336, pt.Return(0, true), 1e-4)
	assert.Equal(t, 100, pt.TradeSize())
	assert.Equal(t, 25.0, pt.EntryPrice())
	assert.Equal(t, 26.0, pt.ExitPrice())
}

func TestPositionTrackerLosingAndShort(t *testing.T) {
	pt := NewPositionTracker("AC", 1)
	require.NoError(t, pt.Buy(date(2013, 1, 6), 100, 27, 7.95))
	assert.InDelta(t, -107.95, pt.NetProfit(26, true), 1e-9)
	require.NoError(t, pt.Sell(date(2013, 1, 7), 100, 26, 7.95))
	assert.InDelta(t, -115.9, pt.NetProfit(0, true), 1e-9)
	assert.InDelta(t, -0.0429, pt.Return(0, true), 1e-4)

	short := NewPositionTracker("AC", 1)
	require.NoError(t, short.Sell(date(2013, 1, 10), 100, 28, 7.95))
	require.NoError(t, short.Buy(date(2013, 1, 11), 100, 26, 7.95))
	assert.Equal(t, -100, short.TradeSize())
	assert.Equal(t, 28.0, short.EntryPrice())
	assert.Equal(t, 26.0, short.ExitPrice())
	assert.InDelta(t, 200, short.NetProfit(0, false), 1e-9)
}

func TestPositionTrackerFutures(t *testing.T) {
	pt := NewPositionTracker("AC", 50)
	require.NoError(t, pt.Buy(date(2012, 12, 31), 100, 25, 7.95))
	assert.Equal(t, 125000.0, pt.Basis())
	assert.InDelta(t, 4992.05, pt.NetProfit(26, true), 1e-9)
	require.NoError(t, pt.Sell(date(2013, 1, 1), 100, 26, 7.95))
	assert.InDelta(t, 4984.1, pt.NetProfit(0, true), 1e-9)
	assert.InDelta(t, 5000.0, pt.NetProfit(0, false), 1e-9)
}

func TestPositionTrackerRejectsNonPositiveQuantity(t *testing.T) {
	pt := NewPositionTracker("AC", 1)
	assert.Error(t, pt.Buy(date(2013, 1, 1), 0, 10, 0))
	assert.Error(t, pt.Sell(date(2013, 1, 1), -1, 10, 0))
	assert.Zero(t, pt.Units())
}

func TestPositionTrackerResetEntryPrice(t *testing.T) {
	pt := NewPositionTracker("ES", 50)
	require.NoError(t, pt.Sell(date(2013, 1, 1), 2, 100, 5))
	pt.ResetEntryPrice(110)

	assert.Equal(t, 110.0, pt.EntryPrice())
	assert.Equal(t, 11000.0, pt.Basis())
	// Short two from 110, valued at 105.
	assert.InDelta(t, 500, pt.NetProfit(105, false), 1e-9)
	assert.InDelta(t, 495, pt.NetProfit(105, true), 1e-9)
}
