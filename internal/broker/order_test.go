package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hedge-backtester/internal/errors"
)

func TestOrderConstructors(t *testing.T) {
	m := NewMarketOrder(Buy, "CL", 2, true)
	assert.Equal(t, Market, m.Type())
	assert.True(t, m.FillOnClose())
	assert.True(t, m.IsAccepted())
	assert.Nil(t, m.Execution())
	assert.Zero(t, m.ID())

	sl := NewStopLimitOrder(SellShort, "CL", 9, 8.5, 3)
	assert.Equal(t, StopLimit, sl.Type())
	assert.Equal(t, 9.0, sl.StopPrice())
	assert.Equal(t, 8.5, sl.LimitPrice())
	assert.Equal(t, 3, sl.Quantity())
	assert.False(t, sl.LimitActive())
	assert.False(t, sl.GoodTillCanceled())
}

func TestActionIsBuy(t *testing.T) {
	assert.True(t, Buy.IsBuy())
	assert.True(t, BuyToCover.IsBuy())
	assert.False(t, Sell.IsBuy())
	assert.False(t, SellShort.IsBuy())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "BUY_TO_COVER", BuyToCover.String())
	assert.Equal(t, "STOP_LIMIT", StopLimit.String())
	assert.Equal(t, "CANCELED", Canceled.String())
	assert.Equal(t, "OrderState(9)", OrderState(9).String())
}

func TestSetFillOnCloseMarketOnly(t *testing.T) {
	o := NewLimitOrder(Buy, "CL", 10, 1)
	assert.ErrorIs(t, o.SetFillOnClose(true), apperrors.ErrInvalidOrder)

	m := NewMarketOrder(Buy, "CL", 1, false)
	require.NoError(t, m.SetFillOnClose(true))
	assert.True(t, m.FillOnClose())
}

func TestTerminalOrdersAreImmutable(t *testing.T) {
	o := NewMarketOrder(Buy, "CL", 1, false)
	require.NoError(t, o.fill(ExecutionInfo{Price: 10, Quantity: 1, Time: day(0)}))

	assert.ErrorIs(t, o.SetGoodTillCanceled(true), apperrors.ErrOrderFilled)
	assert.ErrorIs(t, o.cancel(), apperrors.ErrOrderFilled)
	assert.ErrorIs(t, o.fill(ExecutionInfo{Price: 11, Quantity: 1}), apperrors.ErrOrderFilled)
	assert.Equal(t, 10.0, o.Execution().Price)

	c := NewMarketOrder(Buy, "CL", 1, false)
	require.NoError(t, c.cancel())
	assert.ErrorIs(t, c.fill(ExecutionInfo{Price: 10, Quantity: 1}), apperrors.ErrOrderCanceled)
	assert.Nil(t, c.Execution())
}

func TestExecutionIsACopy(t *testing.T) {
	o := NewMarketOrder(Buy, "CL", 1, false)
	require.NoError(t, o.fill(ExecutionInfo{Price: 10, Quantity: 1}))
	o.Execution().Price = 99
	assert.Equal(t, 10.0, o.Execution().Price)
}

func TestNewCommission(t *testing.T) {
	o := NewMarketOrder(Buy, "CL", 4, false)
	assert.Equal(t, 7.5, NewCommission("fixed", 7.5).Calculate(o, 100, 4))
	assert.Equal(t, 10.0, NewCommission("per_contract", 2.5).Calculate(o, 100, 4))
	assert.Equal(t, 0.0, NewCommission("", 2.5).Calculate(o, 100, 4))
}
