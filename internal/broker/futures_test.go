package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

func futuresDB(t *testing.T, pv, initial, maint float64) *models.InstrumentDB {
	t.Helper()
	db, err := models.NewInstrumentDB(models.Instrument{
		Symbol:        "CL",
		PointValue:    pv,
		InitialMargin: initial,
		MaintMargin:   maint,
	})
	require.NoError(t, err)
	return db
}

func TestFuturesInitialMargin(t *testing.T) {
	fb := NewFuturesBroker(1000, nil, futuresDB(t, 10, 600, 400))
	o := NewMarketOrder(Buy, "CL", 2, false)
	require.NoError(t, fb.PlaceOrder(o))

	err := fb.OnBars(flatBars(0, "CL", 50))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientMargin)
	assert.True(t, apperrors.IsMarginError(err))
	assert.False(t, apperrors.IsRecoverable(err))
	assert.True(t, o.IsAccepted())

	var me *apperrors.MarginError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1200.0, me.Required)
	assert.Equal(t, 1000.0, me.Cash)
}

func TestFuturesSingleContractWithinMargin(t *testing.T) {
	fb := NewFuturesBroker(1000, nil, futuresDB(t, 10, 600, 400))
	o := NewMarketOrder(Buy, "CL", 1, false)
	require.NoError(t, fb.PlaceOrder(o))
	require.NoError(t, fb.OnBars(flatBars(0, "CL", 50)))

	assert.True(t, o.IsFilled())
	assert.Equal(t, 1000.0, fb.Cash(), "notional does not move futures cash")
	assert.Equal(t, 1, fb.Shares("CL"))
	assert.Equal(t, 400.0, fb.RequiredMargin())
}

func TestFuturesMarkToMarketRoundTrip(t *testing.T) {
	fb := NewFuturesBroker(1000, nil, futuresDB(t, 10, 600, 400), WithCommission(FuturesCommission{PerContract: 1}))
	require.NoError(t, fb.OnBars(flatBars(0, "CL", 50)))

	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Buy, "CL", 1, false)))
	require.NoError(t, fb.OnBars(barsAt(t, 1, "CL", 50, 55, 49, 54)))
	assert.InDelta(t, 1000-1+40, fb.Cash(), 1e-9)
	ref, ok := fb.LastMarkToMarket("CL")
	require.True(t, ok)
	assert.Equal(t, 54.0, ref)

	require.NoError(t, fb.OnBars(barsAt(t, 2, "CL", 54, 54, 51, 52)))
	assert.InDelta(t, 1019, fb.Cash(), 1e-9)
	assert.Equal(t, fb.Cash(), fb.Equity())

	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Sell, "CL", 1, false)))
	require.NoError(t, fb.OnBars(barsAt(t, 3, "CL", 53, 53, 50, 51)))
	assert.Equal(t, 0, fb.Shares("CL"))
	// start + (exit - entry) * pv - commissions
	assert.InDelta(t, 1000+(53-50)*10-2, fb.Cash(), 1e-9)
}

func TestFuturesShortRoundTrip(t *testing.T) {
	fb := NewFuturesBroker(1000, nil, futuresDB(t, 10, 0, 0))
	require.NoError(t, fb.PlaceOrder(NewMarketOrder(SellShort, "CL", 2, false)))
	require.NoError(t, fb.OnBars(barsAt(t, 0, "CL", 50, 51, 47, 48)))
	assert.InDelta(t, 1040, fb.Cash(), 1e-9)

	require.NoError(t, fb.PlaceOrder(NewMarketOrder(BuyToCover, "CL", 2, false)))
	require.NoError(t, fb.OnBars(barsAt(t, 1, "CL", 45, 46, 44, 46)))
	assert.InDelta(t, 1000+(50-45)*2*10, fb.Cash(), 1e-9)
}

func TestFuturesAddingToPositionKeepsAccruedPnL(t *testing.T) {
	fb := NewFuturesBroker(10_000, nil, futuresDB(t, 10, 0, 0))
	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Buy, "CL", 1, false)))
	require.NoError(t, fb.OnBars(flatBars(0, "CL", 50)))

	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Buy, "CL", 1, false)))
	require.NoError(t, fb.OnBars(barsAt(t, 1, "CL", 55, 55, 55, 55)))
	assert.InDelta(t, 10_050, fb.Cash(), 1e-9)

	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Sell, "CL", 2, false)))
	require.NoError(t, fb.OnBars(flatBars(2, "CL", 60)))
	assert.InDelta(t, 10_000+(60-50)*10+(60-55)*10, fb.Cash(), 1e-9)
}

func TestFuturesMarginCall(t *testing.T) {
	fb := NewFuturesBroker(1000, nil, futuresDB(t, 100, 600, 400))
	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Buy, "CL", 1, false)))
	require.NoError(t, fb.OnBars(flatBars(0, "CL", 50)))

	err := fb.OnBars(barsAt(t, 1, "CL", 45, 46, 40, 40))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMarginCall)
	assert.InDelta(t, 0, fb.Cash(), 1e-9)
}

func TestFuturesUnknownInstrument(t *testing.T) {
	fb := NewFuturesBroker(1000, nil, futuresDB(t, 10, 0, 0))
	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Buy, "NG", 1, false)))
	err := fb.OnBars(flatBars(0, "NG", 3))
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
}

func TestFuturesMarkPrices(t *testing.T) {
	fb := NewFuturesBroker(1000, nil, futuresDB(t, 10, 0, 0))
	require.NoError(t, fb.OnBars(flatBars(0, "CL", 50)))
	assert.Empty(t, fb.MarkPrices(), "no position, no mark reference")

	require.NoError(t, fb.PlaceOrder(NewMarketOrder(Buy, "CL", 1, false)))
	require.NoError(t, fb.OnBars(barsAt(t, 1, "CL", 51, 53, 50, 52)))
	assert.Equal(t, map[string]float64{"CL": 52}, fb.MarkPrices())
}
