package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-backtester/internal/broker"
	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/feed"
	"hedge-backtester/internal/models"
)

func day(n int) time.Time {
	return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

type ohlc struct{ o, h, l, c float64 }

type harness struct {
	mf     *feed.MultiFeed
	broker *broker.FuturesBroker
	strat  *Strategy
	db     *models.InstrumentDB
}

func newHarness(t *testing.T, cash float64, bars []ohlc, opts ...broker.Option) *harness {
	t.Helper()
	inst := models.Instrument{Symbol: "CL", PointValue: 10, InitialMargin: 500, MaintMargin: 400}
	db, err := models.NewInstrumentDB(inst)
	require.NoError(t, err)

	series := make([]models.Bar, len(bars))
	for i, b := range bars {
		series[i] = models.MustBar(day(i), b.o, b.h, b.l, b.c)
	}
	f, err := feed.New(inst, series)
	require.NoError(t, err)

	mf := feed.NewMultiFeed(zerolog.Nop())
	require.NoError(t, mf.Register(f))
	b := broker.NewFuturesBroker(cash, mf, db, opts...)
	return &harness{mf: mf, broker: b, strat: New(mf, b, db, zerolog.Nop()), db: db}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mf.Run(context.Background(), time.Time{}, time.Time{}))
}

// breakout enters long at market when the close clears the prior bar's high,
// then protects the fill with a stop two points below the entry.
type breakout struct {
	BaseHandler
	s        *Strategy
	prevHigh float64
	pos      *Position
	events   []string
}

func (b *breakout) OnBars(bars models.BarSet) error {
	bar, ok := bars.Bar("CL")
	if !ok {
		return nil
	}
	if b.pos == nil && b.prevHigh > 0 && bar.Close() > b.prevHigh {
		p, err := b.s.EnterLong("CL", 2, GTC(true))
		if err != nil {
			return err
		}
		b.pos = p
		b.events = append(b.events, "placed "+bars.Timestamp().Format("02"))
	}
	b.prevHigh = bar.High()
	return nil
}

func (b *breakout) OnEnterOk(p *Position) error {
	b.events = append(b.events, "enter ok")
	return b.s.ExitPosition(p, Stop(p.EntryOrder().Execution().Price-2))
}

func (b *breakout) OnExitOk(*Position) error {
	b.events = append(b.events, "exit ok")
	return nil
}

func TestBreakoutEndToEnd(t *testing.T) {
	bars := []ohlc{
		{100, 101, 99, 100},
		{100, 104, 100, 104}, // close clears 101: entry placed
		{104, 106, 103, 105}, // entry fills at the open
		{105, 107, 103, 106}, // low stays above the 102 stop
		{104, 104, 100, 101}, // stop between low and open: fills at 102
		{101, 102, 100, 101},
	}
	h := newHarness(t, 10_000, bars, broker.WithCommission(broker.FuturesCommission{PerContract: 2.5}))
	handler := &breakout{s: h.strat}
	h.strat.SetHandler(handler)

	h.run(t)

	assert.Equal(t, []string{"placed 02", "enter ok", "exit ok"}, handler.events)

	p := handler.pos
	require.NotNil(t, p)
	entry := p.EntryOrder().Execution()
	exit := p.ExitOrder().Execution()
	assert.Equal(t, 104.0, entry.Price)
	assert.Equal(t, day(2), entry.Time)
	assert.Equal(t, 102.0, exit.Price)
	assert.Equal(t, day(4), exit.Time)

	commissions := 2 * 2.5 * 2
	assert.InDelta(t, 10_000+(102-104)*2*10-commissions, h.broker.Cash(), 1e-9)
	assert.Equal(t, 0, h.broker.Shares("CL"))
	assert.Empty(t, h.strat.ActivePositions())

	profit, err := p.NetProfit(true)
	require.NoError(t, err)
	assert.InDelta(t, -50, profit, 1e-9)
	ret, err := p.Return(true)
	require.NoError(t, err)
	assert.InDelta(t, -50.0/2080, ret, 1e-12)
}

// scripted runs a function per bar index.
type scripted struct {
	BaseHandler
	steps    map[int]func() error
	bar      int
	enterOk  int
	enterCxl int
	exitOk   int
	exitCxl  int
	direct   []*broker.Order
}

func (s *scripted) OnBars(models.BarSet) error {
	defer func() { s.bar++ }()
	if f, ok := s.steps[s.bar]; ok {
		return f()
	}
	return nil
}

func (s *scripted) OnEnterOk(*Position) error       { s.enterOk++; return nil }
func (s *scripted) OnEnterCanceled(*Position) error { s.enterCxl++; return nil }
func (s *scripted) OnExitOk(*Position) error        { s.exitOk++; return nil }
func (s *scripted) OnExitCanceled(*Position) error  { s.exitCxl++; return nil }
func (s *scripted) OnOrderUpdated(o *broker.Order) error {
	s.direct = append(s.direct, o)
	return nil
}

func flat(n int, price float64) []ohlc {
	out := make([]ohlc, n)
	for i := range out {
		out[i] = ohlc{price, price + 1, price - 1, price}
	}
	return out
}

func TestEntryOrderTypeSelection(t *testing.T) {
	h := newHarness(t, 10_000, flat(2, 50))
	var positions []*Position
	h.strat.SetHandler(&scripted{steps: map[int]func() error{
		0: func() error {
			for _, opts := range [][]OrderOption{nil, {Limit(49)}, {Stop(51)}, {Stop(51), Limit(52)}} {
				p, err := h.strat.EnterShort("CL", 1, opts...)
				if err != nil {
					return err
				}
				positions = append(positions, p)
			}
			return nil
		},
	}})
	h.run(t)

	require.Len(t, positions, 4)
	assert.Equal(t, broker.Market, positions[0].EntryOrder().Type())
	assert.Equal(t, broker.Limit, positions[1].EntryOrder().Type())
	assert.Equal(t, broker.Stop, positions[2].EntryOrder().Type())
	assert.Equal(t, broker.StopLimit, positions[3].EntryOrder().Type())
	assert.Equal(t, broker.SellShort, positions[0].EntryOrder().Action())
	assert.True(t, positions[0].IsShort())
}

func TestExitReplacementIsSilent(t *testing.T) {
	h := newHarness(t, 10_000, flat(4, 50))
	var p *Position
	var firstStop *broker.Order
	handler := &scripted{}
	handler.steps = map[int]func() error{
		0: func() (err error) {
			p, err = h.strat.EnterLong("CL", 1, GTC(true))
			return err
		},
		1: func() error {
			if err := h.strat.ExitPosition(p, Stop(40)); err != nil {
				return err
			}
			firstStop = p.ExitOrder()
			return nil
		},
		2: func() error { return h.strat.ExitPosition(p, Stop(45)) },
	}
	h.strat.SetHandler(handler)
	h.run(t)

	require.NotNil(t, firstStop)
	assert.True(t, firstStop.IsCanceled())
	assert.Equal(t, 45.0, p.ExitOrder().StopPrice())
	assert.True(t, p.ExitOrder().IsAccepted())
	assert.True(t, p.ExitOrder().GoodTillCanceled(), "exit inherits the entry's GTC")
	assert.Equal(t, 1, handler.enterOk)
	assert.Zero(t, handler.exitCxl)
	assert.Empty(t, handler.direct)
}

func TestEntryCancelCancelsPendingExit(t *testing.T) {
	h := newHarness(t, 10_000, flat(3, 50))
	var p *Position
	handler := &scripted{}
	handler.steps = map[int]func() error{
		0: func() (err error) {
			p, err = h.strat.EnterLong("CL", 1, Limit(10), GTC(true))
			if err != nil {
				return err
			}
			return h.strat.ExitPosition(p, Stop(5))
		},
		1: func() error { return h.strat.Broker().CancelOrder(p.EntryOrder()) },
	}
	h.strat.SetHandler(handler)
	h.run(t)

	assert.True(t, p.EntryOrder().IsCanceled())
	assert.True(t, p.ExitOrder().IsCanceled())
	assert.Equal(t, 1, handler.enterCxl)
	assert.Equal(t, 1, handler.exitCxl)
	assert.Empty(t, h.strat.ActivePositions())
	assert.Empty(t, h.broker.ActiveOrders())

	assert.ErrorIs(t, h.strat.ExitPosition(p), apperrors.ErrPositionNotOpen)
}

func TestNonGTCEntryExpires(t *testing.T) {
	h := newHarness(t, 10_000, flat(3, 50))
	handler := &scripted{}
	handler.steps = map[int]func() error{
		0: func() error {
			_, err := h.strat.EnterLong("CL", 1, Limit(10))
			return err
		},
	}
	h.strat.SetHandler(handler)
	h.run(t)

	assert.Equal(t, 1, handler.enterCxl)
	assert.Empty(t, h.strat.ActivePositions())
}

func TestDirectOrdersPassThrough(t *testing.T) {
	h := newHarness(t, 10_000, flat(2, 50))
	handler := &scripted{}
	handler.steps = map[int]func() error{
		0: func() error {
			return h.strat.Broker().PlaceOrder(broker.NewMarketOrder(broker.Buy, "CL", 1, false))
		},
	}
	h.strat.SetHandler(handler)
	h.run(t)

	require.Len(t, handler.direct, 1)
	assert.True(t, handler.direct[0].IsFilled())
	assert.Zero(t, handler.enterOk)
}

func TestLiquidate(t *testing.T) {
	h := newHarness(t, 10_000, []ohlc{{50, 51, 49, 50}, {50, 52, 49, 51}, {51, 53, 50, 52}})
	var open, pending *Position
	handler := &scripted{}
	handler.steps = map[int]func() error{
		0: func() (err error) {
			open, err = h.strat.EnterLong("CL", 1, GTC(true))
			if err != nil {
				return err
			}
			pending, err = h.strat.EnterShort("CL", 1, Limit(90), GTC(true))
			return err
		},
	}
	h.strat.SetHandler(handler)
	h.run(t)

	require.True(t, open.IsOpen())
	require.NoError(t, h.strat.Liquidate())

	assert.True(t, open.ExitFilled())
	assert.Equal(t, 52.0, open.ExitOrder().Execution().Price, "liquidation fills on the last close")
	assert.True(t, pending.EntryOrder().IsCanceled())
	assert.Empty(t, h.strat.ActivePositions())
	assert.Equal(t, 0, h.broker.Shares("CL"))
	assert.InDelta(t, 10_000+(52-50)*10, h.broker.Cash(), 1e-9)
}

func TestObserverOrder(t *testing.T) {
	h := newHarness(t, 10_000, flat(1, 50))
	var calls []string
	h.strat.SubscribeBeforeBars(func(models.BarSet) error { calls = append(calls, "before"); return nil })
	h.strat.SubscribeBarsProcessed(func(models.BarSet) error { calls = append(calls, "after"); return nil })
	h.strat.SetHandler(&scripted{steps: map[int]func() error{
		0: func() error { calls = append(calls, "handler"); return nil },
	}})
	h.run(t)
	assert.Equal(t, []string{"before", "handler", "after"}, calls)
}

func TestHandlerErrorStopsRun(t *testing.T) {
	h := newHarness(t, 10_000, flat(3, 50))
	boom := errors.New("boom")
	h.strat.SetHandler(&scripted{steps: map[int]func() error{1: func() error { return boom }}})
	err := h.mf.Run(context.Background(), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, boom)
}

func TestPositionProfitRequiresFills(t *testing.T) {
	h := newHarness(t, 10_000, flat(1, 50))
	p, err := h.strat.EnterLong("CL", 1)
	require.NoError(t, err)

	_, err = p.NetProfit(true)
	assert.ErrorIs(t, err, apperrors.ErrPositionNotOpen)
	_, err = p.Return(false)
	assert.ErrorIs(t, err, apperrors.ErrPositionNotOpen)
	assert.Equal(t, "LONG 1 CL", p.String())
}
