package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

// MultiFeed advances one Feed per symbol in lockstep by date.
//
// Subscribers are invoked synchronously in subscription order. The broker must
// subscribe before the strategy so fills are attributed to the bar that caused them.
type MultiFeed struct {
	feeds    map[string]*Feed
	symbols  []string
	handlers []models.BarsHandler
	current  models.BarSet
	emitted  bool
	logger   zerolog.Logger
}

// NewMultiFeed creates an empty MultiFeed.
func NewMultiFeed(logger zerolog.Logger) *MultiFeed {
	return &MultiFeed{
		feeds:  make(map[string]*Feed),
		logger: logger,
	}
}

// Register adds a feed. A second feed for the same symbol fails.
func (m *MultiFeed) Register(f *Feed) error {
	sym := f.Symbol()
	if _, exists := m.feeds[sym]; exists {
		return apperrors.NewDataError("feed", sym, "register", apperrors.ErrDuplicateFeed)
	}
	m.feeds[sym] = f
	m.symbols = append(m.symbols, sym)
	return nil
}

// Feed returns the registered feed for symbol.
func (m *MultiFeed) Feed(symbol string) (*Feed, error) {
	f, ok := m.feeds[symbol]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "feed %s", symbol)
	}
	return f, nil
}

// Symbols returns the registered symbols in registration order.
func (m *MultiFeed) Symbols() []string {
	out := make([]string, len(m.symbols))
	copy(out, m.symbols)
	return out
}

// Subscribe appends a handler for emitted bar sets.
func (m *MultiFeed) Subscribe(h models.BarsHandler) {
	m.handlers = append(m.handlers, h)
}

// SetCursor positions every feed at its first bar on or after t.
func (m *MultiFeed) SetCursor(t time.Time) {
	for _, sym := range m.symbols {
		m.feeds[sym].SetCursor(t)
	}
}

// NextBarsDate returns the earliest pending timestamp over all feeds.
func (m *MultiFeed) NextBarsDate() (time.Time, bool) {
	var next time.Time
	found := false
	for _, sym := range m.symbols {
		t, ok := m.feeds[sym].NextBarDate()
		if !ok {
			continue
		}
		if !found || t.Before(next) {
			next = t
			found = true
		}
	}
	return next, found
}

// Step emits the next bar set. It returns false once every feed is exhausted.
func (m *MultiFeed) Step() (bool, error) {
	next, ok := m.NextBarsDate()
	if !ok {
		return false, nil
	}
	set := models.NewBarSet(next)
	for _, sym := range m.symbols {
		f := m.feeds[sym]
		t, ok := f.NextBarDate()
		if !ok || !t.Equal(next) {
			continue
		}
		bar, _ := f.Advance()
		if err := set.Add(sym, bar); err != nil {
			return false, err
		}
	}
	m.current = set
	m.emitted = true

	for _, h := range m.handlers {
		if err := h(set); err != nil {
			return false, apperrors.Wrapf(err, "bars %s", next.Format("2006-01-02"))
		}
	}
	return true, nil
}

// Run replays bars with timestamps in [first, last]. A zero first starts at
// the current cursor; a zero last runs until every feed is exhausted.
func (m *MultiFeed) Run(ctx context.Context, first, last time.Time) error {
	if !first.IsZero() {
		m.SetCursor(first)
	}
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, ok := m.NextBarsDate()
		if !ok || (!last.IsZero() && next.After(last)) {
			break
		}
		if _, err := m.Step(); err != nil {
			return err
		}
		count++
	}
	m.logger.Debug().Int("bar_sets", count).Msg("Replay finished")
	return nil
}

// CurrentBars returns the most recently emitted bar set.
func (m *MultiFeed) CurrentBars() (models.BarSet, bool) {
	return m.current, m.emitted
}

// LastBar returns the most recently consumed bar of symbol, even if the symbol
// did not trade on the current date.
func (m *MultiFeed) LastBar(symbol string) (models.Bar, bool) {
	f, ok := m.feeds[symbol]
	if !ok {
		return models.Bar{}, false
	}
	return f.LastBar()
}
