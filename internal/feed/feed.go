// Package feed replays historical bars, one instrument per Feed and many
// instruments in lockstep through a MultiFeed.
package feed

import (
	"sort"
	"time"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

// Base series names. Derived series may use any other name.
const (
	SeriesOpen         = "open"
	SeriesHigh         = "high"
	SeriesLow          = "low"
	SeriesClose        = "close"
	SeriesVolume       = "volume"
	SeriesOpenInterest = "open_interest"
)

var baseSeries = map[string]bool{
	SeriesOpen: true, SeriesHigh: true, SeriesLow: true,
	SeriesClose: true, SeriesVolume: true, SeriesOpenInterest: true,
}

// Indicator computes a derived series aligned with a feed's bars.
type Indicator interface {
	Name() string
	Calculate(f *Feed) ([]float64, error)
}

// Feed is one instrument's chronological bar sequence with a read cursor.
type Feed struct {
	instrument models.Instrument
	bars       []models.Bar
	derived    map[string][]float64
	names      []string
	cursor     int
	consumed   int // index of the last bar returned by Advance, -1 if none
}

// New creates a feed. Timestamps must be strictly increasing.
func New(instrument models.Instrument, bars []models.Bar) (*Feed, error) {
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Timestamp(), bars[i].Timestamp()
		if cur.Equal(prev) {
			return nil, apperrors.NewDataError("feed", instrument.Symbol,
				"duplicate timestamp "+cur.Format("2006-01-02"), apperrors.ErrDuplicateTimestamp)
		}
		if cur.Before(prev) {
			return nil, apperrors.NewDataError("feed", instrument.Symbol,
				"bars out of order at "+cur.Format("2006-01-02"), apperrors.ErrInvalidBar)
		}
	}
	owned := make([]models.Bar, len(bars))
	copy(owned, bars)
	return &Feed{
		instrument: instrument,
		bars:       owned,
		derived:    make(map[string][]float64),
		consumed:   -1,
	}, nil
}

func (f *Feed) Symbol() string { return f.instrument.Symbol }

func (f *Feed) Instrument() models.Instrument { return f.instrument }

// Len returns the number of bars.
func (f *Feed) Len() int { return len(f.bars) }

// Cursor returns the index of the next unread bar.
func (f *Feed) Cursor() int { return f.cursor }

// Dates returns the bar timestamps.
func (f *Feed) Dates() []time.Time {
	out := make([]time.Time, len(f.bars))
	for i, b := range f.bars {
		out[i] = b.Timestamp()
	}
	return out
}

// Series returns a copy of a base or derived series.
func (f *Feed) Series(name string) ([]float64, error) {
	if vals, ok := f.derived[name]; ok {
		out := make([]float64, len(vals))
		copy(out, vals)
		return out, nil
	}
	var pick func(models.Bar) float64
	switch name {
	case SeriesOpen:
		pick = models.Bar.Open
	case SeriesHigh:
		pick = models.Bar.High
	case SeriesLow:
		pick = models.Bar.Low
	case SeriesClose:
		pick = models.Bar.Close
	case SeriesVolume:
		pick = models.Bar.Volume
	case SeriesOpenInterest:
		pick = models.Bar.OpenInterest
	default:
		return nil, apperrors.NewDataError("feed", f.Symbol(), "series "+name, apperrors.ErrUnknownSeries)
	}
	out := make([]float64, len(f.bars))
	for i, b := range f.bars {
		out[i] = pick(b)
	}
	return out, nil
}

// SeriesNames returns the derived series names in attach order.
func (f *Feed) SeriesNames() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// AddSeries attaches a derived series. Its length must equal the bar count.
func (f *Feed) AddSeries(name string, values []float64) error {
	if len(values) != len(f.bars) {
		return apperrors.NewDataError("feed", f.Symbol(), "series "+name, apperrors.Wrapf(apperrors.ErrSeriesLength,
			"got %d values for %d bars", len(values), len(f.bars)))
	}
	if _, exists := f.derived[name]; exists || baseSeries[name] {
		return apperrors.NewDataError("feed", f.Symbol(), "series "+name, apperrors.ErrDuplicateSeries)
	}
	owned := make([]float64, len(values))
	copy(owned, values)
	f.derived[name] = owned
	f.names = append(f.names, name)
	return nil
}

// Insert computes an indicator over the feed and attaches the result under the indicator's name.
func (f *Feed) Insert(ind Indicator) error {
	vals, err := ind.Calculate(f)
	if err != nil {
		return apperrors.Wrapf(err, "calculating %s for %s", ind.Name(), f.Symbol())
	}
	return f.AddSeries(ind.Name(), vals)
}

// SetCursor moves the cursor to the first bar at or after t, or to the end.
// A zero t rewinds to the first bar. Skipped bars do not count as consumed.
func (f *Feed) SetCursor(t time.Time) {
	f.consumed = -1
	if t.IsZero() {
		f.cursor = 0
		return
	}
	f.cursor = sort.Search(len(f.bars), func(i int) bool {
		return !f.bars[i].Timestamp().Before(t)
	})
}

// NextBarDate returns the timestamp of the next unread bar.
func (f *Feed) NextBarDate() (time.Time, bool) {
	if f.cursor >= len(f.bars) {
		return time.Time{}, false
	}
	return f.bars[f.cursor].Timestamp(), true
}

// Advance returns the bar under the cursor, with derived values attached, and moves the cursor forward.
func (f *Feed) Advance() (models.Bar, bool) {
	if f.cursor >= len(f.bars) {
		return models.Bar{}, false
	}
	bar := f.barAt(f.cursor)
	f.consumed = f.cursor
	f.cursor++
	return bar, true
}

// LastBar returns the most recently consumed bar.
func (f *Feed) LastBar() (models.Bar, bool) {
	if f.consumed < 0 {
		return models.Bar{}, false
	}
	return f.barAt(f.consumed), true
}

// LastClose returns the close of the most recently consumed bar, or 0 before any bar is consumed.
func (f *Feed) LastClose() float64 {
	if f.consumed < 0 {
		return 0
	}
	return f.bars[f.consumed].Close()
}

func (f *Feed) barAt(i int) models.Bar {
	if len(f.names) == 0 {
		return f.bars[i]
	}
	values := make(map[string]float64, len(f.names))
	for _, n := range f.names {
		values[n] = f.derived[n][i]
	}
	return f.bars[i].WithValues(values)
}
