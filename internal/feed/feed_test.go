package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return start.AddDate(0, 0, n) }

// barsOn builds one flat-ish bar per day offset, closing at 100+offset.
func barsOn(offsets ...int) []models.Bar {
	out := make([]models.Bar, len(offsets))
	for i, d := range offsets {
		c := 100 + float64(d)
		out[i] = models.MustBar(day(d), c, c+1, c-1, c)
	}
	return out
}

func newTestFeed(t *testing.T, symbol string, offsets ...int) *Feed {
	t.Helper()
	f, err := New(models.Instrument{Symbol: symbol, PointValue: 1}, barsOn(offsets...))
	require.NoError(t, err)
	return f
}

func TestFeedRejectsDuplicateTimestamps(t *testing.T) {
	_, err := New(models.Instrument{Symbol: "CL"}, barsOn(0, 1, 1))
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateTimestamp))

	var de *apperrors.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "CL", de.Symbol)
}

func TestFeedSetCursor(t *testing.T) {
	f := newTestFeed(t, "CL", 0, 2, 4)

	f.SetCursor(day(1))
	next, ok := f.NextBarDate()
	require.True(t, ok)
	assert.Equal(t, day(2), next)

	f.SetCursor(day(4))
	next, _ = f.NextBarDate()
	assert.Equal(t, day(4), next)

	f.SetCursor(day(5))
	_, ok = f.NextBarDate()
	assert.False(t, ok, "cursor past the last bar means exhausted")

	f.SetCursor(time.Time{})
	assert.Equal(t, 0, f.Cursor())
	assert.Equal(t, []time.Time{day(0), day(2), day(4)}, f.Dates())
}

func TestFeedAdvanceAndLastClose(t *testing.T) {
	f := newTestFeed(t, "CL", 0, 1)

	assert.Equal(t, 0.0, f.LastClose(), "no bar consumed yet")
	_, ok := f.LastBar()
	assert.False(t, ok)

	b, ok := f.Advance()
	require.True(t, ok)
	assert.Equal(t, 100.0, b.Close())
	assert.Equal(t, 100.0, f.LastClose())

	_, ok = f.Advance()
	require.True(t, ok)
	_, ok = f.Advance()
	assert.False(t, ok)
	assert.Equal(t, 101.0, f.LastClose())
}

func TestFeedSkippedBarsAreNotConsumed(t *testing.T) {
	f := newTestFeed(t, "CL", 0, 1, 2)

	f.SetCursor(day(2))
	assert.Equal(t, 0.0, f.LastClose(), "skipped bars were never emitted")
	_, ok := f.LastBar()
	assert.False(t, ok)

	b, ok := f.Advance()
	require.True(t, ok)
	assert.Equal(t, day(2), b.Timestamp())
	last, ok := f.LastBar()
	require.True(t, ok)
	assert.Equal(t, day(2), last.Timestamp())
	assert.Equal(t, 102.0, f.LastClose())

	f.SetCursor(time.Time{})
	assert.Equal(t, 0.0, f.LastClose(), "rewinding forgets the consumed bar")
}

func TestFeedDerivedSeries(t *testing.T) {
	f := newTestFeed(t, "CL", 0, 1, 2)

	err := f.AddSeries("short", []float64{1, 2})
	assert.True(t, errors.Is(err, apperrors.ErrSeriesLength))

	require.NoError(t, f.AddSeries("short", []float64{1, 2, 3}))
	assert.True(t, errors.Is(f.AddSeries("short", []float64{1, 2, 3}), apperrors.ErrDuplicateSeries))
	assert.True(t, errors.Is(f.AddSeries(SeriesClose, []float64{1, 2, 3}), apperrors.ErrDuplicateSeries))

	_, err = f.Series("rsi")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownSeries))

	closes, err := f.Series(SeriesClose)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102}, closes)

	f.Advance()
	b, _ := f.Advance()
	v, ok := b.Value("short")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

type constIndicator struct {
	name string
	n    int
}

func (c constIndicator) Name() string { return c.name }

func (c constIndicator) Calculate(f *Feed) ([]float64, error) {
	out := make([]float64, c.n)
	for i := range out {
		out[i] = 7
	}
	return out, nil
}

func TestFeedInsertIndicator(t *testing.T) {
	f := newTestFeed(t, "CL", 0, 1)
	require.NoError(t, f.Insert(constIndicator{name: "seven", n: 2}))
	assert.Equal(t, []string{"seven"}, f.SeriesNames())

	err := f.Insert(constIndicator{name: "short", n: 5})
	assert.True(t, errors.Is(err, apperrors.ErrSeriesLength))
}
