package models

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "hedge-backtester/internal/errors"
)

// Bar is one period's OHLC record for one instrument. It is immutable once built.
type Bar struct {
	timestamp    time.Time
	open         float64
	high         float64
	low          float64
	close        float64
	volume       float64
	openInterest float64
	values       map[string]float64
}

// BarOption sets optional bar fields at construction time.
type BarOption func(*Bar)

// WithVolume sets the bar volume.
func WithVolume(v float64) BarOption {
	return func(b *Bar) { b.volume = v }
}

// WithOpenInterest sets the bar open interest.
func WithOpenInterest(v float64) BarOption {
	return func(b *Bar) { b.openInterest = v }
}

// WithValue attaches a named auxiliary scalar, typically an indicator output.
func WithValue(name string, v float64) BarOption {
	return func(b *Bar) {
		if b.values == nil {
			b.values = make(map[string]float64)
		}
		b.values[name] = v
	}
}

// NewBar validates low <= open,close <= high and builds a Bar.
func NewBar(ts time.Time, open, high, low, close float64, opts ...BarOption) (Bar, error) {
	if low > open || low > close || high < open || high < close || low > high {
		return Bar{}, apperrors.Wrapf(apperrors.ErrInvalidBar,
			"%s open=%v high=%v low=%v close=%v", ts.Format("2006-01-02"), open, high, low, close)
	}
	b := Bar{
		timestamp: ts,
		open:      open,
		high:      high,
		low:       low,
		close:     close,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b, nil
}

// MustBar is NewBar for literals known to be valid. It panics otherwise.
func MustBar(ts time.Time, open, high, low, close float64, opts ...BarOption) Bar {
	b, err := NewBar(ts, open, high, low, close, opts...)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Bar) Timestamp() time.Time  { return b.timestamp }
func (b Bar) Open() float64         { return b.open }
func (b Bar) High() float64         { return b.high }
func (b Bar) Low() float64          { return b.low }
func (b Bar) Close() float64        { return b.close }
func (b Bar) Volume() float64       { return b.volume }
func (b Bar) OpenInterest() float64 { return b.openInterest }

// Value returns a named auxiliary value. ok is false when the bar has no such field.
func (b Bar) Value(name string) (v float64, ok bool) {
	v, ok = b.values[name]
	return v, ok
}

// Names returns the auxiliary field names in sorted order.
func (b Bar) Names() []string {
	names := make([]string, 0, len(b.values))
	for n := range b.values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WithValues returns a copy of the bar with the given auxiliary values merged in.
func (b Bar) WithValues(values map[string]float64) Bar {
	if len(values) == 0 {
		return b
	}
	merged := make(map[string]float64, len(b.values)+len(values))
	for k, v := range b.values {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	b.values = merged
	return b
}

// HasNaN reports whether any auxiliary value is NaN, i.e. an indicator is still warming up.
func (b Bar) HasNaN() bool {
	for _, v := range b.values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func (b Bar) String() string {
	return fmt.Sprintf("%s O=%.4f H=%.4f L=%.4f C=%.4f", b.timestamp.Format("2006-01-02"), b.open, b.high, b.low, b.close)
}

// BarSet holds the bars of several instruments that share one timestamp.
type BarSet struct {
	timestamp time.Time
	bars      map[string]Bar
}

// NewBarSet creates an empty bar set for the given timestamp.
func NewBarSet(ts time.Time) BarSet {
	return BarSet{timestamp: ts, bars: make(map[string]Bar)}
}

// Add inserts a bar. It fails on a timestamp mismatch or a repeated symbol.
func (s *BarSet) Add(symbol string, bar Bar) error {
	if !bar.Timestamp().Equal(s.timestamp) {
		return apperrors.Wrapf(apperrors.ErrBarSetTimestamp, "%s at %s", symbol, bar.Timestamp())
	}
	if _, exists := s.bars[symbol]; exists {
		return apperrors.Wrapf(apperrors.ErrDuplicateSymbol, "%s", symbol)
	}
	if s.bars == nil {
		s.bars = make(map[string]Bar)
	}
	s.bars[symbol] = bar
	return nil
}

func (s BarSet) Timestamp() time.Time { return s.timestamp }

func (s BarSet) Len() int { return len(s.bars) }

// Bar returns the bar for symbol, if the symbol traded at this timestamp.
func (s BarSet) Bar(symbol string) (Bar, bool) {
	b, ok := s.bars[symbol]
	return b, ok
}

// Has reports whether symbol traded at this timestamp.
func (s BarSet) Has(symbol string) bool {
	_, ok := s.bars[symbol]
	return ok
}

// Symbols returns the symbols in the set, sorted.
func (s BarSet) Symbols() []string {
	syms := make([]string, 0, len(s.bars))
	for sym := range s.bars {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// BarsHandler receives each emitted BarSet. A non-nil error stops the replay.
type BarsHandler func(BarSet) error
