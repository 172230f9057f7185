// Package indicators computes derived series that are attached to feeds.
// Values before an indicator has enough history are NaN.
package indicators

import (
	"math"

	"hedge-backtester/internal/feed"
)

// SMA calculates a Simple Moving Average of a base series.
type SMA struct {
	name   string
	source string
	period int
}

// NewSMA creates an SMA over closes, attached under name.
func NewSMA(name string, period int) *SMA {
	return &SMA{name: name, source: feed.SeriesClose, period: period}
}

func (s *SMA) Name() string { return s.name }

func (s *SMA) Period() int { return s.period }

func (s *SMA) Calculate(f *feed.Feed) ([]float64, error) {
	if s.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	values, err := f.Series(s.source)
	if err != nil {
		return nil, err
	}

	result := nanSeries(len(values))
	if len(values) < s.period {
		return result, nil
	}
	window := sum(values[:s.period])
	result[s.period-1] = window / float64(s.period)
	for i := s.period; i < len(values); i++ {
		window += values[i] - values[i-s.period]
		result[i] = window / float64(s.period)
	}
	return result, nil
}

// Max is the rolling maximum of closes over period bars, including the current bar.
type Max struct {
	name   string
	period int
}

// NewMax creates a rolling maximum attached under name.
func NewMax(name string, period int) *Max {
	return &Max{name: name, period: period}
}

func (m *Max) Name() string { return m.name }

func (m *Max) Calculate(f *feed.Feed) ([]float64, error) {
	return rolling(f, m.period, math.Max)
}

// Min is the rolling minimum of closes over period bars, including the current bar.
type Min struct {
	name   string
	period int
}

// NewMin creates a rolling minimum attached under name.
func NewMin(name string, period int) *Min {
	return &Min{name: name, period: period}
}

func (m *Min) Name() string { return m.name }

func (m *Min) Calculate(f *feed.Feed) ([]float64, error) {
	return rolling(f, m.period, math.Min)
}

func rolling(f *feed.Feed, period int, pick func(a, b float64) float64) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	closes, err := f.Series(feed.SeriesClose)
	if err != nil {
		return nil, err
	}
	result := nanSeries(len(closes))
	for i := period - 1; i < len(closes); i++ {
		v := closes[i-period+1]
		for _, c := range closes[i-period+2 : i+1] {
			v = pick(v, c)
		}
		result[i] = v
	}
	return result, nil
}
