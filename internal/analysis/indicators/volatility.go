package indicators

import (
	"hedge-backtester/internal/feed"
)

// ATR calculates the Average True Range with Wilder smoothing.
type ATR struct {
	name   string
	period int
}

// NewATR creates a new ATR indicator attached under name.
func NewATR(name string, period int) *ATR {
	return &ATR{name: name, period: period}
}

func (a *ATR) Name() string { return a.name }

func (a *ATR) Period() int { return a.period }

func (a *ATR) Calculate(f *feed.Feed) ([]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	highs, err := f.Series(feed.SeriesHigh)
	if err != nil {
		return nil, err
	}
	lows, _ := f.Series(feed.SeriesLow)
	closes, _ := f.Series(feed.SeriesClose)

	n := len(closes)
	result := nanSeries(n)
	if n < a.period {
		return result, nil
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = trueRange(highs[i], lows[i], closes[i-1])
	}

	// First ATR is SMA of TR
	result[a.period-1] = mean(tr[:a.period])
	for i := a.period; i < n; i++ {
		result[i] = (result[i-1]*float64(a.period-1) + tr[i]) / float64(a.period)
	}
	return result, nil
}
