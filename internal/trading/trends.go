package trading

import (
	"sort"

	"hedge-backtester/internal/analysis/indicators"
	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/feed"
	"hedge-backtester/internal/models"
	"hedge-backtester/internal/strategy"
)

// Strategy names accepted by NewDecision.
const (
	StrategyBreakout = "breakout"
	StrategyMACross  = "macross"
)

var decisions = map[string]func(*strategy.Strategy, Params) Decision{
	StrategyBreakout: func(s *strategy.Strategy, p Params) Decision { return NewBreakout(s, p) },
	StrategyMACross:  func(s *strategy.Strategy, p Params) Decision { return NewMACross(s, p) },
}

// Strategies lists the known strategy names.
func Strategies() []string {
	names := make([]string, 0, len(decisions))
	for name := range decisions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDecision creates the named decision logic on s.
func NewDecision(name string, s *strategy.Strategy, p Params) (Decision, error) {
	create, ok := decisions[name]
	if !ok {
		return nil, apperrors.NewValidationError("strategy", name, "unknown strategy")
	}
	if err := p.Validate(name); err != nil {
		return nil, err
	}
	return create(s, p), nil
}

// Validate checks the parameters used by the named strategy.
func (p Params) Validate(name string) error {
	switch {
	case p.RiskFactor <= 0:
		return apperrors.NewValidationError("risk_factor", p.RiskFactor, "must be positive")
	case p.ATRPeriod <= 0:
		return apperrors.NewValidationError("atr_period", p.ATRPeriod, "must be positive")
	case p.Stop < 0:
		return apperrors.NewValidationError("stop", p.Stop, "must not be negative")
	case p.Limit < 0:
		return apperrors.NewValidationError("limit", p.Limit, "must not be negative")
	case p.LongOnly && p.ShortOnly:
		return apperrors.NewValidationError("long_only", p.LongOnly, "long_only and short_only are exclusive")
	}
	switch name {
	case StrategyBreakout:
		if p.Period <= 0 {
			return apperrors.NewValidationError("period", p.Period, "must be positive")
		}
	case StrategyMACross:
		if p.ShortPeriod <= 0 || p.LongPeriod <= p.ShortPeriod {
			return apperrors.NewValidationError("long_period", p.LongPeriod, "must exceed a positive short_period")
		}
	}
	return nil
}

// Breakout enters when the close makes a new period high (low) while the
// fast average is above (below) the slow one.
type Breakout struct {
	*RiskSized
}

// NewBreakout creates a breakout decision on s.
func NewBreakout(s *strategy.Strategy, p Params) *Breakout {
	b := &Breakout{}
	b.RiskSized = newRiskSized(s, p, b.onSymBar)
	return b
}

func (b *Breakout) Indicators() []feed.Indicator {
	period := b.params.Period
	return append(b.RiskSized.Indicators(),
		indicators.NewSMA(SeriesShortMA, period),
		indicators.NewSMA(SeriesLongMA, 2*period),
		indicators.NewMax(SeriesMax, period),
		indicators.NewMin(SeriesMin, period),
	)
}

func (b *Breakout) onSymBar(symbol string, bar models.Bar) error {
	if b.hasPosition(symbol) {
		return nil
	}
	short := seriesValue(bar, SeriesShortMA)
	long := seriesValue(bar, SeriesLongMA)
	switch {
	case short >= long && bar.Close() >= seriesValue(bar, SeriesMax):
		return b.enterLong(symbol, bar)
	case short <= long && bar.Close() <= seriesValue(bar, SeriesMin):
		return b.enterShort(symbol, bar)
	}
	return nil
}

// MACross stays in the market on the side of the fast average, reversing
// when the averages cross.
type MACross struct {
	*RiskSized
}

// NewMACross creates a moving average crossover decision on s.
func NewMACross(s *strategy.Strategy, p Params) *MACross {
	m := &MACross{}
	m.RiskSized = newRiskSized(s, p, m.onSymBar)
	return m
}

func (m *MACross) Indicators() []feed.Indicator {
	return append(m.RiskSized.Indicators(),
		indicators.NewSMA(SeriesShortMA, m.params.ShortPeriod),
		indicators.NewSMA(SeriesLongMA, m.params.LongPeriod),
	)
}

func (m *MACross) onSymBar(symbol string, bar models.Bar) error {
	short := seriesValue(bar, SeriesShortMA)
	long := seriesValue(bar, SeriesLongMA)
	longPos, shortPos := m.Position(symbol)

	if short >= long {
		if shortPos != nil {
			if err := m.exitMarket(shortPos); err != nil {
				return err
			}
		}
		if longPos == nil {
			return m.enterLong(symbol, bar)
		}
		return nil
	}

	if longPos != nil {
		if err := m.exitMarket(longPos); err != nil {
			return err
		}
	}
	if shortPos == nil {
		return m.enterShort(symbol, bar)
	}
	return nil
}
