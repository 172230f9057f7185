package analysis

import (
	"math"
	"time"

	"hedge-backtester/internal/models"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// EquitySource is anything that can value an account.
type EquitySource interface {
	Equity() float64
}

// Returns samples account equity once per bar set and derives per-bar and
// cumulative returns, drawdown and the Sharpe ratio.
type Returns struct {
	source      EquitySource
	last        float64
	netReturn   float64
	cumReturn   float64
	curve       []models.EquityPoint
	returns     []float64
	cumulative  []float64
	peak        float64
	maxDrawdown float64
}

// NewReturns starts measuring from the source's current equity.
func NewReturns(source EquitySource) *Returns {
	r := &Returns{source: source}
	r.Rebase()
	return r
}

// Rebase discards history and measures from the current equity.
func (r *Returns) Rebase() {
	r.last = r.source.Equity()
	r.peak = r.last
	r.netReturn, r.cumReturn, r.maxDrawdown = 0, 0, 0
	r.curve = nil
	r.returns = nil
	r.cumulative = nil
}

// OnBars samples equity at the bar set's timestamp. Subscribe it to the
// strategy's bars-processed event so fills of the bar are included.
func (r *Returns) OnBars(bars models.BarSet) error {
	r.Record(bars.Timestamp())
	return nil
}

// Record samples equity at ts.
func (r *Returns) Record(ts time.Time) {
	equity := r.source.Equity()
	var net float64
	if r.last != 0 {
		net = (equity - r.last) / r.last
	}
	r.last = equity
	r.netReturn = net
	r.cumReturn = (1+r.cumReturn)*(1+net) - 1

	r.curve = append(r.curve, models.EquityPoint{Timestamp: ts, Equity: equity})
	r.returns = append(r.returns, net)
	r.cumulative = append(r.cumulative, r.cumReturn)

	if equity > r.peak {
		r.peak = equity
	}
	if r.peak > 0 {
		if dd := (r.peak - equity) / r.peak; dd > r.maxDrawdown {
			r.maxDrawdown = dd
		}
	}
}

// NetReturn is the return of the last sampled bar.
func (r *Returns) NetReturn() float64 { return r.netReturn }

// CumulativeReturn compounds every sampled return.
func (r *Returns) CumulativeReturn() float64 { return r.cumReturn }

func (r *Returns) Returns() []float64 { return append([]float64(nil), r.returns...) }

func (r *Returns) CumulativeReturns() []float64 { return append([]float64(nil), r.cumulative...) }

func (r *Returns) EquityCurve() []models.EquityPoint {
	return append([]models.EquityPoint(nil), r.curve...)
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the peak.
func (r *Returns) MaxDrawdown() float64 { return r.maxDrawdown }

// SharpeRatio annualizes mean excess return over its standard deviation.
// annualRiskFree is a yearly rate; periodsPerYear is usually TradingDaysPerYear.
func (r *Returns) SharpeRatio(annualRiskFree float64, periodsPerYear int) float64 {
	return SharpeRatio(r.returns, annualRiskFree, periodsPerYear)
}

// SharpeRatio computes the annualized Sharpe ratio of periodic returns.
func SharpeRatio(returns []float64, annualRiskFree float64, periodsPerYear int) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}

	var mean float64
	for _, v := range returns {
		mean += v
	}
	mean /= float64(len(returns))

	var variance float64
	for _, v := range returns {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	riskFree := annualRiskFree / float64(periodsPerYear)
	return (mean - riskFree) / stdDev * math.Sqrt(float64(periodsPerYear))
}
