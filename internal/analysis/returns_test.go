package analysis

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-backtester/internal/models"
)

type fakeAccount struct{ equity float64 }

func (f *fakeAccount) Equity() float64 { return f.equity }

func TestReturnsCurveAndDrawdown(t *testing.T) {
	acct := &fakeAccount{equity: 1000}
	r := NewReturns(acct)

	for i, eq := range []float64{1100, 990, 1210} {
		acct.equity = eq
		require.NoError(t, r.OnBars(models.NewBarSet(date(2024, 1, 1+i))))
	}

	assert.InDeltaSlice(t, []float64{0.1, -0.1, 2.0 / 9}, r.Returns(), 1e-12)
	assert.InDelta(t, 0.21, r.CumulativeReturn(), 1e-12)
	assert.InDeltaSlice(t, []float64{0.1, -0.01, 0.21}, r.CumulativeReturns(), 1e-12)
	assert.InDelta(t, 0.1, r.MaxDrawdown(), 1e-12)

	curve := r.EquityCurve()
	require.Len(t, curve, 3)
	assert.Equal(t, date(2024, 1, 3), curve[2].Timestamp)
	assert.Equal(t, 1210.0, curve[2].Equity)
}

func TestReturnsRebase(t *testing.T) {
	acct := &fakeAccount{equity: 1000}
	r := NewReturns(acct)
	acct.equity = 500
	r.Record(date(2024, 1, 1))
	require.NotZero(t, r.MaxDrawdown())

	r.Rebase()
	assert.Empty(t, r.EquityCurve())
	assert.Zero(t, r.MaxDrawdown())
	acct.equity = 550
	r.Record(date(2024, 1, 2))
	assert.InDelta(t, 0.1, r.CumulativeReturn(), 1e-12)
}

func TestSharpeRatio(t *testing.T) {
	assert.Zero(t, SharpeRatio(nil, 0, TradingDaysPerYear))
	assert.Zero(t, SharpeRatio([]float64{0.01, 0.01, 0.01}, 0, TradingDaysPerYear))

	got := SharpeRatio([]float64{0.01, -0.01}, 0, TradingDaysPerYear)
	assert.Zero(t, got)

	got = SharpeRatio([]float64{0.02, 0}, 0, 4)
	assert.InDelta(t, 1.0*2, got, 1e-12)
}

// Property: compounding the per-bar returns reproduces final/initial equity.
func TestProperty_CumulativeReturnMatchesEquity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("Cumulative return equals final over initial equity", prop.ForAll(
		func(path []float64) bool {
			acct := &fakeAccount{equity: 1000}
			r := NewReturns(acct)
			for i, eq := range path {
				acct.equity = eq
				r.Record(date(2024, 1, 1).AddDate(0, 0, i))
			}
			want := acct.equity/1000 - 1
			return math.Abs(r.CumulativeReturn()-want) < 1e-9
		},
		gen.SliceOf(gen.Float64Range(100, 10000)),
	))

	properties.TestingRun(t)
}
