package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var groupedAmount = regexp.MustCompile(`^-?\d{1,3}(,\d{3})*\.\d{2}$`)

// For any amount, FormatCurrency groups digits by thousands, keeps two
// decimals and reads back to the amount rounded to cents.
func TestCurrencyFormattingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatCurrency groups thousands", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatCurrency(amount)
			if !groupedAmount.MatchString(formatted) {
				t.Logf("bad grouping for %f: %s", amount, formatted)
				return false
			}
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(formatted, ",", ""), 64)
			if err != nil {
				return false
			}
			return math.Abs(parsed-amount) <= 0.005+1e-9*math.Abs(amount)
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatPnL signs non-zero amounts", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatPnL(amount)
			switch {
			case amount >= 0.005:
				return strings.HasPrefix(formatted, "+")
			case amount <= -0.005:
				return strings.HasPrefix(formatted, "-")
			}
			return formatted == "0.00"
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("FormatPercent keeps two decimals", prop.ForAll(
		func(pct float64) bool {
			formatted := FormatPercent(pct)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			parts := strings.Split(strings.TrimSuffix(formatted, "%"), ".")
			return len(parts) == 2 && len(parts[1]) == 2
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("FormatQuantity round-trips", prop.ForAll(
		func(qty int64) bool {
			parsed, err := strconv.ParseInt(strings.ReplaceAll(FormatQuantity(qty), ",", ""), 10, 64)
			return err == nil && parsed == qty
		},
		gen.Int64Range(-1e12, 1e12),
	))

	properties.TestingRun(t)
}

func TestFormatExamples(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatCurrency(0), "0.00"},
		{FormatCurrency(999.999), "1,000.00"},
		{FormatCurrency(1234567.891), "1,234,567.89"},
		{FormatCurrency(-100000), "-100,000.00"},
		{FormatCurrency(-0.001), "0.00"},
		{FormatPnL(46), "+46.00"},
		{FormatPnL(-12.5), "-12.50"},
		{FormatPercent(0.46), "+0.46%"},
		{FormatPercent(-3), "-3.00%"},
		{FormatQuantity(-1500), "-1,500"},
		{FormatCompact(2500000), "2.50M"},
		{FormatCompact(12000), "12.0K"},
		{FormatCompact(950), "950.00"},
		{FormatPrice(104.5), "104.50"},
		{FormatPrice(1.23456), "1.2346"},
		{FormatDate(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), ""), "2024-03-05"},
		{FormatDate(time.Time{}, ""), "-"},
		{FormatDuration(1500 * time.Millisecond), "1.5s"},
		{FormatDuration(90 * time.Second), "1m 30s"},
		{TruncateString("breakout-long", 8), "break..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "+46.00", stripANSI("\x1b[32m+46.00\x1b[0m"))
	assert.Equal(t, 6, visibleLen("\x1b[1;31m-12.50\x1b[0m"))
}
