package trading

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"hedge-backtester/internal/store"
)

// calculateMetrics derives trade statistics and returns from the trade log
// and equity curve.
func calculateMetrics(result *BacktestResult) {
	result.TotalTrades = len(result.Trades)

	if result.StartEquity > 0 {
		result.TotalReturn = (result.FinalEquity - result.StartEquity) / result.StartEquity * 100
		if n := len(result.EquityCurve); n > 1 {
			days := result.EquityCurve[n-1].Timestamp.Sub(result.EquityCurve[0].Timestamp).Hours() / 24
			if days > 0 && result.FinalEquity > 0 {
				years := days / 365
				annual := (math.Pow(result.FinalEquity/result.StartEquity, 1/years) - 1) * 100
				if !math.IsInf(annual, 0) && !math.IsNaN(annual) {
					result.AnnualizedReturn = annual
				}
			}
		}
	}

	if result.TotalTrades == 0 {
		return
	}

	var totalWins, totalLosses float64
	for _, trade := range result.Trades {
		switch {
		case trade.NetProfit > 0:
			result.WinningTrades++
			totalWins += trade.NetProfit
		case trade.NetProfit < 0:
			result.LosingTrades++
			totalLosses += trade.NetProfit
		default:
			result.EvenTrades++
		}
	}

	result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	if result.WinningTrades > 0 {
		result.AvgWin = totalWins / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AvgLoss = totalLosses / float64(result.LosingTrades)
		result.ProfitFactor = totalWins / math.Abs(totalLosses)
	}
}

// GenerateEquityCurveASCII renders the equity curve as a terminal chart.
func GenerateEquityCurveASCII(result *BacktestResult, width, height int) string {
	if len(result.EquityCurve) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	minEquity := result.EquityCurve[0].Equity
	maxEquity := result.EquityCurve[0].Equity
	for _, point := range result.EquityCurve {
		minEquity = math.Min(minEquity, point.Equity)
		maxEquity = math.Max(maxEquity, point.Equity)
	}

	equityRange := maxEquity - minEquity
	if equityRange == 0 {
		equityRange = 1
	}
	minEquity -= equityRange * 0.05
	maxEquity += equityRange * 0.05
	equityRange = maxEquity - minEquity

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	// Sample points to fit width
	step := len(result.EquityCurve) / width
	if step == 0 {
		step = 1
	}
	for x := 0; x < width && x*step < len(result.EquityCurve); x++ {
		point := result.EquityCurve[x*step]
		y := int((point.Equity - minEquity) / equityRange * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	first := result.EquityCurve[0].Timestamp.Format("2006-01-02")
	last := result.EquityCurve[len(result.EquityCurve)-1].Timestamp.Format("2006-01-02")

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity Curve %s to %s (%.0f - %.0f)\n", first, last, minEquity, maxEquity))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteString("│\n")
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	return sb.String()
}

// CompareStrategies ranks results by Sharpe ratio, best first.
func CompareStrategies(results map[string]*BacktestResult) []StrategyComparison {
	comparisons := make([]StrategyComparison, 0, len(results))
	for name, result := range results {
		comparisons = append(comparisons, StrategyComparison{
			Strategy:         name,
			TotalReturn:      result.TotalReturn,
			AnnualizedReturn: result.AnnualizedReturn,
			WinRate:          result.WinRate,
			MaxDrawdown:      result.MaxDrawdown,
			SharpeRatio:      result.SharpeRatio,
			TotalTrades:      result.TotalTrades,
			ProfitFactor:     result.ProfitFactor,
		})
	}

	sort.Slice(comparisons, func(i, j int) bool {
		if comparisons[i].SharpeRatio == comparisons[j].SharpeRatio {
			return comparisons[i].Strategy < comparisons[j].Strategy
		}
		return comparisons[i].SharpeRatio > comparisons[j].SharpeRatio
	})
	return comparisons
}

// SaveResult persists the run summary and its trades, returning the run id.
func SaveResult(ctx context.Context, runs store.RunStore, result *BacktestResult) (string, error) {
	record := result.RunRecord()
	if err := runs.SaveRun(ctx, &record, result.Trades); err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}
	return record.ID, nil
}
