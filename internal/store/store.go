// Package store provides bar sources and backtest run persistence.
package store

import (
	"context"
	"time"

	"hedge-backtester/internal/models"
)

// BarSource supplies instrument metadata and validated daily bars.
type BarSource interface {
	Instruments(ctx context.Context) ([]models.Instrument, error)
	Bars(ctx context.Context, symbol string) ([]models.Bar, error)
}

// RunStore persists backtest runs and their trade logs.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.RunRecord, trades []models.TradeRecord) error
	Runs(ctx context.Context, filter RunFilter) ([]models.RunRecord, error)
	Run(ctx context.Context, id string) (*models.RunRecord, error)
	Trades(ctx context.Context, runID string) ([]models.TradeRecord, error)
}

// RunFilter represents filters for querying runs.
type RunFilter struct {
	Strategy string
	Since    time.Time
	Limit    int
}

// BarRange summarizes the stored bars of one symbol.
type BarRange struct {
	Symbol string
	First  time.Time
	Last   time.Time
	Count  int
}

// DateLayouts are the accepted bar date formats, tried in order.
var DateLayouts = []string{"2006-01-02", "20060102"}

// ParseDate parses a bar date in any of DateLayouts.
func ParseDate(s string) (time.Time, error) {
	var err error
	for _, layout := range DateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
