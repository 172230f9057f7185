package models

import "time"

// TradeRecord is one completed round trip. Units is signed: positive for long trades.
type TradeRecord struct {
	Symbol      string    `json:"symbol" csv:"symbol"`
	Units       int       `json:"units" csv:"units"`
	EntryDate   time.Time `json:"entry_date" csv:"entryDate"`
	EntryPrice  float64   `json:"entry_price" csv:"entryPrice"`
	ExitDate    time.Time `json:"exit_date" csv:"exitDate"`
	ExitPrice   float64   `json:"exit_price" csv:"exitPrice"`
	Commissions float64   `json:"commissions" csv:"commissions"`
	NetProfit   float64   `json:"net_profit" csv:"profitLoss"`
	Return      float64   `json:"return" csv:"return"`
}

// IsLong reports whether the trade was a long trade.
func (t TradeRecord) IsLong() bool {
	return t.Units > 0
}

// HoldDuration returns the time between entry and exit.
func (t TradeRecord) HoldDuration() time.Duration {
	return t.ExitDate.Sub(t.EntryDate)
}

// RunRecord is the persisted summary of one backtest run.
type RunRecord struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Strategy    string    `json:"strategy"`
	Account     string    `json:"account"`
	FeedStart   time.Time `json:"feed_start"`
	TradeStart  time.Time `json:"trade_start"`
	TradeEnd    time.Time `json:"trade_end"`
	InitialCash float64   `json:"initial_cash"`
	FinalEquity float64   `json:"final_equity"`
	TotalReturn float64   `json:"total_return"`
	MaxDrawdown float64   `json:"max_drawdown"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	TradeCount  int       `json:"trade_count"`
}
