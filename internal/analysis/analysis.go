// Package analysis measures backtest results: per-trade bookkeeping from
// broker fills and portfolio returns sampled from account equity.
//
// Indicator computations live in the indicators subpackage.
package analysis
