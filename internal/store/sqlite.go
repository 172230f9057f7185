package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

// SQLiteStore keeps instruments, bars and backtest runs in one SQLite file.
// It implements BarSource and RunStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Instrument metadata
	CREATE TABLE IF NOT EXISTS instruments (
		symbol TEXT PRIMARY KEY,
		description TEXT,
		point_value REAL NOT NULL,
		currency TEXT,
		exchange TEXT,
		initial_margin REAL NOT NULL DEFAULT 0,
		maint_margin REAL NOT NULL DEFAULT 0,
		sector TEXT
	);

	-- Daily bars
	CREATE TABLE IF NOT EXISTS bars (
		symbol TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL DEFAULT 0,
		open_interest REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, timestamp)
	);

	-- Backtest runs
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		strategy TEXT NOT NULL,
		account TEXT NOT NULL,
		feed_start DATETIME,
		trade_start DATETIME,
		trade_end DATETIME,
		initial_cash REAL NOT NULL,
		final_equity REAL NOT NULL,
		total_return REAL,
		max_drawdown REAL,
		sharpe_ratio REAL,
		trade_count INTEGER NOT NULL DEFAULT 0
	);

	-- Completed trades per run
	CREATE TABLE IF NOT EXISTS run_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		units INTEGER NOT NULL,
		entry_date DATETIME NOT NULL,
		entry_price REAL NOT NULL,
		exit_date DATETIME NOT NULL,
		exit_price REAL NOT NULL,
		commissions REAL NOT NULL,
		net_profit REAL NOT NULL,
		trade_return REAL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_run_trades_run ON run_trades(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Instruments and bars
// ============================================================================

// SaveInstruments upserts instrument metadata.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, instruments []models.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instruments (symbol, description, point_value, currency, exchange, initial_margin, maint_margin, sector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, i := range instruments {
		if _, err := stmt.ExecContext(ctx, i.Symbol, i.Description, i.PointValue, i.Currency, i.Exchange, i.InitialMargin, i.MaintMargin, i.Sector); err != nil {
			return fmt.Errorf("failed to insert instrument %s: %w", i.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Instruments returns every stored instrument, ordered by symbol.
func (s *SQLiteStore) Instruments(ctx context.Context) ([]models.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, description, point_value, currency, exchange, initial_margin, maint_margin, sector
		FROM instruments
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var out []models.Instrument
	for rows.Next() {
		var i models.Instrument
		var desc, currency, exchange, sector sql.NullString
		if err := rows.Scan(&i.Symbol, &desc, &i.PointValue, &currency, &exchange, &i.InitialMargin, &i.MaintMargin, &sector); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		i.Description, i.Currency, i.Exchange, i.Sector = desc.String, currency.String, exchange.String, sector.String
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}
	return out, nil
}

// SaveBars upserts bars for symbol.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timestamp, open, high, low, close, volume, open_interest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Timestamp().UTC(), b.Open(), b.High(), b.Low(), b.Close(), b.Volume(), b.OpenInterest()); err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Bars returns the stored bars of symbol in time order.
func (s *SQLiteStore) Bars(ctx context.Context, symbol string) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, open_interest
		FROM bars
		WHERE symbol = ?
		ORDER BY timestamp ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var ts time.Time
		var o, h, l, c, volume, openInterest float64
		if err := rows.Scan(&ts, &o, &h, &l, &c, &volume, &openInterest); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bar, err := models.NewBar(ts.UTC(), o, h, l, c,
			models.WithVolume(volume), models.WithOpenInterest(openInterest))
		if err != nil {
			return nil, apperrors.NewDataError("bars", symbol, err.Error(), apperrors.ErrInvalidBar)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}
	return bars, nil
}

// BarRanges summarizes stored bars per symbol.
func (s *SQLiteStore) BarRanges(ctx context.Context) ([]BarRange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, MIN(timestamp), MAX(timestamp), COUNT(*)
		FROM bars
		GROUP BY symbol
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bar ranges: %w", err)
	}
	defer rows.Close()

	var out []BarRange
	for rows.Next() {
		var r BarRange
		var first, last string
		if err := rows.Scan(&r.Symbol, &first, &last, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan bar range: %w", err)
		}
		r.First, r.Last = parseDBTime(first), parseDBTime(last)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ============================================================================
// Runs
// ============================================================================

// SaveRun stores run and its trades in one transaction. A run without an ID
// gets a new UUID; CreatedAt defaults to now.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *models.RunRecord, trades []models.TradeRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.TradeCount = len(trades)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, strategy, account, feed_start, trade_start, trade_end, initial_cash, final_equity, total_return, max_drawdown, sharpe_ratio, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, run.Strategy, run.Account, run.FeedStart, run.TradeStart, run.TradeEnd,
		run.InitialCash, run.FinalEquity, run.TotalReturn, run.MaxDrawdown, run.SharpeRatio, run.TradeCount)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_trades (run_id, symbol, units, entry_date, entry_price, exit_date, exit_price, commissions, net_profit, trade_return)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, run.ID, t.Symbol, t.Units, t.EntryDate, t.EntryPrice, t.ExitDate, t.ExitPrice, t.Commissions, t.NetProfit, t.Return); err != nil {
			return fmt.Errorf("failed to save trade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `id, created_at, strategy, account, feed_start, trade_start, trade_end, initial_cash, final_equity, total_return, max_drawdown, sharpe_ratio, trade_count`

// Runs lists runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context, filter RunFilter) ([]models.RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE 1=1"
	args := []interface{}{}

	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Run returns a run by ID or by a unique ID prefix.
func (s *SQLiteStore) Run(ctx context.Context, id string) (*models.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id LIKE ? LIMIT 2", id+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	var found []*models.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "run %s", id)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// Trades returns the trades of a run ordered by entry date.
func (s *SQLiteStore) Trades(ctx context.Context, runID string) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, units, entry_date, entry_price, exit_date, exit_price, commissions, net_profit, trade_return
		FROM run_trades
		WHERE run_id = ?
		ORDER BY entry_date ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var ret sql.NullFloat64
		if err := rows.Scan(&t.Symbol, &t.Units, &t.EntryDate, &t.EntryPrice, &t.ExitDate, &t.ExitPrice, &t.Commissions, &t.NetProfit, &ret); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.EntryDate, t.ExitDate = t.EntryDate.UTC(), t.ExitDate.UTC()
		t.Return = ret.Float64
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// DeleteRun removes a run and its trades.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Wrapf(apperrors.ErrDataNotFound, "run %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*models.RunRecord, error) {
	var r models.RunRecord
	var feedStart, tradeStart, tradeEnd sql.NullTime
	var totalReturn, maxDD, sharpe sql.NullFloat64
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Strategy, &r.Account, &feedStart, &tradeStart, &tradeEnd,
		&r.InitialCash, &r.FinalEquity, &totalReturn, &maxDD, &sharpe, &r.TradeCount); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.FeedStart, r.TradeStart, r.TradeEnd = feedStart.Time.UTC(), tradeStart.Time.UTC(), tradeEnd.Time.UTC()
	r.TotalReturn, r.MaxDrawdown, r.SharpeRatio = totalReturn.Float64, maxDD.Float64, sharpe.Float64
	return &r, nil
}

// parseDBTime parses timestamps returned by aggregate queries, which the
// driver hands back as text.
func parseDBTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
