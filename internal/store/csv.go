package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	apperrors "hedge-backtester/internal/errors"
	"hedge-backtester/internal/models"
)

// DefaultBarHeader is assumed for bar files without a header row.
const DefaultBarHeader = "Date,Open,High,Low,Close,Volume,Open Interest"

type barRow struct {
	Date         string  `csv:"Date"`
	Open         float64 `csv:"Open"`
	High         float64 `csv:"High"`
	Low          float64 `csv:"Low"`
	Close        float64 `csv:"Close"`
	Volume       float64 `csv:"Volume"`
	OpenInterest float64 `csv:"Open Interest"`
}

// CSVSource reads an instrument manifest and one bar file per instrument.
// Bar files are resolved relative to DataDir, or to the manifest's
// directory when DataDir is empty.
type CSVSource struct {
	ManifestPath string
	DataDir      string
	Logger       zerolog.Logger

	mu          sync.Mutex
	instruments []models.Instrument
}

// NewCSVSource creates a CSV source for manifest.
func NewCSVSource(manifest, dataDir string, logger zerolog.Logger) *CSVSource {
	return &CSVSource{ManifestPath: manifest, DataDir: dataDir, Logger: logger}
}

// Instruments loads the manifest once. Symbols containing '?' are
// placeholders and are skipped. Safe for concurrent use.
func (s *CSVSource) Instruments(ctx context.Context) ([]models.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instruments != nil {
		return s.instruments, nil
	}
	f, err := os.Open(s.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	var rows []models.Instrument
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, apperrors.NewDataError("manifest", "", err.Error(), apperrors.ErrInvalidBar)
	}

	out := make([]models.Instrument, 0, len(rows))
	for _, inst := range rows {
		if strings.Contains(inst.Symbol, "?") {
			s.Logger.Warn().Str("symbol", inst.Symbol).Msg("Skipping unknown symbol")
			continue
		}
		out = append(out, inst)
	}
	s.instruments = out
	return out, nil
}

// Bars reads the bar file of symbol.
func (s *CSVSource) Bars(ctx context.Context, symbol string) ([]models.Bar, error) {
	instruments, err := s.Instruments(ctx)
	if err != nil {
		return nil, err
	}
	var inst *models.Instrument
	for i := range instruments {
		if instruments[i].Symbol == symbol {
			inst = &instruments[i]
			break
		}
	}
	if inst == nil {
		return nil, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "manifest %s", s.ManifestPath)
	}
	if inst.DataFile == "" {
		return nil, apperrors.NewDataError("bars", symbol, "no datafile in manifest", apperrors.ErrDataNotFound)
	}

	dir := s.DataDir
	if dir == "" {
		dir = filepath.Dir(s.ManifestPath)
	}
	data, err := os.ReadFile(filepath.Join(dir, inst.DataFile))
	if err != nil {
		return nil, apperrors.NewDataError("bars", symbol, err.Error(), apperrors.ErrDataNotFound)
	}
	return ReadBars(symbol, bytes.NewReader(data))
}

// ReadBars parses bar rows from r. A file whose first line does not start
// with the Date column is read with DefaultBarHeader.
func ReadBars(symbol string, r io.Reader) ([]models.Bar, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimLeft(data, "\ufeff\r\n ")
	if len(data) == 0 {
		return nil, nil
	}
	if !bytes.HasPrefix(data, []byte("Date")) {
		data = append([]byte(DefaultBarHeader+"\n"), data...)
	}

	var rows []barRow
	if err := gocsv.Unmarshal(bytes.NewReader(data), &rows); err != nil {
		return nil, apperrors.NewDataError("bars", symbol, err.Error(), apperrors.ErrInvalidBar)
	}

	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		ts, err := ParseDate(strings.TrimSpace(row.Date))
		if err != nil {
			return nil, apperrors.NewDataError("bars", symbol,
				fmt.Sprintf("row %d: bad date %q", i+1, row.Date), apperrors.ErrInvalidBar)
		}
		bar, err := models.NewBar(ts, row.Open, row.High, row.Low, row.Close,
			models.WithVolume(row.Volume), models.WithOpenInterest(row.OpenInterest))
		if err != nil {
			return nil, apperrors.NewDataError("bars", symbol, fmt.Sprintf("row %d: %v", i+1, err), apperrors.ErrInvalidBar)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type tradeRow struct {
	Description string  `csv:"description"`
	Symbol      string  `csv:"symbol"`
	Units       int     `csv:"units"`
	EntryDate   string  `csv:"entryDate"`
	EntryPrice  float64 `csv:"entryPrice"`
	ExitDate    string  `csv:"exitDate"`
	ExitPrice   float64 `csv:"exitPrice"`
	Commissions float64 `csv:"commissions"`
	ProfitLoss  float64 `csv:"profitLoss"`
}

// WriteTradesCSV writes trades as a CSV trade log. instruments may be nil;
// it only supplies descriptions.
func WriteTradesCSV(w io.Writer, trades []models.TradeRecord, instruments *models.InstrumentDB) error {
	rows := make([]*tradeRow, 0, len(trades))
	for _, t := range trades {
		row := &tradeRow{
			Symbol:      t.Symbol,
			Units:       t.Units,
			EntryDate:   t.EntryDate.Format(DateLayouts[0]),
			EntryPrice:  t.EntryPrice,
			ExitDate:    t.ExitDate.Format(DateLayouts[0]),
			ExitPrice:   t.ExitPrice,
			Commissions: t.Commissions,
			ProfitLoss:  t.NetProfit,
		}
		if instruments != nil {
			if inst, err := instruments.Get(t.Symbol); err == nil {
				row.Description = inst.Description
			}
		}
		rows = append(rows, row)
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing trades: %w", err)
	}
	return nil
}

// WriteTradesFile writes the trade log to path.
func WriteTradesFile(path string, trades []models.TradeRecord, instruments *models.InstrumentDB) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteTradesCSV(f, trades, instruments); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
